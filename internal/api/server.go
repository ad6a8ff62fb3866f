// Package api provides the operator HTTP API and WebSocket feed for the
// board bridge.
//
// It exposes bridge health, the broker connection history, recent board
// events and cached readings, and lets authorised operators send commands
// to boards.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tvcwb/boardbridge/internal/bridge"
	"github.com/tvcwb/boardbridge/internal/infrastructure/cache"
	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
	"github.com/tvcwb/boardbridge/internal/infrastructure/logging"
	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ConnectionState reports the live broker connection. *bridge.Manager
// implements it.
type ConnectionState interface {
	State() bridge.State
}

// CommandSender sends operator commands to boards. *bridge.Dispatcher
// implements it.
type CommandSender interface {
	SendTimeSync(board registry.Board) bool
	SendActuation(board registry.Board, value int) bool
}

// ReadingStore returns cached live readings. *cache.Cache implements it.
type ReadingStore interface {
	LatestReadings(ctx context.Context, mac string, sensorIDs []string) (map[string]cache.Reading, error)
}

// HealthChecker is a dependency probed by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   registry.Repository
	Connection ConnectionState
	Commands   CommandSender
	Readings   ReadingStore     // optional; nil when the cache is disabled
	Database   HealthChecker    // optional
	Metrics    *metrics.Metrics // optional
	Hub        *Hub             // optional; created by Start when nil
	Version    string
}

// Server is the operator HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   registry.Repository
	connection ConnectionState
	commands   CommandSender
	readings   ReadingStore
	database   HealthChecker
	metrics    *metrics.Metrics
	version    string
	server     *http.Server
	listener   net.Listener
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Connection == nil {
		return nil, fmt.Errorf("connection state is required")
	}
	// Commands are optional: without them the command routes answer 503.

	return &Server{
		cfg:        deps.Config,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		connection: deps.Connection,
		commands:   deps.Commands,
		readings:   deps.Readings,
		database:   deps.Database,
		metrics:    deps.Metrics,
		version:    deps.Version,
		hub:        deps.Hub,
	}, nil
}

// Hub returns the WebSocket hub. Register it as a bridge observer to feed
// recorded events to clients.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port conflict is
// reported here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
