// Board Bridge - telemetry ingestion for field control boards
//
// This is the main entry point for the board bridge. It subscribes to the
// boards' status topics on an MQTT broker, stores readings and status codes
// in the registry database, answers time-sync requests, and tells operators
// when the broker stays unreachable.
//
// Usage:
//
//	boardbridge              run the bridge (config from BOARDBRIDGE_CONFIG)
//	boardbridge token NAME   print an operator token for the command API
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tvcwb/boardbridge/migrations"

	"github.com/tvcwb/boardbridge/internal/api"
	"github.com/tvcwb/boardbridge/internal/bridge"
	"github.com/tvcwb/boardbridge/internal/infrastructure/cache"
	"github.com/tvcwb/boardbridge/internal/infrastructure/config"
	"github.com/tvcwb/boardbridge/internal/infrastructure/database"
	"github.com/tvcwb/boardbridge/internal/infrastructure/influxdb"
	"github.com/tvcwb/boardbridge/internal/infrastructure/logging"
	"github.com/tvcwb/boardbridge/internal/infrastructure/mqtt"
	"github.com/tvcwb/boardbridge/internal/metrics"
	"github.com/tvcwb/boardbridge/internal/notify"
	"github.com/tvcwb/boardbridge/internal/registry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// operatorTokenTTL is the lifetime of tokens printed by "token".
	operatorTokenTTL = 30 * 24 * time.Hour

	startupCheckTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup sequence
	log := logging.Default()
	log.Info("starting board bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Registry
	store, err := openRegistry(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := store.close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	repo := store.repo

	seeded, err := repo.SeedBrokerEndpoint(ctx, brokerEndpoint(cfg.MQTT))
	if err != nil {
		return fmt.Errorf("seeding broker endpoint: %w", err)
	}
	if seeded {
		log.Info("broker endpoint seeded from config",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		)
	}

	m := metrics.New()

	// Time-series mirror (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Live reading cache (optional)
	var readingCache *cache.Cache
	if cfg.Cache.Enabled {
		readingCache, err = cache.Connect(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("connecting to cache: %w", err)
		}
		defer func() {
			log.Info("closing cache connection")
			if closeErr := readingCache.Close(); closeErr != nil {
				log.Error("error closing cache", "error", closeErr)
			}
		}()
		log.Info("cache connected", "addr", cfg.Cache.Addr)
	} else {
		log.Info("reading cache disabled")
	}

	if err := healthCheck(ctx, store.health, influxClient, readingCache); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Bridge
	manager := bridge.NewManager(bridge.ManagerConfig{
		StatusWildcard: cfg.Bridge.Topics.StatusWildcard,
		QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // Validated to 0-2
		RetryDelay:     cfg.GetRetryDelay(),
		OutageGrace:    cfg.GetOutageGrace(),
		Recipients:     cfg.Notify.Recipients,
		SubjectPrefix:  cfg.Notify.SubjectPrefix,
		SiteID:         cfg.Site.ID,
	}, repo, bridge.PahoDialer(mqtt.NewDialer(cfg.MQTT, log.Component("mqtt"))))
	manager.SetLogger(log.Component("manager"))
	manager.SetMetrics(m)
	manager.SetNotifier(newNotifier(cfg.Notify, log))

	layout := bridge.LayoutFromConfig(cfg.Bridge.Topics.Layout)
	dispatcher := bridge.NewDispatcher(bridge.DispatcherConfig{
		CommandPrefix: cfg.Bridge.Topics.CommandPrefix,
		TimeSyncCode:  cfg.Bridge.Commands.TimeSyncCode,
		Layout:        layout,
	}, manager, log.Component("dispatcher"), m)

	recorder := bridge.NewRecorder(repo, dispatcher, log.Component("recorder"), m)
	pipeline := bridge.NewPipeline(bridge.NewResolver(layout, repo), recorder, log.Component("pipeline"), m)

	if influxClient != nil {
		mirror := bridge.TimeSeriesObserver(influxClient)
		recorder.AddObserver(mirror)
		manager.AddObserver(mirror)
	}
	if readingCache != nil {
		recorder.AddObserver(bridge.CacheObserver(readingCache, log.Component("cache")))
	}

	// Operator API
	if cfg.API.Enabled {
		hub := api.NewHub(log.Component("websocket"))
		recorder.AddObserver(hub)
		manager.AddObserver(hub)

		deps := api.Deps{
			Config:     cfg.API,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Registry:   repo,
			Connection: manager,
			Commands:   dispatcher,
			Database:   store.health,
			Metrics:    m,
			Hub:        hub,
			Version:    version,
		}
		if readingCache != nil {
			deps.Readings = readingCache
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("no JWT secret configured, operator commands are disabled")
		}
	} else {
		log.Info("API server disabled")
	}

	if err := manager.Start(ctx, pipeline); err != nil {
		return fmt.Errorf("starting connection manager: %w", err)
	}
	defer func() {
		log.Info("stopping connection manager")
		manager.Stop()
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path from environment or default.
func getConfigPath() string {
	if path := os.Getenv("BOARDBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// registryStore is an open registry backend.
type registryStore struct {
	repo   registry.Repository
	health api.HealthChecker
	close  func() error
}

// openRegistry opens and migrates the configured registry database.
func openRegistry(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*registryStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := database.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database connected", "driver", cfg.Driver)
		return &registryStore{
			repo:   registry.NewPostgresRepository(pool.Pool),
			health: pool,
			close:  pool.Close,
		}, nil

	default:
		db, err := database.Open(database.Config{
			Path:        cfg.Path,
			WALMode:     cfg.WALMode,
			BusyTimeout: cfg.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close() //nolint:errcheck // Already failing
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database connected", "driver", config.DriverSQLite, "path", cfg.Path)
		return &registryStore{
			repo:   registry.NewSQLiteRepository(db.DB),
			health: db,
			close:  db.Close,
		}, nil
	}
}

// brokerEndpoint is the endpoint record seeded into an empty registry.
func brokerEndpoint(cfg config.MQTTConfig) registry.BrokerEndpoint {
	return registry.BrokerEndpoint{
		ID:             registry.BrokerEndpointID,
		Hostname:       cfg.Broker.Host,
		Port:           cfg.Broker.Port,
		ConnectTimeout: time.Duration(cfg.Broker.ConnectTimeout) * time.Second,
		ClientID:       cfg.Broker.ClientID,
	}
}

// newNotifier picks SMTP when configured and falls back to the log.
func newNotifier(cfg config.NotifyConfig, log *logging.Logger) bridge.Notifier {
	if cfg.SMTP.Enabled {
		log.Info("outage notifications by e-mail",
			"smtp", fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port),
			"static_recipients", len(cfg.Recipients),
		)
		return notify.NewSMTPNotifier(cfg.SMTP, log.Component("notify"))
	}
	log.Info("SMTP disabled, outage notifications are logged only")
	return notify.NewLogNotifier(log.Component("notify"))
}

// healthCheck verifies all connected services are reachable.
func healthCheck(ctx context.Context, db api.HealthChecker, influxClient *influxdb.Client, readingCache *cache.Cache) error {
	ctx, cancel := context.WithTimeout(ctx, startupCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if readingCache != nil {
		if err := readingCache.HealthCheck(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

// printToken prints an operator token signed with the configured secret.
func printToken(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: boardbridge token NAME")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, args[0], operatorTokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
