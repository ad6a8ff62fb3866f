package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tvcwb/boardbridge/internal/bridge"
	"github.com/tvcwb/boardbridge/internal/registry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500

	healthCheckTimeout = 3 * time.Second
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Broker   string `json:"broker"`
}

// handleHealth reports database reachability and the broker state. A lost
// broker degrades the bridge; a lost database makes it unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  s.version,
		Database: "ok",
		Broker:   string(s.connection.State()),
	}

	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Database = "unreachable"
			resp.Status = "unhealthy"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	if resp.Broker != string(bridge.StateConnected) {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

// connectionResponse is the body of GET /connection.
type connectionResponse struct {
	State   bridge.State                `json:"state"`
	Current *registry.ConnectionStatus  `json:"current"`
	History []registry.ConnectionStatus `json:"history"`
}

// handleConnection returns the live state, the latest recorded status and
// recent history, newest first.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	resp := connectionResponse{State: s.connection.State()}

	current, err := s.registry.LatestConnectionStatus(r.Context(), registry.BrokerEndpointID)
	switch {
	case err == nil:
		resp.Current = current
	case errors.Is(err, registry.ErrNoConnectionStatus):
	default:
		s.logger.Error("failed to load connection status", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load connection status")
		return
	}

	history, err := s.registry.ListConnectionStatus(r.Context(), registry.BrokerEndpointID, limit)
	if err != nil {
		s.logger.Error("failed to list connection history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load connection history")
		return
	}
	resp.History = nonNil(history)

	writeJSON(w, http.StatusOK, resp)
}

// handleListBoardEvents returns recent status codes of a board.
func (s *Server) handleListBoardEvents(w http.ResponseWriter, r *http.Request) {
	board, ok := s.lookupBoard(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := s.registry.ListBoardEvents(r.Context(), board.ID, limit)
	if err != nil {
		s.logger.Error("failed to list board events", "mac", board.MAC, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load board events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"board":  board,
		"events": nonNil(events),
		"count":  len(events),
	})
}

// sensorReading is one entry of GET /boards/{mac}/readings.
type sensorReading struct {
	SensorID    string     `json:"sensor_id"`
	Description string     `json:"description"`
	Precision   int        `json:"precision"`
	Value       *float64   `json:"value"`
	Timestamp   *time.Time `json:"timestamp"`
}

// handleLatestReadings lists a board's sensors with their cached latest
// value. Values are null when the cache is disabled, cold or unreachable.
func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	board, ok := s.lookupBoard(w, r)
	if !ok {
		return
	}

	sensors, err := s.registry.ListSensors(r.Context(), board.ID)
	if err != nil {
		s.logger.Error("failed to list sensors", "mac", board.MAC, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load sensors")
		return
	}

	out := make([]sensorReading, len(sensors))
	ids := make([]string, len(sensors))
	for i, sn := range sensors {
		ids[i] = sn.SensorID
		out[i] = sensorReading{
			SensorID:    sn.SensorID,
			Description: sn.Description,
			Precision:   sn.Precision,
		}
	}

	if s.readings != nil && len(ids) > 0 {
		cached, err := s.readings.LatestReadings(r.Context(), board.MAC, ids)
		if err != nil {
			s.logger.Warn("reading cache unavailable", "mac", board.MAC, "error", err)
		}
		for i := range out {
			if rd, ok := cached[out[i].SensorID]; ok {
				value, ts := rd.Value, rd.Timestamp
				out[i].Value = &value
				out[i].Timestamp = &ts
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"board":    board,
		"readings": out,
	})
}

// handleTimeSync sends the current time to a board.
func (s *Server) handleTimeSync(w http.ResponseWriter, r *http.Request) {
	board, ok := s.lookupBoard(w, r)
	if !ok {
		return
	}
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "commands are not available")
		return
	}

	s.logger.Info("operator command",
		"command", bridge.CommandTimeSync,
		"mac", board.MAC,
		"subject", r.Context().Value(ctxKeySubject),
	)
	s.commandResult(w, bridge.CommandTimeSync, s.commands.SendTimeSync(*board))
}

// actuationRequest is the body of POST /boards/{mac}/actuation.
type actuationRequest struct {
	Value *int `json:"value"`
}

// handleActuation sends an integer set-point to a board.
func (s *Server) handleActuation(w http.ResponseWriter, r *http.Request) {
	board, ok := s.lookupBoard(w, r)
	if !ok {
		return
	}

	var req actuationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}
	if s.commands == nil {
		writeError(w, http.StatusServiceUnavailable, "commands are not available")
		return
	}

	s.logger.Info("operator command",
		"command", bridge.CommandActuation,
		"mac", board.MAC,
		"value", *req.Value,
		"subject", r.Context().Value(ctxKeySubject),
	)
	s.commandResult(w, bridge.CommandActuation, s.commands.SendActuation(*board, *req.Value))
}

// commandResult maps a dispatcher outcome to a response. The dispatcher
// has already logged the cause of a failure.
func (s *Server) commandResult(w http.ResponseWriter, command string, sent bool) {
	switch {
	case sent:
		writeJSON(w, http.StatusAccepted, map[string]string{
			"command": command,
			"status":  "sent",
		})
	case s.connection.State() != bridge.StateConnected:
		writeError(w, http.StatusServiceUnavailable, "broker is not connected")
	default:
		writeError(w, http.StatusBadGateway, "command could not be published")
	}
}

// lookupBoard resolves the {mac} path parameter, writing the error
// response itself when it cannot.
func (s *Server) lookupBoard(w http.ResponseWriter, r *http.Request) (*registry.Board, bool) {
	mac := chi.URLParam(r, "mac")

	board, err := s.registry.FindBoardByMAC(r.Context(), mac)
	switch {
	case err == nil:
		return board, true
	case errors.Is(err, registry.ErrInvalidMAC):
		writeError(w, http.StatusBadRequest, "invalid MAC address")
	case errors.Is(err, registry.ErrBoardNotFound):
		writeError(w, http.StatusNotFound, "board not found")
	default:
		s.logger.Error("failed to look up board", "mac", mac, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up board")
	}
	return nil, false
}

// parseLimit reads the optional limit query parameter.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
