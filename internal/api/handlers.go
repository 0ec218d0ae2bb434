package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"streamindexer/internal/metrics"
	"streamindexer/internal/models"
	"streamindexer/internal/storage"
)

// maxDeliveryBytes bounds webhook bodies; a delivery is a handful of blocks,
// not an archive dump.
const maxDeliveryBytes = 16 << 20

// handleIndex returns basic service information
// GET / - Returns service info and available endpoints
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	info := map[string]interface{}{
		"service":     "Stream Indexer",
		"version":     "1.0.0",
		"description": "Off-chain ledger mirroring token vesting streams from chainhook deliveries",
		"endpoints": map[string]string{
			"GET /":             "This page - Service information",
			"GET /health":       "Health check endpoint",
			"GET /metrics":      "Prometheus metrics for monitoring",
			"POST /chainhook":   "Chainhook delivery webhook (authorized)",
			"GET /streams":      "List stream projections (supports ?address=, ?role=, ?filter=)",
			"GET /streams/{id}": "Get a single stream projection",
		},
	}

	s.sendJSON(w, http.StatusOK, info)
}

// handleHealth returns health status
// GET /health - Health check for monitoring systems
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repository.Ping(r.Context()); err != nil {
		slog.Error("Health check failed", "error", err)
		s.sendError(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "stream-indexer",
	})
}

// =============================================================================
// CHAINHOOK WEBHOOK
// =============================================================================

// handleChainhook ingests one delivery from the chain-indexing service.
// POST /chainhook
//
// Responds 200 even when individual events were rejected: redelivering a
// batch with a poisoned event would just fail the same way again, so bad
// events surface through logs and metrics instead. Only auth failures (401)
// and store failures (500) reject the delivery.
func (s *Server) handleChainhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDeliveryBytes))
	if err != nil {
		s.sendError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if err := s.authorizeDelivery(r.Header.Get("Authorization"), body); err != nil {
		metrics.AuthFailures.Inc()
		slog.Warn("Rejected chainhook delivery", "error", err, "remote", r.RemoteAddr)
		s.sendError(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var payload models.ChainhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Warn("Undecodable chainhook payload", "error", err)
		s.sendError(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	outcome, err := s.reconciler.ProcessDelivery(r.Context(), &payload)
	if err != nil {
		// Store-level failure: the whole batch is unprocessable. A 500 makes
		// the chain-indexing service redeliver it, which is safe because
		// every apply is idempotent.
		slog.Error("Delivery aborted",
			"delivery_id", outcome.DeliveryID,
			"error", err,
		)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, models.ChainhookResponse{Status: "ok"})
}

// =============================================================================
// STREAM READ API
// =============================================================================

// handleListStreams lists stream projections with derived vesting state.
// GET /streams?address=SP...&role=sender|recipient|both&filter=active
func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	address := query.Get("address")

	role := models.StreamRole(query.Get("role"))
	switch role {
	case models.RoleSender, models.RoleRecipient, models.RoleBoth:
	case "":
		role = models.RoleBoth
	default:
		s.sendError(w, "Invalid role, expected sender|recipient|both", http.StatusBadRequest)
		return
	}

	filter := models.StreamFilter(query.Get("filter"))
	switch filter {
	case models.FilterAll, models.FilterActive, models.FilterPaused, models.FilterCompleted, models.FilterCancelled:
	case "":
		filter = models.FilterAll
	default:
		s.sendError(w, "Invalid filter", http.StatusBadRequest)
		return
	}

	streams, err := s.repository.ListStreams(ctx, address, role)
	if err != nil {
		slog.Error("Failed to list streams", "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().Unix()
	responses := make([]models.StreamResponse, 0, len(streams))
	for _, stream := range streams {
		resp := buildStreamResponse(stream, now)
		if !matchesFilter(resp.Status, filter) {
			continue
		}
		responses = append(responses, resp)
	}

	s.sendJSON(w, http.StatusOK, models.StreamListResponse{
		Streams: responses,
		Total:   len(responses),
		Address: address,
		Role:    string(role),
	})
}

// handleGetStream returns a single projection with derived vesting state.
// GET /streams/{id}
func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.sendError(w, "Invalid stream id", http.StatusBadRequest)
		return
	}

	stream, err := s.repository.GetStream(r.Context(), id)
	if errors.Is(err, storage.ErrStreamNotFound) {
		s.sendError(w, "Stream not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to get stream", "stream_id", id, "error", err)
		s.sendError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.sendJSON(w, http.StatusOK, buildStreamResponse(stream, time.Now().Unix()))
}

func matchesFilter(status models.StreamStatus, filter models.StreamFilter) bool {
	switch filter {
	case models.FilterActive:
		return status == models.StatusActive
	case models.FilterPaused:
		return status == models.StatusPaused
	case models.FilterCompleted:
		return status == models.StatusCompleted
	case models.FilterCancelled:
		return status == models.StatusCancelled
	default:
		return true
	}
}
