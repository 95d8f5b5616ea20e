// Package handler provides the relay's status and admin HTTP surface.
package handler

import (
	"context"
	"net/http"
)

// QueueConn reports connectivity to the queue backend.
type QueueConn interface {
	IsConnected() bool
}

// StoreConn reports connectivity to the state store.
type StoreConn interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	queueConn QueueConn
	storeConn StoreConn
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(queueConn QueueConn, storeConn StoreConn) *HealthHandler {
	return &HealthHandler{
		queueConn: queueConn,
		storeConn: storeConn,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.queueConn == nil || !h.queueConn.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "queue not connected",
		})
		return
	}

	if h.storeConn == nil || h.storeConn.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store not reachable",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
