package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/pkg/logger"
)

// QueueInspector exposes read-only queue state.
type QueueInspector interface {
	Stats(ctx context.Context) (model.QueueStats, error)
}

// ConversationInspector exposes read-only conversation aggregates.
type ConversationInspector interface {
	TokenTotals(ctx context.Context) (map[string]int, int, error)
}

// StatsHandler serves the observability surface.
type StatsHandler struct {
	queue  QueueInspector
	store  ConversationInspector
	logger *logger.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(queue QueueInspector, store ConversationInspector, log *logger.Logger) *StatsHandler {
	return &StatsHandler{
		queue:  queue,
		store:  store,
		logger: log,
	}
}

// statsResponse is the GET /admin/stats body.
type statsResponse struct {
	Queue         model.QueueStats `json:"queue"`
	Conversations int              `json:"conversations"`
	TokensTotal   int              `json:"tokens_total"`
	TokensByUser  map[string]int   `json:"tokens_by_user"`
}

// Stats handles GET /admin/stats.
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	queueStats, err := h.queue.Stats(r.Context())
	if err != nil {
		h.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "queue not inspectable")
		return
	}

	totals, sum, err := h.store.TokenTotals(r.Context())
	if err != nil {
		h.logger.Error("token totals failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store not inspectable")
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Queue:         queueStats,
		Conversations: len(totals),
		TokensTotal:   sum,
		TokensByUser:  totals,
	})
}
