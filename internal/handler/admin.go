package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/pkg/logger"
)

// StateClearer wipes all relay state.
type StateClearer interface {
	Clear(ctx context.Context) error
}

// AdminHandler serves destructive operational endpoints.
type AdminHandler struct {
	store       StateClearer
	development bool
	logger      *logger.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(store StateClearer, development bool, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:       store,
		development: development,
		logger:      log,
	}
}

// Clear handles POST /admin/clear. Outside development mode the operation
// is refused.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !h.development {
		writeError(w, http.StatusForbidden, "clear is disabled outside development mode")
		return
	}

	if err := h.store.Clear(r.Context()); err != nil {
		h.logger.Error("state clear failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}

	h.logger.Warn("all relay state cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
