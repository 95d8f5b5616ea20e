// Package webhook is the ingestion boundary: it verifies the channel's
// webhook handshake, parses inbound payloads, and enqueues one job per text
// message.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/pkg/logger"
)

// maxMessageLength bounds accepted message text (~100KB).
const maxMessageLength = 100000

// Enqueuer accepts jobs for processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) error
}

// Handler serves the channel webhook endpoints.
type Handler struct {
	queue       Enqueuer
	verifyToken string
	logger      *logger.Logger
}

// NewHandler creates a webhook handler.
func NewHandler(queue Enqueuer, verifyToken string, log *logger.Logger) *Handler {
	return &Handler{
		queue:       queue,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// payload mirrors the channel's webhook body down to the fields the
// pipeline consumes.
type payload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	From string `json:"from"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// Verify handles GET /webhook: the subscription handshake. The challenge is
// echoed back when the verify token matches.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || q.Get("hub.verify_token") != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(q.Get("hub.challenge")))
}

// Receive handles POST /webhook: one job is enqueued per text message found.
// The response is always 200 for parseable bodies; the channel retries
// non-2xx responses and duplicates are absorbed by at-least-once
// processing.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	var body payload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, entry := range body.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "text" || !acceptable(msg.Text.Body) {
					continue
				}

				job := model.Job{Recipient: msg.From, Text: msg.Text.Body}
				if err := h.queue.Enqueue(r.Context(), job); err != nil {
					h.logger.Error("enqueue failed",
						zap.String("recipient", msg.From), zap.Error(err))
					continue
				}
			}
		}
	}

	w.WriteHeader(http.StatusOK)
}

// acceptable rejects empty, oversized, or non-UTF-8 message text.
func acceptable(text string) bool {
	return len(text) > 0 && len(text) <= maxMessageLength && utf8.ValidString(text)
}
