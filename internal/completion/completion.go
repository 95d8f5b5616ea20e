// Package completion turns an inbound user message into a reply, consulting
// the response cache and conversation history before calling the completion
// backend. Failures are absorbed into a fixed fallback so the pipeline
// always has a message to deliver.
package completion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/llm"
	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/internal/persona"
	"github.com/relayworks/chat-relay/pkg/logger"
	"github.com/relayworks/chat-relay/pkg/metrics"
)

// Fallback is delivered when any step of obtaining a real completion fails.
const Fallback = "Sorry, I'm having trouble answering right now. Please try again in a moment."

// ConversationStore is the slice of the store the completion client needs.
type ConversationStore interface {
	History(ctx context.Context, userID string) model.History
	AppendTurn(ctx context.Context, userID string, pair []model.Message, usageDelta int) (model.History, error)
	CachedReply(ctx context.Context, text string) (model.CachedReply, bool)
	StoreReply(ctx context.Context, text string, reply model.CachedReply) error
}

// Client obtains replies for inbound messages.
type Client struct {
	store       ConversationStore
	persona     persona.Source
	backend     llm.Client
	model       string
	maxTokens   int
	temperature float64
	tokenCap    int
	logger      *logger.Logger
}

// Config holds the completion client's tunables.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// TokenCap bounds the assembled prompt; oldest turns are dropped first
	// when history growth threatens to exceed it.
	TokenCap int
}

// New creates a completion client.
func New(store ConversationStore, src persona.Source, backend llm.Client, cfg Config, log *logger.Logger) *Client {
	return &Client{
		store:       store,
		persona:     src,
		backend:     backend,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		tokenCap:    cfg.TokenCap,
		logger:      log,
	}
}

// Reply returns the generated reply and its usage for one inbound message.
// It never returns an error: any failure yields the Fallback text with zero
// usage. A cache hit returns immediately without touching history or token
// accounting; the cache key is the raw text, shared across users.
func (c *Client) Reply(ctx context.Context, userID, text string) (string, model.Usage) {
	if cached, ok := c.store.CachedReply(ctx, text); ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached.Content, cached.Usage
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	// History and persona come from independent sources; fetch them in
	// parallel.
	histCh := make(chan model.History, 1)
	go func() {
		histCh <- c.store.History(ctx, userID)
	}()
	personaText := c.persona.Text()
	hist := <-histCh

	prompt := c.buildPrompt(personaText, hist.Messages, text)

	start := time.Now()
	resp, err := c.backend.Complete(ctx, &llm.CompletionRequest{
		Model:       c.model,
		Messages:    prompt,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		metrics.RecordCompletion(c.backend.Name(), "error", time.Since(start).Seconds(), 0, 0)
		c.logger.Error("completion call failed, using fallback",
			zap.String("user_id", userID), zap.Error(err))
		return Fallback, model.Usage{}
	}
	metrics.RecordCompletion(c.backend.Name(), "success", time.Since(start).Seconds(),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	pair := []model.Message{
		{Role: model.RoleUser, Content: text},
		{Role: model.RoleAssistant, Content: resp.Content},
	}
	if _, err := c.store.AppendTurn(ctx, userID, pair, resp.Usage.TotalTokens); err != nil {
		c.logger.Error("history update failed, using fallback",
			zap.String("user_id", userID), zap.Error(err))
		return Fallback, model.Usage{}
	}

	if err := c.store.StoreReply(ctx, text, model.CachedReply{Content: resp.Content, Usage: resp.Usage}); err != nil {
		// The reply is already committed to history; a cold cache only
		// costs a future backend call.
		c.logger.Warn("completion cache write failed", zap.Error(err))
	}

	return resp.Content, resp.Usage
}

// buildPrompt assembles [persona, ...history, user message], dropping the
// oldest history turns while the estimated prompt size exceeds the cap.
func (c *Client) buildPrompt(personaText string, history []model.Message, text string) []model.Message {
	fixed := estimateTokens(personaText) + estimateTokens(text)

	historyTokens := 0
	for _, msg := range history {
		historyTokens += estimateTokens(msg.Content)
	}

	trimmed := history
	for fixed+historyTokens > c.tokenCap && len(trimmed) >= 2 {
		historyTokens -= estimateTokens(trimmed[0].Content) + estimateTokens(trimmed[1].Content)
		trimmed = trimmed[2:]
	}
	if len(trimmed) != len(history) {
		c.logger.Info("prompt over token cap, dropped oldest turns",
			zap.Int("dropped_messages", len(history)-len(trimmed)))
	}

	prompt := make([]model.Message, 0, len(trimmed)+2)
	prompt = append(prompt, model.Message{Role: model.RoleSystem, Content: personaText})
	prompt = append(prompt, trimmed...)
	prompt = append(prompt, model.Message{Role: model.RoleUser, Content: text})
	return prompt
}

// estimateTokens approximates token usage at roughly four characters per
// token, which is close enough for budget enforcement.
func estimateTokens(s string) int {
	return len(s)/4 + 1
}
