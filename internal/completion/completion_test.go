package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/chat-relay/internal/llm"
	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/internal/persona"
	"github.com/relayworks/chat-relay/internal/store"
	"github.com/relayworks/chat-relay/pkg/logger"
)

type fakeBackend struct {
	calls   int
	lastReq *llm.CompletionRequest
	content string
	usage   model.Usage
	err     error
}

func (f *fakeBackend) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{
		Content: f.content,
		Usage:   f.usage,
	}, nil
}

func (f *fakeBackend) Name() string { return "fake" }

func newTestClient(t *testing.T, backend llm.Client, tokenCap int) (*Client, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb, 24*time.Hour, time.Hour, logger.NewNop())

	c := New(st, persona.Static("You are a test bot."), backend, Config{
		Model:       "test-model",
		MaxTokens:   256,
		Temperature: 0.7,
		TokenCap:    tokenCap,
	}, logger.NewNop())
	return c, st
}

func TestReplyFirstTurn(t *testing.T) {
	backend := &fakeBackend{
		content: "<reply>",
		usage:   model.Usage{PromptTokens: 30, CompletionTokens: 12, TotalTokens: 42},
	}
	c, st := newTestClient(t, backend, 120000)
	ctx := context.Background()

	content, usage := c.Reply(ctx, "27821234567", "hello")

	assert.Equal(t, "<reply>", content)
	assert.Equal(t, 42, usage.TotalTokens)

	hist := st.History(ctx, "27821234567")
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, model.Message{Role: model.RoleUser, Content: "hello"}, hist.Messages[0])
	assert.Equal(t, model.Message{Role: model.RoleAssistant, Content: "<reply>"}, hist.Messages[1])
	assert.Equal(t, 42, hist.TokenCount)

	// Prompt was [persona, user message].
	require.NotNil(t, backend.lastReq)
	require.Len(t, backend.lastReq.Messages, 2)
	assert.Equal(t, model.RoleSystem, backend.lastReq.Messages[0].Role)
	assert.Equal(t, "You are a test bot.", backend.lastReq.Messages[0].Content)
	assert.Equal(t, model.RoleUser, backend.lastReq.Messages[1].Role)
}

func TestReplyIncludesHistory(t *testing.T) {
	backend := &fakeBackend{content: "r", usage: model.Usage{TotalTokens: 10}}
	c, _ := newTestClient(t, backend, 120000)
	ctx := context.Background()

	c.Reply(ctx, "u1", "first")
	c.Reply(ctx, "u1", "second")

	// Second prompt: persona + first turn (2 messages) + new user message.
	require.Len(t, backend.lastReq.Messages, 4)
	assert.Equal(t, "first", backend.lastReq.Messages[1].Content)
	assert.Equal(t, "second", backend.lastReq.Messages[3].Content)
}

func TestCacheIdempotence(t *testing.T) {
	backend := &fakeBackend{
		content: "cached answer",
		usage:   model.Usage{TotalTokens: 42},
	}
	c, st := newTestClient(t, backend, 120000)
	ctx := context.Background()

	content1, usage1 := c.Reply(ctx, "u1", "same text")
	content2, usage2 := c.Reply(ctx, "u2", "same text")

	assert.Equal(t, 1, backend.calls, "second identical text must not hit the backend")
	assert.Equal(t, content1, content2)
	assert.Equal(t, usage1, usage2)

	// A cache hit updates neither history nor token accounting.
	assert.Empty(t, st.History(ctx, "u2").Messages)
	assert.Zero(t, st.History(ctx, "u2").TokenCount)
}

func TestFallbackOnBackendError(t *testing.T) {
	backend := &fakeBackend{err: errors.New("model overloaded")}
	c, st := newTestClient(t, backend, 120000)
	ctx := context.Background()

	content, usage := c.Reply(ctx, "u1", "hello")

	assert.Equal(t, Fallback, content)
	assert.Zero(t, usage.TotalTokens)
	assert.Empty(t, st.History(ctx, "u1").Messages)

	// The fallback is never cached.
	_, ok := st.CachedReply(ctx, "hello")
	assert.False(t, ok)
}

type appendFailingStore struct {
	ConversationStore
}

func (s *appendFailingStore) AppendTurn(ctx context.Context, userID string, pair []model.Message, usageDelta int) (model.History, error) {
	return model.History{}, errors.New("redis gone")
}

func TestFallbackOnAppendError(t *testing.T) {
	backend := &fakeBackend{content: "r", usage: model.Usage{TotalTokens: 10}}
	c, st := newTestClient(t, backend, 120000)
	c.store = &appendFailingStore{ConversationStore: st}

	content, usage := c.Reply(context.Background(), "u1", "hello")
	assert.Equal(t, Fallback, content)
	assert.Zero(t, usage.TotalTokens)
}

func TestPromptTrimmedToTokenCap(t *testing.T) {
	backend := &fakeBackend{content: "r", usage: model.Usage{TotalTokens: 1}}
	// Cap small enough that only the most recent turns fit.
	c, st := newTestClient(t, backend, 60)
	ctx := context.Background()

	long := "0123456789012345678901234567890123456789" // ~11 tokens
	for i := 0; i < 5; i++ {
		_, err := st.AppendTurn(ctx, "u1", []model.Message{
			{Role: model.RoleUser, Content: long},
			{Role: model.RoleAssistant, Content: long},
		}, 1)
		require.NoError(t, err)
	}

	c.Reply(ctx, "u1", "latest")

	msgs := backend.lastReq.Messages
	assert.Less(t, len(msgs), 12, "oldest turns must be dropped")
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Equal(t, "latest", msgs[len(msgs)-1].Content)
	// History itself is untouched by trimming.
	assert.Len(t, st.History(ctx, "u1").Messages, 12)
}
