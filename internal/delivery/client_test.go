package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayworks/chat-relay/pkg/logger"
)

type countingLimiter struct {
	acquired int
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.acquired++
	return nil
}

type fakeAudit struct {
	recipient string
	text      string
	err       error
}

func (a *fakeAudit) RecordLastMessage(ctx context.Context, recipient, text string) error {
	a.recipient = recipient
	a.text = text
	return a.err
}

func newTestClient(serverURL string, limiter *countingLimiter, audit *fakeAudit) *Client {
	return New(Config{
		BaseURL:     serverURL,
		PhoneID:     "123456",
		AccessToken: "test-token",
		Attempts:    3,
		Backoff:     time.Millisecond,
	}, limiter, audit, logger.NewNop())
}

func channelError(w http.ResponseWriter, status, code int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func TestSendSuccess(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		assert.Equal(t, "/123456/messages", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body outboundMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "27821234567", body.To)
		assert.Equal(t, "hi there", body.Text.Body)

		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.test1"}},
		})
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	audit := &fakeAudit{}
	c := newTestClient(server.URL, limiter, audit)

	receipt, err := c.Send(context.Background(), "27821234567", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "wamid.test1", receipt.MessageID)
	assert.Equal(t, "27821234567", receipt.Recipient)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, limiter.acquired)

	// Success records the audit trail.
	assert.Equal(t, "27821234567", audit.recipient)
	assert.Equal(t, "hi there", audit.text)
}

func TestSendRetryCeilingOnServerError(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		channelError(w, http.StatusInternalServerError, 0, "upstream down")
	}))
	defer server.Close()

	limiter := &countingLimiter{}
	c := newTestClient(server.URL, limiter, &fakeAudit{})

	_, err := c.Send(context.Background(), "27821234567", "hi")
	require.Error(t, err)
	assert.Equal(t, 3, attempts, "retryable failures are attempted exactly 3 times")
	assert.Equal(t, 3, limiter.acquired, "each attempt consumes a send slot")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestSendRecoversAfterServerError(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			channelError(w, http.StatusBadGateway, 0, "flaky")
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.ok"}},
		})
	}))
	defer server.Close()

	c := newTestClient(server.URL, &countingLimiter{}, &fakeAudit{})

	receipt, err := c.Send(context.Background(), "27821234567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ok", receipt.MessageID)
	assert.Equal(t, 3, attempts)
}

func TestSendRecipientNotPermitted(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		channelError(w, http.StatusForbidden, codeRecipientNotAllowed, "recipient not in allowed list")
	}))
	defer server.Close()

	c := newTestClient(server.URL, &countingLimiter{}, &fakeAudit{})

	_, err := c.Send(context.Background(), "27829999999", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRecipientNotPermitted))
	assert.Equal(t, 1, attempts, "non-retryable rejection is attempted exactly once")
}

func TestSendClientErrorNoRetry(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		channelError(w, http.StatusBadRequest, 100, "invalid parameter")
	}))
	defer server.Close()

	c := newTestClient(server.URL, &countingLimiter{}, &fakeAudit{})

	_, err := c.Send(context.Background(), "27821234567", "hi")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRecipientNotPermitted))
	assert.Equal(t, 1, attempts)
}

func TestSendSucceedsWhenAuditWriteFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "wamid.ok"}},
		})
	}))
	defer server.Close()

	audit := &fakeAudit{err: errors.New("redis gone")}
	c := newTestClient(server.URL, &countingLimiter{}, audit)

	receipt, err := c.Send(context.Background(), "27821234567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "wamid.ok", receipt.MessageID)
}
