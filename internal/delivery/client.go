// Package delivery sends one message to the external messaging channel,
// gated by the outbound rate limiter, with bounded retry and error
// classification.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/internal/ratelimit"
	"github.com/relayworks/chat-relay/pkg/logger"
	"github.com/relayworks/chat-relay/pkg/metrics"
)

// AuditStore records the last delivered message per recipient.
type AuditStore interface {
	RecordLastMessage(ctx context.Context, recipient, text string) error
}

// Client delivers messages through a Graph-API-style messages endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	phoneID    string
	token      string
	limiter    ratelimit.Limiter
	store      AuditStore
	attempts   int
	backoff    time.Duration
	logger     *logger.Logger
}

// Config holds the delivery client's settings.
type Config struct {
	BaseURL     string
	PhoneID     string
	AccessToken string
	// Attempts is the total attempt ceiling for retryable failures.
	Attempts int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
}

// New creates a delivery client.
func New(cfg Config, limiter ratelimit.Limiter, store AuditStore, log *logger.Logger) *Client {
	attempts := cfg.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.BaseURL,
		phoneID:    cfg.PhoneID,
		token:      cfg.AccessToken,
		limiter:    limiter,
		store:      store,
		attempts:   attempts,
		backoff:    cfg.Backoff,
		logger:     log,
	}
}

// outboundMessage is the channel API request body.
type outboundMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             outboundText `json:"text"`
}

type outboundText struct {
	Body string `json:"body"`
}

// sendResponse is the channel API success body.
type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// errorResponse is the channel API error body.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send delivers text to recipient. Server-side failures are retried with
// exponential backoff up to the attempt ceiling; a recipient-not-permitted
// rejection fails after exactly one attempt; any other error propagates
// immediately.
func (c *Client) Send(ctx context.Context, recipient, text string) (*model.Receipt, error) {
	var receipt *model.Receipt
	first := true

	operation := func() error {
		if !first {
			metrics.DeliveryRetries.Inc()
		}
		first = false

		// Every attempt consumes a slot from the outbound budget.
		if err := c.limiter.Acquire(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("acquire send slot: %w", err))
		}

		r, err := c.attempt(ctx, recipient, text)
		if err != nil {
			return classify(err)
		}
		receipt = r
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.attempts-1)), ctx))
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.DeliveriesTotal.WithLabelValues("success").Inc()

	if err := c.store.RecordLastMessage(ctx, recipient, text); err != nil {
		// Audit trail only; the message is already delivered.
		c.logger.Warn("last message record failed",
			zap.String("recipient", recipient), zap.Error(err))
	}

	return receipt, nil
}

// attempt performs one outbound API call.
func (c *Client) attempt(ctx context.Context, recipient, text string) (*model.Receipt, error) {
	body, err := json.Marshal(outboundMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             outboundText{Body: text},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal outbound message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send to channel: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read channel response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errBody errorResponse
		if err := json.Unmarshal(respBody, &errBody); err == nil {
			apiErr.Code = errBody.Error.Code
			apiErr.Message = errBody.Error.Message
		}
		return nil, apiErr
	}

	var ok sendResponse
	if err := json.Unmarshal(respBody, &ok); err != nil {
		return nil, fmt.Errorf("decode channel response: %w", err)
	}

	receipt := &model.Receipt{Recipient: recipient, SentAt: time.Now()}
	if len(ok.Messages) > 0 {
		receipt.MessageID = ok.Messages[0].ID
	}
	return receipt, nil
}

// classify maps a delivery error onto the retry policy: recipient-not-
// permitted and client-side errors are permanent, server-side errors retry.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeRecipientNotAllowed {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrRecipientNotPermitted, apiErr.Message))
		}
		if apiErr.Retryable() {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Permanent(err)
}
