// Package llm provides completion backend interfaces and implementations.
package llm

import (
	"context"

	"github.com/relayworks/chat-relay/internal/model"
)

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []model.Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	Usage      model.Usage
	StopReason string
	LatencyMs  int64
}

// Client is the interface for completion providers. The pipeline's single
// external model call lives behind it so everything else can be tested with
// a substitute.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Provider is the type of completion provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// NewClient creates a new completion client for the given provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	default:
		return NewOpenAIClient(apiKey)
	}
}
