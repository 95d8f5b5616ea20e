// Package pipeline is the worker loop: dequeue a job, obtain a completion,
// deliver the reply, acknowledge or fail the job.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/internal/queue"
	"github.com/relayworks/chat-relay/pkg/logger"
)

// Completer obtains a reply for an inbound message. Implementations absorb
// their own failures into a fallback reply.
type Completer interface {
	Reply(ctx context.Context, userID, text string) (string, model.Usage)
}

// Deliverer sends one message to the external channel.
type Deliverer interface {
	Send(ctx context.Context, recipient, text string) (*model.Receipt, error)
}

// JobQueue is the slice of the queue the pipeline drives.
type JobQueue interface {
	Process(ctx context.Context, handler queue.Handler) error
	Stop()
}

// Pipeline wires the completion and delivery stages onto the job queue.
type Pipeline struct {
	queue      JobQueue
	completion Completer
	delivery   Deliverer
	logger     *logger.Logger
}

// New creates a pipeline.
func New(q JobQueue, completion Completer, delivery Deliverer, log *logger.Logger) *Pipeline {
	return &Pipeline{
		queue:      q,
		completion: completion,
		delivery:   delivery,
		logger:     log,
	}
}

// Start registers the handler and begins consuming jobs.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.queue.Process(ctx, p.Handle)
}

// Stop drains in-flight jobs and stops consuming.
func (p *Pipeline) Stop() {
	p.queue.Stop()
}

// Handle processes one job. The completion stage cannot fail the job (it
// falls back to a fixed reply); only a delivery error fails the job and
// re-enters the queue's retry policy.
func (p *Pipeline) Handle(ctx context.Context, job model.Job) error {
	log := p.logger.WithJob(job.ID, job.Recipient)

	content, usage := p.completion.Reply(ctx, job.Recipient, job.Text)

	receipt, err := p.delivery.Send(ctx, job.Recipient, content)
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}

	log.Info("reply delivered",
		zap.String("message_id", receipt.MessageID),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("total_tokens", usage.TotalTokens),
	)

	return nil
}
