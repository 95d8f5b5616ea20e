package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/pkg/logger"
	"github.com/relayworks/chat-relay/pkg/metrics"
)

const (
	// StreamName is the name of the jobs stream.
	StreamName = "RELAY_JOBS"

	// JobSubject carries inbound-message jobs.
	JobSubject = "jobs.inbound"

	// ConsumerName is the durable consumer shared by worker processes.
	ConsumerName = "relay-worker"
)

// Handler processes one dequeued job. A returned error triggers the queue's
// retry policy.
type Handler func(ctx context.Context, job model.Job) error

// Counters records durable job outcomes so counts survive worker restarts.
type Counters interface {
	IncrCompleted(ctx context.Context)
	IncrFailed(ctx context.Context)
	JobCounts(ctx context.Context) (completed, failed int64)
}

// Queue is the durable work queue. Jobs are delivered at least once: a
// worker crash after processing but before acknowledgement redelivers the
// job.
type Queue struct {
	client      *Client
	counters    Counters
	maxDeliver  int
	backoffBase time.Duration
	logger      *logger.Logger

	consumer   jetstream.Consumer
	consumeCtx jetstream.ConsumeContext
}

// Config holds the queue's retry settings.
type Config struct {
	// MaxDeliver is the per-job attempt ceiling before the job is
	// permanently failed.
	MaxDeliver int
	// BackoffBase is the first retry delay; it doubles per delivery.
	BackoffBase time.Duration
}

// New creates a Queue on an established NATS client.
func New(client *Client, counters Counters, cfg Config, log *logger.Logger) *Queue {
	maxDeliver := cfg.MaxDeliver
	if maxDeliver < 1 {
		maxDeliver = 1
	}
	return &Queue{
		client:      client,
		counters:    counters,
		maxDeliver:  maxDeliver,
		backoffBase: cfg.BackoffBase,
		logger:      log,
	}
}

// EnsureStream ensures the jobs stream exists with work-queue retention.
func (q *Queue) EnsureStream(ctx context.Context) error {
	js := q.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{JobSubject},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Inbound chat messages awaiting a reply",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// Enqueue publishes a job. Missing ID and timestamp are filled in.
func (q *Queue) Enqueue(ctx context.Context, job model.Job) error {
	if job.ID == "" {
		job.ID = uuid.Must(uuid.NewV7()).String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := q.client.JetStream().Publish(ctx, JobSubject, data); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}

	q.logger.Debug("job enqueued",
		zap.String("job_id", job.ID), zap.String("recipient", job.Recipient))
	return nil
}

// Process registers the consumer handler and starts consuming. It returns
// once consumption is running; call Stop to drain and stop.
func (q *Queue) Process(ctx context.Context, handler Handler) error {
	consumer, err := q.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: JobSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    q.maxDeliver,
		Description:   "Relay pipeline worker",
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}
	q.consumer = consumer

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	q.consumeCtx = cc

	return nil
}

// handle runs one delivery of a job through the handler and translates the
// result into ack/retry/terminate. Handler failures never crash the worker.
func (q *Queue) handle(ctx context.Context, msg jetstream.Msg, handler Handler) {
	var job model.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		// A malformed payload can never succeed; drop it.
		q.logger.Error("job unmarshal failed, terminating", zap.Error(err))
		_ = msg.Term()
		q.counters.IncrFailed(ctx)
		metrics.JobsTotal.WithLabelValues("failed").Inc()
		return
	}

	delivered := 1
	if meta, err := msg.Metadata(); err == nil {
		delivered = int(meta.NumDelivered)
	}

	log := q.logger.WithJob(job.ID, job.Recipient)
	start := time.Now()

	if err := handler(ctx, job); err != nil {
		if delivered >= q.maxDeliver {
			log.Error("job failed permanently",
				zap.Int("attempts", delivered), zap.Error(err))
			_ = msg.Term()
			q.counters.IncrFailed(ctx)
			metrics.JobsTotal.WithLabelValues("failed").Inc()
			return
		}

		delay := retryDelay(q.backoffBase, delivered)
		log.Warn("job failed, scheduling retry",
			zap.Int("attempt", delivered), zap.Duration("delay", delay), zap.Error(err))
		_ = msg.NakWithDelay(delay)
		metrics.JobsTotal.WithLabelValues("retried").Inc()
		return
	}

	_ = msg.Ack()
	q.counters.IncrCompleted(ctx)
	metrics.JobsTotal.WithLabelValues("completed").Inc()
	metrics.JobDuration.Observe(time.Since(start).Seconds())
}

// Stop drains the consumer, letting in-flight jobs finish.
func (q *Queue) Stop() {
	if q.consumeCtx != nil {
		q.consumeCtx.Drain()
	}
}

// Stats returns a snapshot of queue state without mutating it. Waiting and
// active come from the consumer; completed and failed from the durable
// counters.
func (q *Queue) Stats(ctx context.Context) (model.QueueStats, error) {
	stats := model.QueueStats{}
	stats.Completed, stats.Failed = q.counters.JobCounts(ctx)

	consumer := q.consumer
	if consumer == nil {
		c, err := q.client.JetStream().Consumer(ctx, StreamName, ConsumerName)
		if err != nil {
			// No consumer yet: everything in the stream is waiting.
			stream, serr := q.client.JetStream().Stream(ctx, StreamName)
			if serr != nil {
				return stats, fmt.Errorf("failed to inspect queue: %w", serr)
			}
			info, serr := stream.Info(ctx)
			if serr != nil {
				return stats, fmt.Errorf("failed to inspect stream: %w", serr)
			}
			stats.Waiting = int64(info.State.Msgs)
			return stats, nil
		}
		consumer = c
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to inspect consumer: %w", err)
	}
	stats.Waiting = int64(info.NumPending)
	stats.Active = int64(info.NumAckPending)

	metrics.QueueDepth.WithLabelValues("waiting").Set(float64(stats.Waiting))
	metrics.QueueDepth.WithLabelValues("active").Set(float64(stats.Active))

	return stats, nil
}

// retryDelay doubles the base delay per completed delivery.
func retryDelay(base time.Duration, delivered int) time.Duration {
	delay := base
	for i := 1; i < delivered; i++ {
		delay *= 2
	}
	return delay
}
