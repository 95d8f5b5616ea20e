// Package store provides the Redis-backed conversation state for the relay:
// per-user history, token accounting, the completion cache, and delivery
// audit records. All keys carry a TTL; the store is a cache, not long-term
// authoritative storage.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/internal/model"
	"github.com/relayworks/chat-relay/pkg/logger"
)

// Key prefixes for everything the relay persists.
const (
	historyPrefix   = "history:"
	tokenPrefix     = "tokenCount:"
	lastMsgPrefix   = "lastMessage:"
	cachePrefix     = "completionCache:"
	completedKey    = "jobs:completed"
	failedKey       = "jobs:failed"
	lastMessageTTL  = time.Hour
)

// Store wraps a Redis client with the relay's key schema.
type Store struct {
	rdb        redis.UniversalClient
	historyTTL time.Duration
	cacheTTL   time.Duration
	logger     *logger.Logger
}

// New creates a Store around an existing Redis client.
func New(rdb redis.UniversalClient, historyTTL, cacheTTL time.Duration, log *logger.Logger) *Store {
	return &Store{
		rdb:        rdb,
		historyTTL: historyTTL,
		cacheTTL:   cacheTTL,
		logger:     log,
	}
}

// Connect opens a Redis connection from a URL and verifies it with a ping.
func Connect(ctx context.Context, redisURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return client, nil
}

// History returns the conversation state for a user. Absent or unreadable
// state degrades to the empty default; the caller never sees an error.
func (s *Store) History(ctx context.Context, userID string) model.History {
	var hist model.History

	data, err := s.rdb.Get(ctx, historyPrefix+userID).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// First message from this user.
	case err != nil:
		s.logger.Warn("history read failed, using empty history",
			zap.String("user_id", userID), zap.Error(err))
		return model.History{}
	default:
		if err := json.Unmarshal(data, &hist.Messages); err != nil {
			s.logger.Warn("history unmarshal failed, using empty history",
				zap.String("user_id", userID), zap.Error(err))
			return model.History{}
		}
	}

	count, err := s.rdb.Get(ctx, tokenPrefix+userID).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("token count read failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	hist.TokenCount = count

	return hist
}

// AppendTurn appends a user/assistant pair to the history and folds the
// turn's usage into the token count, refreshing both TTLs.
//
// The read-modify-write is not transactional. A single user's messages are
// expected to serialize through the queue (single writer per key); two
// concurrent turns for the same user can race and one append may be lost.
func (s *Store) AppendTurn(ctx context.Context, userID string, pair []model.Message, usageDelta int) (model.History, error) {
	if len(pair) != 2 {
		return model.History{}, fmt.Errorf("append turn expects a user/assistant pair, got %d messages", len(pair))
	}

	hist := s.History(ctx, userID)
	hist.Messages = append(hist.Messages, pair...)
	hist.TokenCount += usageDelta

	data, err := json.Marshal(hist.Messages)
	if err != nil {
		return model.History{}, fmt.Errorf("marshal history: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, historyPrefix+userID, data, s.historyTTL)
	pipe.Set(ctx, tokenPrefix+userID, hist.TokenCount, s.historyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return model.History{}, fmt.Errorf("write history for %s: %w", userID, err)
	}

	return hist, nil
}

// CachedReply looks up a completion by the raw inbound text. The second
// return value reports whether the cache held an entry.
func (s *Store) CachedReply(ctx context.Context, text string) (model.CachedReply, bool) {
	data, err := s.rdb.Get(ctx, cachePrefix+text).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("completion cache read failed", zap.Error(err))
		}
		return model.CachedReply{}, false
	}

	var cached model.CachedReply
	if err := json.Unmarshal(data, &cached); err != nil {
		s.logger.Warn("completion cache unmarshal failed", zap.Error(err))
		return model.CachedReply{}, false
	}

	return cached, true
}

// StoreReply caches a completion under the raw inbound text.
func (s *Store) StoreReply(ctx context.Context, text string, reply model.CachedReply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("marshal cached reply: %w", err)
	}
	if err := s.rdb.Set(ctx, cachePrefix+text, data, s.cacheTTL).Err(); err != nil {
		return fmt.Errorf("write completion cache: %w", err)
	}
	return nil
}

// RecordLastMessage keeps the most recent delivered message per recipient
// for one hour as a diagnostic trail.
func (s *Store) RecordLastMessage(ctx context.Context, recipient, text string) error {
	if err := s.rdb.Set(ctx, lastMsgPrefix+recipient, text, lastMessageTTL).Err(); err != nil {
		return fmt.Errorf("record last message for %s: %w", recipient, err)
	}
	return nil
}

// LastMessage returns the last delivered message for a recipient, or empty
// if none is recorded.
func (s *Store) LastMessage(ctx context.Context, recipient string) string {
	text, err := s.rdb.Get(ctx, lastMsgPrefix+recipient).Result()
	if err != nil {
		return ""
	}
	return text
}

// IncrCompleted bumps the durable completed-jobs counter.
func (s *Store) IncrCompleted(ctx context.Context) {
	if err := s.rdb.Incr(ctx, completedKey).Err(); err != nil {
		s.logger.Warn("completed counter increment failed", zap.Error(err))
	}
}

// IncrFailed bumps the durable failed-jobs counter.
func (s *Store) IncrFailed(ctx context.Context) {
	if err := s.rdb.Incr(ctx, failedKey).Err(); err != nil {
		s.logger.Warn("failed counter increment failed", zap.Error(err))
	}
}

// JobCounts returns the completed and failed job counters.
func (s *Store) JobCounts(ctx context.Context) (completed, failed int64) {
	completed, _ = s.rdb.Get(ctx, completedKey).Int64()
	failed, _ = s.rdb.Get(ctx, failedKey).Int64()
	return completed, failed
}

// TokenTotals aggregates the token count keys across all live conversations.
func (s *Store) TokenTotals(ctx context.Context) (map[string]int, int, error) {
	totals := make(map[string]int)
	sum := 0

	iter := s.rdb.Scan(ctx, 0, tokenPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		count, err := s.rdb.Get(ctx, key).Int()
		if err != nil {
			continue
		}
		totals[key[len(tokenPrefix):]] = count
		sum += count
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan token counts: %w", err)
	}

	return totals, sum, nil
}

// Clear deletes all relay state. Destructive; the caller must gate this
// behind development mode.
func (s *Store) Clear(ctx context.Context) error {
	prefixes := []string{historyPrefix, tokenPrefix, lastMsgPrefix, cachePrefix, "jobs:"}

	for _, prefix := range prefixes {
		iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("clear %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s keys: %w", prefix, err)
		}
	}

	return nil
}

// Ping reports whether Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
