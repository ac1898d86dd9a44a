// ABOUTME: Redis replay store keeping each conversation log in a sorted set scored by sequence
// ABOUTME: The key TTL is refreshed on every append so Redis expires idle logs itself

package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/converse-gateway/internal/envelope"
)

// DefaultKeyPrefix namespaces conversation logs.
const DefaultKeyPrefix = "conv:"

// RedisStore stores logs in Redis sorted sets.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	owned  bool
	logger *slog.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string, opts ...Option) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := NewRedisStoreFromClient(client, prefix, opts...)
	s.owned = true
	s.logger.Info("Redis replay store initialized", "addr", redisOpts.Addr, "prefix", s.prefix)
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Close leaves the client open.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, opts ...Option) *RedisStore {
	o := buildOptions(opts)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    o.ttl,
		logger: o.logger,
	}
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

// Append adds env and refreshes the key TTL in one round trip.
func (s *RedisStore) Append(ctx context.Context, conversationID string, env envelope.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	key := s.key(conversationID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(env.Sequence), Member: string(data)})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to %s: %w", key, err)
	}
	return nil
}

// Fetch returns envelopes with Sequence greater than after.
func (s *RedisStore) Fetch(ctx context.Context, conversationID string, after int64) ([]envelope.Envelope, error) {
	results, err := s.client.ZRangeByScore(ctx, s.key(conversationID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.key(conversationID), err)
	}

	out := make([]envelope.Envelope, 0, len(results))
	var lastEventID string
	for _, data := range results {
		var env envelope.Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			s.logger.Warn("skipping undecodable replay entry", "conversation_id", conversationID, "error", err)
			continue
		}
		// Equal scores order lexically, so a re-appended event with a changed
		// field sits next to its original
		if env.EventID != "" && env.EventID == lastEventID {
			continue
		}
		lastEventID = env.EventID
		out = append(out, env)
	}
	return out, nil
}

// LastSequence returns the highest stored score.
func (s *RedisStore) LastSequence(ctx context.Context, conversationID string) (int64, error) {
	results, err := s.client.ZRevRangeWithScores(ctx, s.key(conversationID), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("reading last sequence: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return int64(results[0].Score), nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection if this store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
