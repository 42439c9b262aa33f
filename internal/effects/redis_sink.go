package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisDeadLetterSink records failed effects to a Redis list for
// operator inspection, grounded on the dead-letter pattern of
// FailedBlockRepo in the teacher's redis package.
type RedisDeadLetterSink struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisDeadLetterSink constructs a sink keyed by chainName so
// multiple Watchers sharing a Redis instance don't collide.
func NewRedisDeadLetterSink(rdb *redis.Client, chainName string) *RedisDeadLetterSink {
	return &RedisDeadLetterSink{
		rdb: rdb,
		key: fmt.Sprintf("demux:failed_effects:%s", chainName),
		ttl: 7 * 24 * time.Hour,
	}
}

// dlqEntry wraps a FailedEffect with an operator-facing identifier, so
// a specific dead-letter entry can be referenced (e.g. acknowledged,
// looked up) independent of its position in the list.
type dlqEntry struct {
	ID string `json:"id"`
	FailedEffect
}

// Record appends fe to the dead-letter list.
func (s *RedisDeadLetterSink) Record(ctx context.Context, fe FailedEffect) error {
	data, err := json.Marshal(dlqEntry{ID: uuid.New().String(), FailedEffect: fe})
	if err != nil {
		return fmt.Errorf("marshal failed effect: %w", err)
	}
	if err := s.rdb.LPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("lpush failed effect: %w", err)
	}
	return s.rdb.Expire(ctx, s.key, s.ttl).Err()
}
