package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/mailbatch/internal/ledger"
	"github.com/sungwon/mailbatch/internal/metrics"
)

const redisKeyPrefix = "mailbatch:status:"

// RedisStatusRepository stores one hash per batch. Each field is a message
// key holding the JSON of its latest status. The hash expires ttl after
// the last write.
type RedisStatusRepository struct {
	client *redis.Client
	ttl    time.Duration
}

var (
	_ ledger.Persister = (*RedisStatusRepository)(nil)
	_ ledger.Query     = (*RedisStatusRepository)(nil)
)

// NewRedisStatusRepository creates a repository. A ttl <= 0 keeps entries
// forever.
func NewRedisStatusRepository(client *redis.Client, ttl time.Duration) *RedisStatusRepository {
	return &RedisStatusRepository{client: client, ttl: ttl}
}

func batchKey(batchID string) string {
	return redisKeyPrefix + batchID
}

// SaveStatus replaces the status of the message within its batch hash.
func (r *RedisStatusRepository) SaveStatus(ctx context.Context, s ledger.Status) error {
	start := time.Now()
	defer func() {
		metrics.StatusPersistDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage: marshal status: %w", err)
	}

	key := batchKey(s.BatchID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, messageKey(s), data)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		metrics.StatusPersistErrorsTotal.WithLabelValues("redis").Inc()
		return fmt.Errorf("storage: save status %s/%s: %w", s.BatchID, s.UniqueID, err)
	}
	return nil
}

// ListStatuses returns the latest status of each message of a batch,
// oldest first. An empty state matches every state.
func (r *RedisStatusRepository) ListStatuses(ctx context.Context, batchID string, state ledger.State) ([]ledger.Status, error) {
	fields, err := r.client.HGetAll(ctx, batchKey(batchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: list statuses of %s: %w", batchID, err)
	}

	statuses := make([]ledger.Status, 0, len(fields))
	for field, raw := range fields {
		var s ledger.Status
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("storage: decode status %s/%s: %w", batchID, field, err)
		}
		if state != "" && s.State != state {
			continue
		}
		statuses = append(statuses, s)
	}

	sort.Slice(statuses, func(i, j int) bool {
		if !statuses[i].Date.Equal(statuses[j].Date) {
			return statuses[i].Date.Before(statuses[j].Date)
		}
		return statuses[i].UniqueID < statuses[j].UniqueID
	})
	return statuses, nil
}
