package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// consumedRetention is how long consumed signal bodies stay around before
// Redis expires them.
const consumedRetention = 24 * time.Hour

// RedisSignalRepository stores signal bodies as JSON values and indexes
// pending ids per recipient in a sorted set scored by creation time, so a
// drain reads oldest-first without scanning.
type RedisSignalRepository struct {
	client *redis.Client
	prefix string
}

var _ ports.SignalArchiver = (*RedisSignalRepository)(nil)

func NewRedisSignalRepository(client *redis.Client) *RedisSignalRepository {
	return &RedisSignalRepository{
		client: client,
		prefix: "pairlink:signal:",
	}
}

func (r *RedisSignalRepository) signalKey(id string) string {
	return r.prefix + id
}

func (r *RedisSignalRepository) mailboxKey(recipient domain.PeerID) string {
	return fmt.Sprintf("pairlink:mailbox:%s", recipient)
}

func (r *RedisSignalRepository) Create(ctx context.Context, signal *domain.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now()
	}
	signal.Consumed = false
	signal.ConsumedAt = nil

	data, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.signalKey(signal.ID), data, 0)
	pipe.ZAdd(ctx, r.mailboxKey(signal.RecipientID), redis.Z{
		Score:  float64(signal.CreatedAt.UnixMilli()),
		Member: signal.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store signal in Redis: %w", err)
	}
	return nil
}

func (r *RedisSignalRepository) ConsumePending(ctx context.Context, recipient domain.PeerID, session domain.SessionID, limit int) ([]*domain.Signal, error) {
	mailbox := r.mailboxKey(recipient)

	ids, err := r.client.ZRangeByScore(ctx, mailbox, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox index from Redis: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	now := time.Now()
	var drained []*domain.Signal
	var consumedIDs []string

	for _, id := range ids {
		if limit > 0 && len(drained) >= limit {
			break
		}

		data, err := r.client.Get(ctx, r.signalKey(id)).Result()
		if err == redis.Nil {
			// Body already expired; drop the dangling index entry.
			consumedIDs = append(consumedIDs, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get signal from Redis: %w", err)
		}

		var signal domain.Signal
		if err := json.Unmarshal([]byte(data), &signal); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal: %w", err)
		}

		if session != "" && signal.SessionID != session {
			continue
		}

		signal.Consumed = true
		consumedAt := now
		signal.ConsumedAt = &consumedAt
		drained = append(drained, &signal)
		consumedIDs = append(consumedIDs, id)
	}

	if len(consumedIDs) == 0 {
		return drained, nil
	}

	// Mark the batch consumed atomically: remove from the pending index and
	// rewrite bodies with the consumed flag plus a retention TTL.
	pipe := r.client.TxPipeline()
	members := make([]interface{}, len(consumedIDs))
	for i, id := range consumedIDs {
		members[i] = id
	}
	pipe.ZRem(ctx, mailbox, members...)
	for _, signal := range drained {
		data, err := json.Marshal(signal)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal consumed signal: %w", err)
		}
		pipe.Set(ctx, r.signalKey(signal.ID), data, consumedRetention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to consume signals in Redis: %w", err)
	}

	return drained, nil
}

// ExportPending collects every unconsumed signal by walking the per-recipient
// mailbox indexes. Used by the scheduled backup; not a hot path.
func (r *RedisSignalRepository) ExportPending(ctx context.Context) ([]*domain.Signal, error) {
	var pending []*domain.Signal

	iter := r.client.Scan(ctx, 0, "pairlink:mailbox:*", 100).Iterator()
	for iter.Next(ctx) {
		ids, err := r.client.ZRangeByScore(ctx, iter.Val(), &redis.ZRangeBy{
			Min: "-inf", Max: "+inf",
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read mailbox index from Redis: %w", err)
		}

		for _, id := range ids {
			data, err := r.client.Get(ctx, r.signalKey(id)).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get signal from Redis: %w", err)
			}
			var signal domain.Signal
			if err := json.Unmarshal([]byte(data), &signal); err != nil {
				return nil, fmt.Errorf("failed to unmarshal signal: %w", err)
			}
			pending = append(pending, &signal)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan mailbox keys in Redis: %w", err)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// Import restores snapshot signals, preserving ids and creation times and
// skipping ids that already exist.
func (r *RedisSignalRepository) Import(ctx context.Context, signals []*domain.Signal) (int, error) {
	imported := 0
	for _, signal := range signals {
		if signal.ID == "" || signal.Consumed {
			continue
		}

		exists, err := r.client.Exists(ctx, r.signalKey(signal.ID)).Result()
		if err != nil {
			return imported, fmt.Errorf("failed to check signal in Redis: %w", err)
		}
		if exists > 0 {
			continue
		}

		data, err := json.Marshal(signal)
		if err != nil {
			return imported, fmt.Errorf("failed to marshal signal: %w", err)
		}

		pipe := r.client.TxPipeline()
		pipe.Set(ctx, r.signalKey(signal.ID), data, 0)
		pipe.ZAdd(ctx, r.mailboxKey(signal.RecipientID), redis.Z{
			Score:  float64(signal.CreatedAt.UnixMilli()),
			Member: signal.ID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return imported, fmt.Errorf("failed to import signal into Redis: %w", err)
		}
		imported++
	}
	return imported, nil
}

func (r *RedisSignalRepository) CountPending(ctx context.Context, recipient domain.PeerID) (int, error) {
	count, err := r.client.ZCard(ctx, r.mailboxKey(recipient)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count mailbox entries in Redis: %w", err)
	}
	return int(count), nil
}
