package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sessionworks/broker/core/protocol"
)

// redisQueue stores pending frames in a sorted set per (session, target),
// scored by sequence number, plus a flag key recording truncation. TTLs keep
// abandoned sessions from accumulating forever. The byte cap is not enforced
// here; Redis deployments bound memory with the frame-count cap and maxmemory
// policy instead.
type redisQueue struct {
	client *redis.Client
	cfg    Config
	ttl    time.Duration
}

func newRedisQueue(cfg Config, client *redis.Client, ttl time.Duration) *redisQueue {
	return &redisQueue{client: client, cfg: cfg, ttl: ttl}
}

func framesKey(sessionID string, target protocol.Target) string {
	return fmt.Sprintf("broker:queue:%s:%s", sessionID, target)
}

func truncatedKey(sessionID string, target protocol.Target) string {
	return fmt.Sprintf("broker:queue:%s:%s:truncated", sessionID, target)
}

func (q *redisQueue) Enqueue(ctx context.Context, sessionID string, target protocol.Target, frame protocol.Frame) (int, error) {
	if frame.Seq == 0 {
		return 0, ErrUnsequenced
	}

	data, err := protocol.EncodeJSON(frame)
	if err != nil {
		return 0, fmt.Errorf("queue: encoding frame for redis: %w", err)
	}

	key := framesKey(sessionID, target)
	if err := q.client.ZAdd(ctx, key, redis.Z{Score: float64(frame.Seq), Member: string(data)}).Err(); err != nil {
		return 0, fmt.Errorf("queue: redis zadd: %w", err)
	}
	q.client.Expire(ctx, key, q.ttl)

	depth, err := q.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: redis zcard: %w", err)
	}

	evicted := 0
	if over := int(depth) - q.cfg.MaxFrames; over > 0 {
		if err := q.client.ZRemRangeByRank(ctx, key, 0, int64(over-1)).Err(); err != nil {
			return 0, fmt.Errorf("queue: redis eviction: %w", err)
		}
		if err := q.client.Set(ctx, truncatedKey(sessionID, target), "1", q.ttl).Err(); err != nil {
			return 0, fmt.Errorf("queue: redis truncation flag: %w", err)
		}
		evicted = over
	}

	return evicted, nil
}

func (q *redisQueue) Drain(ctx context.Context, sessionID string, target protocol.Target) (Batch, error) {
	return q.DrainAfter(ctx, sessionID, target, 0)
}

func (q *redisQueue) DrainAfter(ctx context.Context, sessionID string, target protocol.Target, afterSeq uint64) (Batch, error) {
	members, err := q.client.ZRangeByScore(ctx, framesKey(sessionID, target), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", afterSeq),
		Max: "+inf",
	}).Result()
	if err != nil {
		return Batch{}, fmt.Errorf("queue: redis zrange: %w", err)
	}

	frames := make([]protocol.Frame, 0, len(members))
	for _, m := range members {
		frame, err := protocol.DecodeJSON([]byte(m))
		if err != nil {
			return Batch{}, fmt.Errorf("queue: decoding buffered frame: %w", err)
		}
		frames = append(frames, frame)
	}

	truncated, err := q.client.GetDel(ctx, truncatedKey(sessionID, target)).Result()
	if err != nil && err != redis.Nil {
		return Batch{}, fmt.Errorf("queue: redis truncation flag: %w", err)
	}

	return Batch{Frames: frames, Truncated: truncated == "1"}, nil
}

func (q *redisQueue) Ack(ctx context.Context, sessionID string, target protocol.Target, upToSeq uint64) error {
	err := q.client.ZRemRangeByScore(ctx, framesKey(sessionID, target), "-inf", fmt.Sprintf("%d", upToSeq)).Err()
	if err != nil {
		return fmt.Errorf("queue: redis ack: %w", err)
	}
	return nil
}

func (q *redisQueue) Depth(ctx context.Context, sessionID string, target protocol.Target) (int, error) {
	depth, err := q.client.ZCard(ctx, framesKey(sessionID, target)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: redis depth: %w", err)
	}
	return int(depth), nil
}

func (q *redisQueue) DropSession(ctx context.Context, sessionID string) error {
	keys := []string{
		framesKey(sessionID, protocol.TargetClient),
		framesKey(sessionID, protocol.TargetContainer),
		truncatedKey(sessionID, protocol.TargetClient),
		truncatedKey(sessionID, protocol.TargetContainer),
	}
	if err := q.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("queue: redis drop session: %w", err)
	}
	return nil
}

func (q *redisQueue) Close() error {
	return q.client.Close()
}
