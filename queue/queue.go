// Package queue buffers frames bound for a disconnected peer and replays
// them in sequence order on reconnect. Each (session, target) pair has an
// independent bounded queue: when the frame-count or byte cap is exceeded the
// oldest pending frames are evicted and the truncation is recorded so the
// peer learns its history is incomplete instead of receiving a silent gap.
//
// Delivery is at-least-once: Drain returns pending frames without removing
// them; Ack reclaims frames up to a sequence number once the peer has applied
// them. Receivers key application by sequence number, so redelivery after a
// connection flap is harmless.
//
// Two drivers are available: in-memory (default, single-process) and Redis
// (multi-process deployments, frames survive a broker restart).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sessionworks/broker/core/protocol"
)

// Sentinel errors for queue operations.
var (
	ErrClosed        = errors.New("queue is closed")
	ErrUnsequenced   = errors.New("frame has no sequence number")
	ErrInvalidDriver = errors.New("unknown queue driver")
	ErrInvalidConfig = errors.New("invalid queue configuration")
)

// Driver selects the queue backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

const (
	defaultMaxFrames = 1000
	defaultMaxBytes  = 4 << 20 // 4 MiB
	defaultRedisTTL  = 24 * time.Hour
)

// Config holds queue bounds and driver selection.
type Config struct {
	Driver Driver `json:"driver,omitempty"`
	// MaxFrames bounds the pending frame count per (session, target).
	MaxFrames int `json:"max_frames,omitempty"`
	// MaxBytes bounds the total encoded payload size per (session, target).
	// Enforced by the memory driver only.
	MaxBytes int64 `json:"max_bytes,omitempty"`
}

// DefaultConfig returns the in-memory driver with the standard bounds.
func DefaultConfig() Config {
	return Config{
		Driver:    DriverMemory,
		MaxFrames: defaultMaxFrames,
		MaxBytes:  defaultMaxBytes,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.MaxFrames > 0 {
		c.MaxFrames = source.MaxFrames
	}
	if source.MaxBytes > 0 {
		c.MaxBytes = source.MaxBytes
	}
}

// Batch is the result of draining a (session, target) queue. Frames are in
// strictly increasing sequence order. Truncated reports that frames were
// evicted since the last drain; the receiving peer must be told its history
// is incomplete.
type Batch struct {
	Frames    []protocol.Frame
	Truncated bool
}

// Queue is an ordered buffer of frames pending delivery.
type Queue interface {
	// Enqueue adds a sequenced frame. Returns the number of older frames
	// evicted to stay within bounds.
	Enqueue(ctx context.Context, sessionID string, target protocol.Target, frame protocol.Frame) (evicted int, err error)

	// Drain returns all pending frames for the pair in sequence order,
	// along with a truncation flag that is cleared once reported. Frames
	// remain pending until acked.
	Drain(ctx context.Context, sessionID string, target protocol.Target) (Batch, error)

	// DrainAfter is Drain restricted to frames with Seq > afterSeq, for
	// clients that resynchronize from a known position.
	DrainAfter(ctx context.Context, sessionID string, target protocol.Target, afterSeq uint64) (Batch, error)

	// Ack removes frames with Seq <= upToSeq.
	Ack(ctx context.Context, sessionID string, target protocol.Target, upToSeq uint64) error

	// Depth returns the pending frame count for the pair.
	Depth(ctx context.Context, sessionID string, target protocol.Target) (int, error)

	// DropSession discards all state for a session, both targets.
	DropSession(ctx context.Context, sessionID string) error

	// Close releases driver resources.
	Close() error
}

type queueOptions struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// Option configures driver-specific settings.
type Option func(*queueOptions)

// WithRedisClient supplies the client for the Redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(o *queueOptions) { o.redisClient = client }
}

// WithRedisTTL overrides the expiry applied to per-session Redis keys.
func WithRedisTTL(ttl time.Duration) Option {
	return func(o *queueOptions) { o.redisTTL = ttl }
}

// New creates a Queue for the configured driver.
func New(cfg Config, opts ...Option) (Queue, error) {
	options := &queueOptions{redisTTL: defaultRedisTTL}
	for _, opt := range opts {
		opt(options)
	}

	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	switch defaults.Driver {
	case DriverMemory:
		return newMemoryQueue(defaults), nil
	case DriverRedis:
		if options.redisClient == nil {
			return nil, fmt.Errorf("%w: redis driver requires a client", ErrInvalidConfig)
		}
		return newRedisQueue(defaults, options.redisClient, options.redisTTL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, defaults.Driver)
	}
}
