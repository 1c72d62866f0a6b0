package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/sessionworks/broker/core/protocol"
)

type pairKey struct {
	sessionID string
	target    protocol.Target
}

type entry struct {
	frame protocol.Frame
	size  int64
}

type pairQueue struct {
	entries   []entry
	bytes     int64
	truncated bool
}

// memoryQueue keeps pending frames in process memory. Eviction removes the
// oldest entries first and never renumbers survivors.
type memoryQueue struct {
	mu     sync.Mutex
	pairs  map[pairKey]*pairQueue
	cfg    Config
	closed bool
}

func newMemoryQueue(cfg Config) *memoryQueue {
	return &memoryQueue{
		pairs: make(map[pairKey]*pairQueue),
		cfg:   cfg,
	}
}

func (q *memoryQueue) Enqueue(_ context.Context, sessionID string, target protocol.Target, frame protocol.Frame) (int, error) {
	if frame.Seq == 0 {
		return 0, ErrUnsequenced
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	key := pairKey{sessionID: sessionID, target: target}
	pq := q.pairs[key]
	if pq == nil {
		pq = &pairQueue{}
		q.pairs[key] = pq
	}

	if n := len(pq.entries); n > 0 && frame.Seq <= pq.entries[n-1].frame.Seq {
		return 0, fmt.Errorf("queue: out-of-order enqueue: seq %d after %d", frame.Seq, pq.entries[n-1].frame.Seq)
	}

	size := frameSize(frame)
	pq.entries = append(pq.entries, entry{frame: frame, size: size})
	pq.bytes += size

	evicted := 0
	for len(pq.entries) > q.cfg.MaxFrames || (q.cfg.MaxBytes > 0 && pq.bytes > q.cfg.MaxBytes && len(pq.entries) > 1) {
		pq.bytes -= pq.entries[0].size
		pq.entries = pq.entries[1:]
		pq.truncated = true
		evicted++
	}

	return evicted, nil
}

func (q *memoryQueue) Drain(ctx context.Context, sessionID string, target protocol.Target) (Batch, error) {
	return q.DrainAfter(ctx, sessionID, target, 0)
}

func (q *memoryQueue) DrainAfter(_ context.Context, sessionID string, target protocol.Target, afterSeq uint64) (Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Batch{}, ErrClosed
	}

	pq := q.pairs[pairKey{sessionID: sessionID, target: target}]
	if pq == nil {
		return Batch{}, nil
	}

	frames := make([]protocol.Frame, 0, len(pq.entries))
	for _, e := range pq.entries {
		if e.frame.Seq > afterSeq {
			frames = append(frames, e.frame)
		}
	}

	batch := Batch{Frames: frames, Truncated: pq.truncated}
	pq.truncated = false
	return batch, nil
}

func (q *memoryQueue) Ack(_ context.Context, sessionID string, target protocol.Target, upToSeq uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	key := pairKey{sessionID: sessionID, target: target}
	pq := q.pairs[key]
	if pq == nil {
		return nil
	}

	kept := pq.entries[:0]
	var bytes int64
	for _, e := range pq.entries {
		if e.frame.Seq > upToSeq {
			kept = append(kept, e)
			bytes += e.size
		}
	}
	pq.entries = kept
	pq.bytes = bytes

	if len(pq.entries) == 0 && !pq.truncated {
		delete(q.pairs, key)
	}
	return nil
}

func (q *memoryQueue) Depth(_ context.Context, sessionID string, target protocol.Target) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	pq := q.pairs[pairKey{sessionID: sessionID, target: target}]
	if pq == nil {
		return 0, nil
	}
	return len(pq.entries), nil
}

func (q *memoryQueue) DropSession(_ context.Context, sessionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	delete(q.pairs, pairKey{sessionID: sessionID, target: protocol.TargetClient})
	delete(q.pairs, pairKey{sessionID: sessionID, target: protocol.TargetContainer})
	return nil
}

func (q *memoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pairs = nil
	return nil
}

// frameSize approximates the buffered footprint of a frame by its encoded
// JSON length. Encoding failures count as zero-size rather than blocking the
// enqueue.
func frameSize(frame protocol.Frame) int64 {
	data, err := protocol.EncodeJSON(frame)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
