// Package approval correlates agent-originated requests (tool permissions,
// clarifying questions) with exactly one client-originated resolution. Each
// pending entry owns a timeout timer scoped to its lifetime: the timer is
// cancelled on resolution and a single-resolution guard ensures a firing
// timer can never race a resolve into a double outcome.
package approval

import (
	"errors"
	"sync"
	"time"

	"github.com/sessionworks/broker/clock"
)

// Sentinel errors for registry operations.
var (
	// ErrDuplicateCorrelation rejects a second create for a live ID.
	ErrDuplicateCorrelation = errors.New("correlation id already pending")
	// ErrNotFound rejects a resolve for an unknown or already-settled ID.
	ErrNotFound = errors.New("no pending approval for correlation id")
	// ErrStale marks a resolution that arrived after the entry settled,
	// typically a duplicate or late client retry. Non-fatal.
	ErrStale = errors.New("approval already resolved")
)

// Kind distinguishes tool-permission requests from clarifying questions.
type Kind string

const (
	KindPermission Kind = "permission"
	KindQuestion   Kind = "question"
)

// Outcome is the terminal state of a pending approval.
type Outcome string

const (
	OutcomeResolved  Outcome = "resolved"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeCancelled Outcome = "cancelled"
)

// Resolution is passed to the registry's settle callback when an entry
// settles.
type Resolution struct {
	CorrelationID string
	Kind          Kind
	Outcome       Outcome
	// Payload is the client's answer; empty for timeouts and cancellations.
	Payload string
	// Approved is meaningful only for permission kinds resolved by a client.
	Approved bool
}

type pending struct {
	kind    Kind
	turn    string
	created time.Time
	timer   clock.Timer
	settled bool
}

// Registry tracks the outstanding approvals of one session. It is used from
// the session's single event loop; internal locking only guards against the
// timeout timer goroutine.
type Registry struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	entries map[string]*pending

	// onSettle is invoked (outside the lock) after every settlement. It is
	// the sole delivery path for resolutions. May be nil.
	onSettle func(Resolution)
}

// NewRegistry creates a Registry. A timeout of zero disables expiry.
func NewRegistry(clk clock.Clock, timeout time.Duration, onSettle func(Resolution)) *Registry {
	return &Registry{
		clock:    clk,
		timeout:  timeout,
		entries:  make(map[string]*pending),
		onSettle: onSettle,
	}
}

// Create registers a pending approval. Its eventual Resolution arrives
// through the registry's settle callback. Fails with ErrDuplicateCorrelation
// if the ID is already pending.
func (r *Registry) Create(correlationID string, kind Kind, turn string) error {
	r.mu.Lock()

	if _, exists := r.entries[correlationID]; exists {
		r.mu.Unlock()
		return ErrDuplicateCorrelation
	}

	p := &pending{
		kind:    kind,
		turn:    turn,
		created: r.clock.Now(),
	}
	r.entries[correlationID] = p

	if r.timeout > 0 {
		p.timer = r.clock.AfterFunc(r.timeout, func() {
			r.settle(correlationID, Resolution{Outcome: OutcomeTimedOut})
		})
	}

	r.mu.Unlock()
	return nil
}

// Resolve settles a pending approval with the client's payload. Fails with
// ErrNotFound when the ID is unknown or already settled.
func (r *Registry) Resolve(correlationID string, approved bool, payload string) error {
	return r.settle(correlationID, Resolution{
		Outcome:  OutcomeResolved,
		Approved: approved,
		Payload:  payload,
	})
}

// CancelTurn settles every pending approval created during the given turn as
// cancelled. Used when the client cancels an in-flight turn.
func (r *Registry) CancelTurn(turn string) int {
	return r.cancelWhere(func(p *pending) bool { return p.turn == turn })
}

// CancelAll settles every outstanding approval as cancelled so no entry
// outlives its session. Called on session termination.
func (r *Registry) CancelAll() int {
	return r.cancelWhere(func(*pending) bool { return true })
}

// Pending returns the number of outstanding approvals.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) cancelWhere(match func(*pending) bool) int {
	r.mu.Lock()
	var ids []string
	for id, p := range r.entries {
		if match(p) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	cancelled := 0
	for _, id := range ids {
		if err := r.settle(id, Resolution{Outcome: OutcomeCancelled}); err == nil {
			cancelled++
		}
	}
	return cancelled
}

// settle applies the single-resolution guard: the first caller to remove the
// entry wins; everyone else gets ErrNotFound.
func (r *Registry) settle(correlationID string, res Resolution) error {
	r.mu.Lock()
	p, exists := r.entries[correlationID]
	if !exists || p.settled {
		r.mu.Unlock()
		return ErrNotFound
	}
	p.settled = true
	delete(r.entries, correlationID)
	if p.timer != nil {
		p.timer.Stop()
	}
	r.mu.Unlock()

	res.CorrelationID = correlationID
	res.Kind = p.kind

	if r.onSettle != nil {
		r.onSettle(res)
	}
	return nil
}
