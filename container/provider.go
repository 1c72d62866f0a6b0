package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sessionworks/broker/observability"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

// Config holds acquisition retry settings.
type Config struct {
	// Attempts bounds provisioning tries per Acquire.
	Attempts int `json:"attempts,omitempty"`
	// Backoff is the delay before the second attempt, doubling afterwards.
	Backoff time.Duration `json:"backoff,omitempty"`
}

// DefaultConfig returns the standard retry budget.
func DefaultConfig() Config {
	return Config{Attempts: defaultAttempts, Backoff: defaultBackoff}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Attempts > 0 {
		c.Attempts = source.Attempts
	}
	if source.Backoff > 0 {
		c.Backoff = source.Backoff
	}
}

type providerEntry struct {
	mu       sync.Mutex
	handle   Handle
	released atomic.Bool
}

// Provider hands out container handles keyed by session ID. Acquire is
// idempotent: while a live handle backs the session, every call returns it.
// The registry of live containers is the one structure shared across all
// sessions' actors; per-key locks serialize acquire/release for the same
// session without coupling unrelated sessions.
type Provider struct {
	provisioner Provisioner
	cfg         Config
	dispatch    *observability.Dispatcher

	mu      sync.Mutex
	entries map[string]*providerEntry
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithDispatcher sets the telemetry dispatcher.
func WithDispatcher(d *observability.Dispatcher) ProviderOption {
	return func(p *Provider) { p.dispatch = d }
}

// NewProvider creates a Provider over the given provisioner.
func NewProvider(provisioner Provisioner, cfg Config, opts ...ProviderOption) *Provider {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	p := &Provider{
		provisioner: provisioner,
		cfg:         defaults,
		entries:     make(map[string]*providerEntry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the live handle backing the session, provisioning one if
// absent. Fails with ErrUnavailable once the retry budget is spent; it never
// blocks indefinitely.
func (p *Provider) Acquire(ctx context.Context, sessionID string) (Handle, error) {
	entry := p.entry(sessionID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.released.Load() {
		return nil, fmt.Errorf("%w: session released", ErrUnavailable)
	}
	if entry.handle != nil && entry.handle.IsAlive() {
		return entry.handle, nil
	}
	if entry.handle != nil {
		entry.handle.Close()
		entry.handle = nil
	}

	start := time.Now()
	var lastErr error
	backoff := p.cfg.Backoff

	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		handle, err := p.provisioner.Provision(ctx, sessionID)
		if err == nil {
			if entry.released.Load() {
				// Released mid-provision; the fresh container must not
				// outlive its session.
				handle.Close()
				return nil, fmt.Errorf("%w: session released", ErrUnavailable)
			}
			entry.handle = handle
			p.emit(observability.EventContainerAcquire, sessionID, attempt, start, nil)
			return handle, nil
		}
		lastErr = err

		if attempt == p.cfg.Attempts {
			break
		}
		if err := sleepContext(ctx, backoff); err != nil {
			lastErr = err
			break
		}
		backoff *= 2
	}

	p.emit(observability.EventContainerAcquire, sessionID, p.cfg.Attempts, start, lastErr)
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

// Release closes and forgets the session's handle, if any. It never waits on
// an in-flight Acquire for the same session: the released mark makes that
// Acquire close whatever it provisions and report ErrUnavailable.
func (p *Provider) Release(sessionID string) {
	p.mu.Lock()
	entry, exists := p.entries[sessionID]
	if exists {
		delete(p.entries, sessionID)
	}
	p.mu.Unlock()
	if !exists {
		return
	}

	entry.released.Store(true)
	if !entry.mu.TryLock() {
		// An Acquire holds the entry; it observes the mark and cleans up.
		return
	}
	handle := entry.handle
	entry.handle = nil
	entry.mu.Unlock()

	if handle != nil {
		handle.Close()
		p.emit(observability.EventContainerRelease, sessionID, 0, time.Now(), nil)
	}
}

func (p *Provider) entry(sessionID string) *providerEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.entries[sessionID]
	if !exists {
		entry = &providerEntry{}
		p.entries[sessionID] = entry
	}
	return entry
}

func (p *Provider) emit(eventType observability.EventType, sessionID string, attempts int, start time.Time, err error) {
	if p.dispatch == nil {
		return
	}
	level := observability.LevelInfo
	data := map[string]any{
		"session_id":  sessionID,
		"attempts":    attempts,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		level = observability.LevelError
		data["error"] = err.Error()
	}
	p.dispatch.Emit(eventType, level, "container", data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
