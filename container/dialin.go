package container

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultOfferWindow = 30 * time.Second

// DialInProvisioner implements Provisioner for deployments where the
// container agent dials the broker rather than the broker reaching into the
// container. The external scheduler starts the container; when its agent
// connects, the transport layer calls Offer with the resulting handle, and
// any Provision call waiting on that session ID completes.
type DialInProvisioner struct {
	window time.Duration

	mu      sync.Mutex
	offered map[string]Handle
	waiters map[string]chan Handle
}

// NewDialInProvisioner creates a DialInProvisioner. window bounds how long
// Provision waits for the container agent to show up; <= 0 uses the default.
func NewDialInProvisioner(window time.Duration) *DialInProvisioner {
	if window <= 0 {
		window = defaultOfferWindow
	}
	return &DialInProvisioner{
		window:  window,
		offered: make(map[string]Handle),
		waiters: make(map[string]chan Handle),
	}
}

// Offer registers a freshly connected container handle for the session.
// Returns false if another live handle is already registered.
func (d *DialInProvisioner) Offer(sessionID string, handle Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.offered[sessionID]; ok && existing.IsAlive() {
		return false
	}

	if waiter, ok := d.waiters[sessionID]; ok {
		delete(d.waiters, sessionID)
		waiter <- handle
		return true
	}

	d.offered[sessionID] = handle
	return true
}

// Withdraw forgets an offered handle, typically because the container
// connection dropped before any session claimed it.
func (d *DialInProvisioner) Withdraw(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.offered, sessionID)
}

// Provision returns the handle offered for the session, waiting up to the
// offer window for the container agent to connect.
func (d *DialInProvisioner) Provision(ctx context.Context, sessionID string) (Handle, error) {
	d.mu.Lock()
	if handle, ok := d.offered[sessionID]; ok {
		delete(d.offered, sessionID)
		d.mu.Unlock()
		if handle.IsAlive() {
			return handle, nil
		}
		// Stale offer from a dead container; fall through to waiting.
		d.mu.Lock()
	}

	waiter := make(chan Handle, 1)
	d.waiters[sessionID] = waiter
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.waiters, sessionID)
		d.mu.Unlock()
	}()

	timer := time.NewTimer(d.window)
	defer timer.Stop()

	select {
	case handle := <-waiter:
		return handle, nil
	case <-timer.C:
		return nil, fmt.Errorf("no container connected for session %s within %v", sessionID, d.window)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
