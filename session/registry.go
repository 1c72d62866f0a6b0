package session

import (
	"sort"
	"sync"
)

// Registry maps session IDs to running coordinators. GetOrCreate is the only
// constructor path, which guarantees at most one live actor per ID.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Coordinator
}

// NewRegistry creates an empty registry. Every coordinator it spawns shares
// cfg and deps.
func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Coordinator),
	}
}

// GetOrCreate returns the running coordinator for id, starting one if none
// exists. The bool reports whether the session was created by this call.
func (r *Registry) GetOrCreate(id string) (*Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sessions[id]; ok {
		return c, false
	}
	c := NewCoordinator(id, r.cfg, r.deps, r.remove)
	r.sessions[id] = c
	return c, true
}

// Get returns the running coordinator for id, or nil.
func (r *Registry) Get(id string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// List returns a point-in-time snapshot of every live session, ordered by ID.
func (r *Registry) List() []Info {
	r.mu.Lock()
	coordinators := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		coordinators = append(coordinators, c)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(coordinators))
	for _, c := range coordinators {
		infos = append(infos, c.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown terminates every live session and waits for each to close.
func (r *Registry) Shutdown(reason string) {
	r.mu.Lock()
	coordinators := make([]*Coordinator, 0, len(r.sessions))
	for _, c := range r.sessions {
		coordinators = append(coordinators, c)
	}
	r.mu.Unlock()

	for _, c := range coordinators {
		c.Terminate(reason)
	}
	for _, c := range coordinators {
		<-c.Done()
	}
}

// remove is the coordinator's onClosed callback. Dropping the entry only when
// it still points at the closed coordinator tolerates an ID being recreated
// while the old actor drains.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[id]; ok {
		select {
		case <-c.Done():
			delete(r.sessions, id)
		default:
		}
	}
}
