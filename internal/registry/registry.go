// Package registry holds the authoritative in-memory view of every managed
// server. Entries are created once at startup from config order and live for
// the whole process; ids are stable and never reassigned.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/mined-project/mined/internal/server"
)

// NotFoundError reports an id outside the fixed 0..N-1 range. Every lookup
// is bounds-checked; a bad id surfaces as this error, never as an
// out-of-range panic.
type NotFoundError struct {
	ID int
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("unknown server id %d", e.ID)
}

// Registry is the single contended piece of shared state. Reads overlap
// under the read lock; SetStatus takes the write lock and completes without
// blocking I/O.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	spec      server.Spec
	status    server.Status
	updatedAt time.Time
}

// New builds the registry from the ordered spec list. All servers start as
// stopped until the first poll observes otherwise.
func New(specs []server.Spec) *Registry {
	entries := make([]entry, len(specs))
	now := time.Now()
	for i, s := range specs {
		entries[i] = entry{spec: s, status: server.StatusStopped, updatedAt: now}
	}
	return &Registry{entries: entries}
}

// Len returns the fixed number of servers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns a snapshot of one server.
func (r *Registry) Get(id int) (server.Data, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.entries) {
		return server.Data{}, NotFoundError{ID: id}
	}
	return r.entries[id].snapshot(id), nil
}

// List returns snapshots of all servers in id order.
func (r *Registry) List() []server.Data {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]server.Data, len(r.entries))
	for i := range r.entries {
		out[i] = r.entries[i].snapshot(i)
	}
	return out
}

// SetStatus records a new status and returns the previous one together with
// a snapshot taken atomically with the write, so an emitted event always
// reflects a state the registry actually held. The timestamp only advances
// when the status really changed, letting callers skip no-op transitions.
func (r *Registry) SetStatus(id int, st server.Status) (server.Status, server.Data, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.entries) {
		return "", server.Data{}, NotFoundError{ID: id}
	}
	e := &r.entries[id]
	prev := e.status
	if prev != st {
		e.status = st
		e.updatedAt = time.Now()
	}
	return prev, e.snapshot(id), nil
}

func (e *entry) snapshot(id int) server.Data {
	return server.Data{
		ID:        id,
		Spec:      e.spec,
		Status:    e.status,
		UpdatedAt: e.updatedAt,
	}
}
