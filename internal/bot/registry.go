// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package bot

import (
	"sync"
	"sync/atomic"

	"github.com/samber/oops"
)

// Registry is the process-wide set of live connections. Membership is
// held as an immutable snapshot behind an atomic pointer: readers never
// lock, writers serialize on a mutex and publish a replacement slice.
// Snapshot order is registration order, which fixes the order route
// aggregation walks connections in.
type Registry struct {
	mu    sync.Mutex
	conns atomic.Pointer[[]*Connection]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]*Connection, 0)
	r.conns.Store(&empty)
	return r
}

// Add appends c to the registry. Connection names are unique; adding a
// duplicate name is an error.
func (r *Registry) Add(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.conns.Load()
	for _, existing := range cur {
		if existing.Name() == c.Name() {
			return oops.Code("duplicate_connection").With("connection", c.Name()).Errorf("connection already registered")
		}
	}

	next := make([]*Connection, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, c)
	r.conns.Store(&next)
	return nil
}

// Remove detaches the named connection and returns it, or nil when the
// name is not registered. The caller is responsible for teardown.
func (r *Registry) Remove(name string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.conns.Load()
	idx := -1
	for i, c := range cur {
		if c.Name() == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	removed := cur[idx]
	next := make([]*Connection, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	r.conns.Store(&next)
	return removed
}

// Get returns the named connection.
func (r *Registry) Get(name string) (*Connection, bool) {
	for _, c := range *r.conns.Load() {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// All returns the current membership snapshot in registration order.
// The returned slice is never mutated after publication and must be
// treated as read-only.
func (r *Registry) All() []*Connection {
	return *r.conns.Load()
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(*r.conns.Load())
}
