// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package bot holds the per-connection runtime state: the hook table,
// module registrations, the connection composite, and the registry of
// live connections. State published by this package is immutable; every
// change builds a fresh snapshot and swaps it in atomically.
package bot

import (
	"sort"

	"github.com/garrulus/garrulus/pkg/plugin"
)

// Entry is one hook registration in a table, tagged with the module that
// owns it so failures can be attributed.
type Entry struct {
	Module string
	Hook   plugin.Hook
}

// Table maps event types to their ordered hook chains. A Table is built
// once, then published read-only: dispatchers iterate it without locks,
// and rebuilds produce a new Table rather than mutating a live one.
type Table struct {
	chains map[plugin.EventType][]Entry
	total  int
}

// NewTable creates an empty hook table.
func NewTable() *Table {
	return &Table{chains: make(map[plugin.EventType][]Entry)}
}

// Add appends an entry to the chain for eventType. Chains preserve
// insertion order; Add must only be called while the table is being
// built, before it is published.
func (t *Table) Add(eventType plugin.EventType, e Entry) {
	t.chains[eventType] = append(t.chains[eventType], e)
	t.total++
}

// Chain returns the hook chain for eventType in registration order. The
// returned slice is shared with the table and must not be modified.
func (t *Table) Chain(eventType plugin.EventType) []Entry {
	return t.chains[eventType]
}

// Len returns the total number of entries across all chains.
func (t *Table) Len() int {
	return t.total
}

// EventTypes returns the event types that have at least one hook,
// sorted for deterministic output.
func (t *Table) EventTypes() []plugin.EventType {
	types := make([]plugin.EventType, 0, len(t.chains))
	for et := range t.chains {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clone returns a deep copy of the table with independent chain slices.
func (t *Table) Clone() *Table {
	c := NewTable()
	for et, chain := range t.chains {
		dup := make([]Entry, len(chain))
		copy(dup, chain)
		c.chains[et] = dup
	}
	c.total = t.total
	return c
}
