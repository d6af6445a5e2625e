// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package web serves the HTTP routes contributed by loaded plugins.
// The serving table is rebuilt from the connection registry and
// swapped in whole; requests match top to bottom, first match wins,
// and anything unmatched lands on the fixed not-found response.
package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/garrulus/garrulus/internal/bot"
	"github.com/garrulus/garrulus/pkg/plugin"
)

// notFoundBody is the literal response for unmatched requests.
const notFoundBody = "not found\n"

// Entry is one installed route with its owners recorded for
// diagnostics.
type Entry struct {
	Connection string
	Module     string
	Method     string
	Pattern    string

	handler  http.HandlerFunc
	segments []string
}

func newEntry(connection, module string, r plugin.Route) Entry {
	return Entry{
		Connection: connection,
		Module:     module,
		Method:     r.Method,
		Pattern:    r.Pattern,
		handler:    r.Handler,
		segments:   splitPath(r.Pattern),
	}
}

// match reports whether the entry matches the request, and the path
// parameters captured by ':' segments.
func (e *Entry) match(method, path string) (plugin.Params, bool) {
	if e.Method != "" && !strings.EqualFold(e.Method, method) {
		return nil, false
	}

	parts := splitPath(path)
	if len(parts) != len(e.segments) {
		return nil, false
	}

	var params plugin.Params
	for i, seg := range e.segments {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = plugin.Params{}
			}
			params[seg[1:]] = parts[i]
			continue
		}
		if seg != parts[i] {
			return nil, false
		}
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// Table is an immutable ordered route table. The not-found fallback is
// the table's terminal behavior rather than a stored entry.
type Table struct {
	entries []Entry
}

// Collect flattens the route contributions of every loaded module
// across every active connection into one ordered table: connections
// in registration order, modules in load order, routes in registration
// order. It is a pure function of the registry's current state.
func Collect(reg *bot.Registry) *Table {
	var entries []Entry
	for _, conn := range reg.All() {
		for _, re := range conn.Routes() {
			entries = append(entries, newEntry(conn.Name(), re.Module, re.Route))
		}
	}
	return &Table{entries: entries}
}

// Entries returns the installed routes in serving order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of installed routes, excluding the fallback.
func (t *Table) Len() int {
	return len(t.entries)
}

// ServeHTTP matches the request against the table. Captured path
// parameters ride the request context.
func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for i := range t.entries {
		params, ok := t.entries[i].match(r.Method, r.URL.Path)
		if !ok {
			continue
		}
		if len(params) > 0 {
			r = r.WithContext(plugin.WithParams(r.Context(), params))
		}
		t.entries[i].handler(w, r)
		return
	}

	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundBody)
}
