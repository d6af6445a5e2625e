// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package plugin

import (
	"context"
	"net/http"
)

// Route is one HTTP route contribution from a plugin module. Patterns are
// slash-separated; a segment starting with ':' captures the corresponding
// request path segment as a named parameter.
type Route struct {
	// Method restricts the route to one HTTP method. Empty matches any.
	Method string

	// Pattern is the path pattern, e.g. "/seen/:nick".
	Pattern string

	Handler http.HandlerFunc
}

// Params holds the named path segments captured while matching a route
// pattern.
type Params map[string]string

type paramsKey struct{}

// WithParams returns a context carrying the captured route parameters.
// It is called by the route table while serving; plugins only read.
func WithParams(ctx context.Context, p Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, p)
}

// RouteParams returns the path parameters captured for this request, or
// an empty map when the route declared none.
func RouteParams(r *http.Request) Params {
	if p, ok := r.Context().Value(paramsKey{}).(Params); ok {
		return p
	}
	return Params{}
}
