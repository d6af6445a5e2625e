// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package plugin

import "context"

// Conn is the narrow view of one bot connection exposed to plugins. All
// outbound traffic and per-connection state access goes through it; the
// wire-level client behind it is owned by the runtime.
type Conn interface {
	// Name returns the connection's configured name (unique per process).
	Name() string

	// Nick returns the bot's current nickname on this connection.
	Nick() string

	// Channels returns the channels the connection is configured to join.
	Channels() []string

	Say(target, message string) error
	Notice(target, message string) error
	// Action sends a CTCP ACTION ("/me") to target.
	Action(target, message string) error
	Join(channel string) error
	Part(channel string) error

	// Settings returns the per-connection plugin settings section from the
	// configuration, passed through uninterpreted. Plugins must treat the
	// returned map as read-only.
	Settings() map[string]any

	// Store returns the connection-scoped key/value store available to
	// plugins for their own state.
	Store() Store
}

// Store is the storage contract offered to plugins. Backends are
// external to the core; the runtime ships an in-memory implementation.
type Store interface {
	Get(ctx context.Context, bucket, key string) (value string, ok bool, err error)
	Put(ctx context.Context, bucket, key, value string) error
	Delete(ctx context.Context, bucket, key string) error
	Keys(ctx context.Context, bucket string) ([]string, error)
}
