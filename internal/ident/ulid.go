// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package ident generates the ordered identifiers used for event
// correlation and storage keys.
package ident

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Monotonic entropy keeps IDs strictly increasing within a single
// millisecond, so lexicographic order is creation order.
var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// New generates a ULID.
func New() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
