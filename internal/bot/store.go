// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package bot

import (
	"context"
	"sort"
	"sync"

	"github.com/garrulus/garrulus/pkg/plugin"
)

// MemStore is the in-memory plugin store. Contents do not survive a
// process restart; plugins needing durability bring their own backend.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]string
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]map[string]string)}
}

// Get returns the value for key in bucket.
func (s *MemStore) Get(_ context.Context, bucket, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.buckets[bucket][key]
	return value, ok, nil
}

// Put stores value under key in bucket.
func (s *MemStore) Put(_ context.Context, bucket, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]string)
		s.buckets[bucket] = b
	}
	b[key] = value
	return nil
}

// Delete removes key from bucket. Deleting an absent key is not an
// error.
func (s *MemStore) Delete(_ context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

// Keys returns the keys in bucket, sorted.
func (s *MemStore) Keys(_ context.Context, bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.buckets[bucket]
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ plugin.Store = (*MemStore)(nil)
