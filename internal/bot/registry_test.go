// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

package bot

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/garrulus/garrulus/pkg/errutil"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.Len())

	libera := NewConnection(testBotConfig("libera"))
	oftc := NewConnection(testBotConfig("oftc"))

	require.NoError(t, r.Add(libera))
	require.NoError(t, r.Add(oftc))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("oftc")
	require.True(t, ok)
	assert.Same(t, oftc, got)

	_, ok = r.Get("efnet")
	assert.False(t, ok)

	removed := r.Remove("libera")
	assert.Same(t, libera, removed)
	assert.Equal(t, 1, r.Len())
	assert.Nil(t, r.Remove("libera"))
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(NewConnection(testBotConfig("libera"))))

	err := r.Add(NewConnection(testBotConfig("libera")))
	errutil.AssertErrorCode(t, err, "duplicate_connection")
}

func TestRegistry_AllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"libera", "oftc", "efnet"}
	for _, name := range names {
		require.NoError(t, r.Add(NewConnection(testBotConfig(name))))
	}

	all := r.All()
	require.Len(t, all, 3)
	for i, name := range names {
		assert.Equal(t, name, all[i].Name())
	}
}

// TestRegistry_SnapshotStableUnderMutation verifies a snapshot taken
// before a membership change is unaffected by it, and readers running
// concurrently with writers always observe a coherent slice.
func TestRegistry_SnapshotStableUnderMutation(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	require.NoError(t, r.Add(NewConnection(testBotConfig("libera"))))

	before := r.All()
	require.Len(t, before, 1)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, c := range r.All() {
					if c == nil {
						t.Error("nil connection in snapshot")
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		conn := NewConnection(testBotConfig("churn"))
		require.NoError(t, r.Add(conn))
		require.Same(t, conn, r.Remove("churn"))
	}
	close(stop)
	wg.Wait()

	assert.Len(t, before, 1, "earlier snapshot unaffected by membership churn")
	assert.Equal(t, 1, r.Len())
}
