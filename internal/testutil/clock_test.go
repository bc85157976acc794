package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicClock_NextAndReset(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_Timestamp(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, "2025-01-01T00:00:00.001Z", clock.Timestamp())
	assert.Equal(t, "2025-01-01T00:00:00.002Z", clock.Timestamp())
	assert.Equal(t, int64(2), clock.Current(), "timestamps advance the sequence")
}

func TestDeterministicClock_ThreadSafe(t *testing.T) {
	clock := NewDeterministicClock()
	const goroutines = 50
	const calls = 100

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				v := clock.Next()
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), clock.Current())
}

func TestPrefixIDs(t *testing.T) {
	g := NewPrefixIDs("cs")
	assert.Equal(t, "cs-1", g.NewID())
	assert.Equal(t, "cs-2", g.NewID())
	assert.Equal(t, 2, g.Issued())
	assert.Equal(t, "id-1", NewPrefixIDs("").NewID())
}

func TestDiscardLogger(t *testing.T) {
	assert.NotPanics(t, func() { DiscardLogger().Info("dropped", "k", "v") })
}
