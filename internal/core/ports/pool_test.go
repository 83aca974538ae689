package ports

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRange(t *testing.T) {
	r := DefaultRange()
	assert.Equal(t, 10000, r.Min)
	assert.Equal(t, 20000, r.Max)
	assert.Equal(t, 10001, r.Size())
}

func TestAllocate_ReturnsPortInRange(t *testing.T) {
	pool := NewPool(Range{Min: 10000, Max: 10009})

	port, err := pool.Allocate()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 10000)
	assert.LessOrEqual(t, port, 10009)
	assert.Equal(t, 1, pool.Used())
}

func TestAllocate_NeverHandsOutDuplicates(t *testing.T) {
	r := Range{Min: 10000, Max: 10019}
	pool := NewPool(r)

	seen := make(map[int]bool)
	for i := 0; i < r.Size(); i++ {
		port, err := pool.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
}

func TestAllocate_Exhausted(t *testing.T) {
	pool := NewPool(Range{Min: 10000, Max: 10002})

	for i := 0; i < 3; i++ {
		_, err := pool.Allocate()
		require.NoError(t, err)
	}

	_, err := pool.Allocate()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRelease_MakesPortAllocatableAgain(t *testing.T) {
	pool := NewPool(Range{Min: 10000, Max: 10000})

	port, err := pool.Allocate()
	require.NoError(t, err)

	_, err = pool.Allocate()
	require.ErrorIs(t, err, ErrExhausted)

	pool.Release(port)

	again, err := pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, port, again)
}

func TestRelease_Idempotent(t *testing.T) {
	pool := NewPool(Range{Min: 10000, Max: 10005})

	// Releasing free and out-of-range ports is a no-op.
	pool.Release(10003)
	pool.Release(99999)
	assert.Equal(t, 0, pool.Used())

	port, err := pool.Allocate()
	require.NoError(t, err)
	pool.Release(port)
	pool.Release(port)
	assert.Equal(t, 0, pool.Used())
}

func TestReserve(t *testing.T) {
	pool := NewPool(Range{Min: 10000, Max: 10005})

	require.NoError(t, pool.Reserve(10003))
	assert.ErrorIs(t, pool.Reserve(10003), ErrAlreadyAllocated)
	assert.ErrorIs(t, pool.Reserve(20000), ErrOutOfRange)

	// A reserved port is never handed out while held.
	for i := 0; i < 5; i++ {
		port, err := pool.Allocate()
		require.NoError(t, err)
		assert.NotEqual(t, 10003, port)
	}
}

func TestAllocate_ConcurrentCallersGetDistinctPorts(t *testing.T) {
	r := Range{Min: 10000, Max: 10099}
	pool := NewPool(r)

	var mu sync.Mutex
	var wg sync.WaitGroup
	seen := make(map[int]int)

	for i := 0; i < r.Size(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			port, err := pool.Allocate()
			if err != nil {
				return
			}
			mu.Lock()
			seen[port]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, r.Size())
	for port, count := range seen {
		assert.Equal(t, 1, count, "port %d allocated %d times", port, count)
	}
}
