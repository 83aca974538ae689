// Package ports tracks host port allocation for running instances.
//
// The pool is in-memory only: it is rebuilt empty on process restart and
// re-seeded from the record store during startup reconciliation.
package ports

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var (
	// ErrExhausted is returned when every port in the range is allocated.
	ErrExhausted = errors.New("no available ports in range")

	// ErrOutOfRange is returned when reserving a port outside the pool range.
	ErrOutOfRange = errors.New("port outside pool range")

	// ErrAlreadyAllocated is returned when reserving a port that is in use.
	ErrAlreadyAllocated = errors.New("port already allocated")
)

// Range defines the inclusive host port range available to deployments.
type Range struct {
	Min int
	Max int
}

// DefaultRange returns the default deployment port range.
func DefaultRange() Range {
	return Range{Min: 10000, Max: 20000}
}

// Size returns the number of ports in the range.
func (r Range) Size() int {
	return r.Max - r.Min + 1
}

// Contains reports whether port falls inside the range.
func (r Range) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

// Pool hands out ports from a fixed range to concurrent callers. No two
// callers ever receive the same port while it is held.
type Pool struct {
	mu   sync.Mutex
	r    Range
	used map[int]struct{}
}

// NewPool creates a pool with every port in the range free.
func NewPool(r Range) *Pool {
	return &Pool{
		r:    r,
		used: make(map[int]struct{}),
	}
}

// Allocate returns a free port from the range, or ErrExhausted when none
// remain. The scan starts at a random offset so ports are not handed out in
// a predictable sequence.
func (p *Pool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := p.r.Size()
	if len(p.used) >= size {
		return 0, fmt.Errorf("%w: %d-%d", ErrExhausted, p.r.Min, p.r.Max)
	}

	start := rand.Intn(size)
	for i := 0; i < size; i++ {
		port := p.r.Min + (start+i)%size
		if _, taken := p.used[port]; !taken {
			p.used[port] = struct{}{}
			return port, nil
		}
	}

	return 0, fmt.Errorf("%w: %d-%d", ErrExhausted, p.r.Min, p.r.Max)
}

// Release returns a port to the pool. Releasing a free or out-of-range port
// is a no-op, never an error, so teardown paths can call it unconditionally.
func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.used, port)
}

// Reserve marks a specific port as allocated. Used at startup to re-seed the
// pool from deployments that were already running before a restart.
func (p *Pool) Reserve(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.r.Contains(port) {
		return fmt.Errorf("%w: %d not in %d-%d", ErrOutOfRange, port, p.r.Min, p.r.Max)
	}
	if _, taken := p.used[port]; taken {
		return fmt.Errorf("%w: %d", ErrAlreadyAllocated, port)
	}
	p.used[port] = struct{}{}
	return nil
}

// Used returns the number of currently allocated ports.
func (p *Pool) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.used)
}
