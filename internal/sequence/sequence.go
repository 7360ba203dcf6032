// Package sequence allocates collision-free, human-readable patient codes.
// Codes are partitioned by the record's birth year, not by allocation
// time: P-<birth year>-<5-digit sequence>. Gaps are acceptable (aborted
// transactions), duplicates are not.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"sidra.tn/internal/obs"
)

// ErrConflict surfaces when the counter store kept failing after the
// bounded internal retries.
var ErrConflict = errors.New("sequence: allocation conflict")

// ErrInvalidPartition rejects partition keys outside the plausible
// birth-year range.
var ErrInvalidPartition = errors.New("sequence: invalid partition")

const defaultMaxRetries = 3

// CounterStore is the one place in the core requiring true mutual
// exclusion: Next must never hand the same value to two concurrent
// callers of the same partition. Implementations may return ErrConflict
// on transient serialization failures; the allocator retries those.
type CounterStore interface {
	Next(ctx context.Context, partition string) (int64, error)
}

// Allocator formats counter values into patient codes.
type Allocator struct {
	counters   CounterStore
	maxRetries int
}

// Option configures the allocator.
type Option func(*Allocator)

// WithMaxRetries bounds the internal retries on ErrConflict.
func WithMaxRetries(n int) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.maxRetries = n
		}
	}
}

// NewAllocator constructs an Allocator over the given counter store.
func NewAllocator(counters CounterStore, opts ...Option) (*Allocator, error) {
	if counters == nil {
		return nil, errors.New("sequence: counter store is required")
	}
	a := &Allocator{counters: counters, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NextCode allocates the next code for the given birth year. The returned
// identifier has the externally visible format P-YYYY-NNNNN.
func (a *Allocator) NextCode(ctx context.Context, birthYear int) (string, error) {
	if birthYear < 1900 || birthYear > 2200 {
		return "", fmt.Errorf("%w: birth year %d", ErrInvalidPartition, birthYear)
	}
	partition := strconv.Itoa(birthYear)

	var lastErr error
	for attempt := 0; attempt < a.maxRetries; attempt++ {
		n, err := a.counters.Next(ctx, partition)
		if err == nil {
			obs.RecordSequenceAllocation(partition)
			return FormatCode(birthYear, n), nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: giving up after %d attempts: %v", ErrConflict, a.maxRetries, lastErr)
}

// FormatCode renders the external identifier contract.
func FormatCode(birthYear int, n int64) string {
	return fmt.Sprintf("P-%04d-%05d", birthYear, n)
}

// InMemoryCounters implements CounterStore with per-partition counters
// behind a single mutex. The critical section is a map lookup and an
// increment, so cross-partition contention is tolerable.
type InMemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewInMemoryCounters creates an empty counter set.
func NewInMemoryCounters() *InMemoryCounters {
	return &InMemoryCounters{values: make(map[string]int64)}
}

func (c *InMemoryCounters) Next(ctx context.Context, partition string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[partition]++
	return c.values[partition], nil
}
