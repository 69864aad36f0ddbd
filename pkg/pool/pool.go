// SPDX-License-Identifier: MIT
/*
Package pool implements a bounded, lock-free object pool for real-time paths.

Get never blocks: it reuses a queued item when one is available and falls back
to the factory otherwise. Return never blocks either: it resets the item and
queues it while the pool is below capacity, and drops it when the pool is full,
the reset fails, or the pool has been disposed.

Thread Safety:
- The queue is a lock-free bounded ring, the live count is an atomic integer
- Disposal is a one-way atomic flag checked by both Get and Return
- Get/Return perform no heap allocation once the pool is warm

Count reflects only items sitting in the queue, never items checked out, and
always satisfies 0 <= Count() <= MaxCapacity().
*/
package pool

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

var (
	// ErrDisposed is returned by Get once Dispose has been called.
	ErrDisposed = errors.New("pool: use after dispose")

	// ErrNilItem is returned by Return when handed a nil item.
	ErrNilItem = errors.New("pool: nil item")
)

// Config describes a pool. Factory and MaxCapacity are required.
type Config[T any] struct {
	Name        string         // label used in errors and metrics
	Factory     func() *T      // constructs a fresh item
	Reset       func(*T) error // optional, restores an item before it is queued
	MaxCapacity int            // upper bound on queued items
	Preload     int            // items constructed eagerly, capped at MaxCapacity
}

// Stats is a point-in-time snapshot of pool usage.
type Stats struct {
	Hits     uint64 // Get served from the queue
	Misses   uint64 // Get served by the factory
	Returned uint64 // Return that queued the item
	Dropped  uint64 // Return discarded because the pool was full
	Rejected uint64 // Return discarded because reset failed
}

// Pool recycles *T values. The zero value is not usable, use New.
type Pool[T any] struct {
	name     string
	factory  func() *T
	reset    func(*T) error
	max      int64
	queue    *ring[T]
	count    atomic.Int64
	disposed atomic.Bool

	hits     atomic.Uint64
	misses   atomic.Uint64
	returned atomic.Uint64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

// New creates a pool and preloads min(cfg.Preload, cfg.MaxCapacity) items.
func New[T any](cfg Config[T]) (*Pool[T], error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("pool %q: factory is required", cfg.Name)
	}
	if cfg.MaxCapacity < 1 {
		return nil, fmt.Errorf("pool %q: max capacity must be positive, got %d", cfg.Name, cfg.MaxCapacity)
	}

	p := &Pool[T]{
		name:    cfg.Name,
		factory: cfg.Factory,
		reset:   cfg.Reset,
		max:     int64(cfg.MaxCapacity),
		queue:   newRing[T](cfg.MaxCapacity),
	}

	preload := min(max(cfg.Preload, 0), cfg.MaxCapacity)
	for range preload {
		if !p.queue.push(cfg.Factory()) {
			break
		}
		p.count.Add(1)
	}

	return p, nil
}

// Get returns a queued item or, when the queue is empty, a new one from the
// factory. It only fails after Dispose.
func (p *Pool[T]) Get() (*T, error) {
	if p.disposed.Load() {
		return nil, ErrDisposed
	}

	if item, ok := p.queue.pop(); ok {
		p.count.Add(-1)
		p.hits.Add(1)
		return item, nil
	}

	p.misses.Add(1)
	return p.factory(), nil
}

// Return hands item back to the pool. Items returned after Dispose, items
// whose reset fails, and items arriving while the pool is full are dropped.
// When Dispose runs while the item is being queued, Return drains and closes
// it instead and reports any close error.
func (p *Pool[T]) Return(item *T) error {
	if item == nil {
		return ErrNilItem
	}
	if p.disposed.Load() {
		return nil
	}

	if p.reset != nil {
		if err := p.resetItem(item); err != nil {
			p.rejected.Add(1)
			return nil
		}
	}

	// Reserve a place before enqueueing so the count can never overshoot.
	for {
		c := p.count.Load()
		if c >= p.max {
			p.dropped.Add(1)
			return nil
		}
		if p.count.CompareAndSwap(c, c+1) {
			break
		}
	}

	if !p.queue.push(item) {
		p.count.Add(-1)
		p.dropped.Add(1)
		return nil
	}
	p.returned.Add(1)

	// Dispose may have drained the queue between the check above and the
	// push. Either its drain saw this item or this drain will.
	if p.disposed.Load() {
		if errs := p.drain(); len(errs) > 0 {
			return fmt.Errorf("pool %q: return after dispose: %w", p.name, errors.Join(errs...))
		}
	}
	return nil
}

func (p *Pool[T]) resetItem(item *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool %q: reset panicked: %v", p.name, r)
		}
	}()
	return p.reset(item)
}

// Clear drops every queued item. Items currently checked out are unaffected.
func (p *Pool[T]) Clear() {
	for {
		if _, ok := p.queue.pop(); !ok {
			return
		}
		p.count.Add(-1)
	}
}

// Dispose marks the pool as disposed, drains the queue and closes every
// drained item implementing io.Closer. Calls after the first are no-ops.
func (p *Pool[T]) Dispose() error {
	if !p.disposed.CompareAndSwap(false, true) {
		return nil
	}

	if errs := p.drain(); len(errs) > 0 {
		return fmt.Errorf("pool %q: dispose: %w", p.name, errors.Join(errs...))
	}
	return nil
}

// drain pops every queued item and closes those implementing io.Closer.
func (p *Pool[T]) drain() []error {
	var errs []error
	for {
		item, ok := p.queue.pop()
		if !ok {
			return errs
		}
		p.count.Add(-1)

		if c, ok := any(item).(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
}

// Count returns the number of items currently queued.
func (p *Pool[T]) Count() int {
	return int(p.count.Load())
}

// MaxCapacity returns the upper bound on queued items.
func (p *Pool[T]) MaxCapacity() int {
	return int(p.max)
}

// Disposed reports whether Dispose has been called.
func (p *Pool[T]) Disposed() bool {
	return p.disposed.Load()
}

// Name returns the label given at construction.
func (p *Pool[T]) Name() string {
	return p.name
}

// Stats returns a snapshot of the usage counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Returned: p.returned.Load(),
		Dropped:  p.dropped.Load(),
		Rejected: p.rejected.Load(),
	}
}
