// SPDX-License-Identifier: MIT
package pool

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"spectra/pkg/bitint"
)

// slot is one cell of the ring. seq encodes which lap the cell belongs to and
// whether it currently holds an item: seq == pos means free for the producer
// at pos, seq == pos+1 means filled and ready for the consumer at pos.
type slot[T any] struct {
	seq  atomic.Uint64
	item *T
}

// ring is a bounded multi-producer multi-consumer FIFO (Vyukov's array queue).
// Producers and consumers claim positions with a CAS on tail/head and publish
// the cell with a store on its sequence number, so neither side ever takes a
// lock or allocates.
type ring[T any] struct {
	_     cpu.CacheLinePad
	tail  atomic.Uint64 // next enqueue position
	_     cpu.CacheLinePad
	head  atomic.Uint64 // next dequeue position
	_     cpu.CacheLinePad
	mask  uint64
	slots []slot[T]
}

func newRing[T any](capacity int) *ring[T] {
	size := bitint.NextPowerOfTwo(capacity)
	r := &ring[T]{
		mask:  uint64(size - 1),
		slots: make([]slot[T], size),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// push enqueues item. It returns false if the ring is full.
func (r *ring[T]) push(item *T) bool {
	pos := r.tail.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)

		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				s.item = item
				s.seq.Store(pos + 1)
				return true
			}
			pos = r.tail.Load()
		case diff < 0:
			// The consumer from the previous lap has not released this cell.
			return false
		default:
			pos = r.tail.Load()
		}
	}
}

// pop dequeues the oldest item. It returns false if the ring is empty.
func (r *ring[T]) pop() (*T, bool) {
	pos := r.head.Load()
	for {
		s := &r.slots[pos&r.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)

		switch {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				item := s.item
				s.item = nil
				s.seq.Store(pos + r.mask + 1)
				return item, true
			}
			pos = r.head.Load()
		case diff < 0:
			return nil, false
		default:
			pos = r.head.Load()
		}
	}
}

func (r *ring[T]) size() int {
	return len(r.slots)
}
