// SPDX-License-Identifier: MIT
package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRoundsUpToPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, newRing[int](1).size())
	assert.Equal(t, 4, newRing[int](3).size())
	assert.Equal(t, 16, newRing[int](16).size())
}

func TestRingFIFO(t *testing.T) {
	r := newRing[int](4)
	values := []int{1, 2, 3, 4}

	for i := range values {
		require.True(t, r.push(&values[i]))
	}
	assert.False(t, r.push(new(int)), "ring is full")

	for i := range values {
		got, ok := r.pop()
		require.True(t, ok)
		assert.Same(t, &values[i], got)
	}

	_, ok := r.pop()
	assert.False(t, ok, "ring is empty")
}

func TestRingWrapsAcrossLaps(t *testing.T) {
	r := newRing[int](2)
	for lap := range 10 {
		v := lap
		require.True(t, r.push(&v))
		got, ok := r.pop()
		require.True(t, ok)
		assert.Equal(t, lap, *got)
	}
}

func TestRingConcurrentNoLoss(t *testing.T) {
	const (
		producers = 4
		perWorker = 2000
	)
	r := newRing[int](64)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received = make(map[*int]struct{}, producers*perWorker)
	)

	items := make([]int, producers*perWorker)
	for p := range producers {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for i := range perWorker {
				item := &items[offset+i]
				for !r.push(item) {
					if got, ok := r.pop(); ok {
						mu.Lock()
						received[got] = struct{}{}
						mu.Unlock()
					}
				}
			}
		}(p * perWorker)
	}
	wg.Wait()

	for {
		got, ok := r.pop()
		if !ok {
			break
		}
		received[got] = struct{}{}
	}

	assert.Len(t, received, producers*perWorker, "every pushed item is popped exactly once")
}
