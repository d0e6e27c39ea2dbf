// SPDX-License-Identifier: MIT
package bridge

import (
	"sync/atomic"
)

// Ring is a fixed-capacity single-producer/single-consumer queue of
// fixed-length blocks. Neither side blocks or allocates. When the ring is
// full the producer evicts the oldest unread block, so a slow consumer
// loses old data rather than stalling the producer.
//
// Blocks are copied in and out; a block is only visible to the consumer
// after it is completely written.
type Ring struct {
	slots    [][]float32
	n        uint64 // physical slots, capacity+1
	capacity uint64
	blockLen int

	head atomic.Uint64 // next write, only advanced by the producer
	tail atomic.Uint64 // next read, advanced by the consumer or by eviction
	busy atomic.Int64  // slot being copied out by the consumer, -1 when idle

	dropped atomic.Uint64
}

// NewRing allocates capacity blocks of blockLen samples.
func NewRing(capacity, blockLen int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring{
		slots:    make([][]float32, capacity+1),
		n:        uint64(capacity + 1),
		capacity: uint64(capacity),
		blockLen: blockLen,
	}
	for i := range r.slots {
		r.slots[i] = make([]float32, blockLen)
	}
	r.busy.Store(-1)
	return r
}

// Push copies src into the ring. It reports false if the new block itself
// had to be discarded; evicting an old block still reports true. Every
// discarded block is counted by Dropped.
func (r *Ring) Push(src []float32) bool {
	h := r.head.Load()
	for {
		t := r.tail.Load()
		if h-t < r.capacity {
			break
		}
		if r.tail.CompareAndSwap(t, t+1) {
			r.dropped.Add(1)
			break
		}
	}

	// The consumer may still be copying out of the slot we are about to
	// reuse if it was lapped mid-copy. Drop the new block instead.
	s := h % r.n
	if r.busy.Load() == int64(s) {
		r.dropped.Add(1)
		return false
	}
	copy(r.slots[s], src)
	r.head.Store(h + 1)
	return true
}

// Pop copies the oldest block into dst and reports whether there was one.
func (r *Ring) Pop(dst []float32) bool {
	for {
		t := r.tail.Load()
		if t == r.head.Load() {
			return false
		}
		s := t % r.n
		r.busy.Store(int64(s))
		if r.tail.CompareAndSwap(t, t+1) {
			copy(dst, r.slots[s])
			r.busy.Store(-1)
			return true
		}
		// Lost the slot to an eviction; try the next one.
		r.busy.Store(-1)
	}
}

// Len returns the number of unread blocks.
func (r *Ring) Len() int {
	h := r.head.Load()
	t := r.tail.Load()
	if t > h {
		return 0
	}
	return int(h - t)
}

// Cap returns the capacity in blocks.
func (r *Ring) Cap() int { return int(r.capacity) }

// BlockLen returns the samples per block.
func (r *Ring) BlockLen() int { return r.blockLen }

// Dropped returns the number of blocks discarded on overflow.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }
