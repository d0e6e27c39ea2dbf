// SPDX-License-Identifier: MIT

// Package bridge connects the capture and render callbacks of an audio
// driver to the processing worker through lock-free block rings.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Processor renders one interleaved input block into one interleaved
// output block.
type Processor interface {
	Process(out, in []float32) error
}

// Observer is told how long each block took. Implementations must not
// block or allocate.
type Observer interface {
	Observe(start, end time.Time)
}

// Tap receives a copy of every rendered block. Implementations must not
// block; the block is only valid for the duration of the call.
type Tap interface {
	Write(block []float32)
}

// Config sizes a bridge.
type Config struct {
	BlockSize      int // frames per block
	InputChannels  int
	OutputChannels int
	RingBlocks     int // capacity of each ring, at least MinRingBlocks

	Processor Processor
	Observer  Observer // optional
	Tap       Tap      // optional
}

// MinRingBlocks is the smallest ring that absorbs one block of jitter on
// top of the block in flight.
const MinRingBlocks = 2

var (
	// ErrStopped is returned by Start and Run once Stop has been called.
	ErrStopped = errors.New("bridge: stopped")
	// ErrRunning is returned when the worker has already been started.
	ErrRunning = errors.New("bridge: worker already running")
)

// Stats is a snapshot of bridge counters.
type Stats struct {
	Captured      uint64 // blocks accepted from the capture side
	Processed     uint64 // blocks rendered by the worker
	Rendered      uint64 // blocks handed to the render side
	Underruns     uint64 // render requests answered with silence
	InputDropped  uint64 // inbound blocks evicted on overflow
	OutputDropped uint64 // outbound blocks evicted on overflow
	Rejected      uint64 // capture blocks refused after stop
}

// Bridge moves blocks between two real-time callbacks and a worker
// goroutine. DeliverInput and RequestOutput never block, lock or allocate.
type Bridge struct {
	cfg      Config
	inbound  *Ring
	outbound *Ring

	// worker scratch
	in  []float32
	out []float32

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	mu       sync.Mutex // guards started and closed
	started  bool
	closed   bool
	stopping atomic.Bool
	inflight atomic.Int64
	stopOnce sync.Once

	captured  atomic.Uint64
	processed atomic.Uint64
	rendered  atomic.Uint64
	underruns atomic.Uint64
	rejected  atomic.Uint64
}

// New allocates every buffer the bridge will ever use.
func New(cfg Config) (*Bridge, error) {
	if cfg.BlockSize <= 0 || cfg.InputChannels <= 0 || cfg.OutputChannels <= 0 {
		return nil, fmt.Errorf("bridge: invalid block geometry %d x (%d in, %d out)",
			cfg.BlockSize, cfg.InputChannels, cfg.OutputChannels)
	}
	if cfg.RingBlocks < MinRingBlocks {
		return nil, fmt.Errorf("bridge: ring of %d blocks is below the minimum of %d", cfg.RingBlocks, MinRingBlocks)
	}
	if cfg.Processor == nil {
		return nil, errors.New("bridge: processor is required")
	}

	inLen := cfg.BlockSize * cfg.InputChannels
	outLen := cfg.BlockSize * cfg.OutputChannels
	return &Bridge{
		cfg:      cfg,
		inbound:  NewRing(cfg.RingBlocks, inLen),
		outbound: NewRing(cfg.RingBlocks, outLen),
		in:       make([]float32, inLen),
		out:      make([]float32, outLen),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// InputBlockLen is the interleaved sample count DeliverInput expects.
func (b *Bridge) InputBlockLen() int { return b.inbound.BlockLen() }

// OutputBlockLen is the interleaved sample count RequestOutput fills.
func (b *Bridge) OutputBlockLen() int { return b.outbound.BlockLen() }

func (b *Bridge) enter() bool {
	b.inflight.Add(1)
	if b.stopping.Load() {
		b.inflight.Add(-1)
		return false
	}
	return true
}

func (b *Bridge) leave() { b.inflight.Add(-1) }

// DeliverInput is called from the capture callback with the next
// interleaved input block. If the worker has fallen behind the oldest
// pending block is evicted. After Stop the block is ignored.
func (b *Bridge) DeliverInput(block []float32) {
	if !b.enter() {
		b.rejected.Add(1)
		return
	}
	defer b.leave()

	if len(block) != b.inbound.BlockLen() {
		b.rejected.Add(1)
		return
	}
	if b.inbound.Push(block) {
		b.captured.Add(1)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// RequestOutput is called from the render callback and fills dst with the
// next rendered block, or with silence if none is ready or the bridge is
// stopping.
func (b *Bridge) RequestOutput(dst []float32) {
	if !b.enter() {
		clear(dst)
		return
	}
	defer b.leave()

	if len(dst) == b.outbound.BlockLen() && b.outbound.Pop(dst) {
		b.rendered.Add(1)
		return
	}
	clear(dst)
	b.underruns.Add(1)
}

// Start claims the worker slot and runs the worker loop on its own
// goroutine. The claim happens before Start returns, so a Stop issued right
// after it always waits for the worker to drain. The channel receives Run's
// result.
func (b *Bridge) Start(ctx context.Context) (<-chan error, error) {
	if err := b.claim(); err != nil {
		return nil, err
	}
	errc := make(chan error, 1)
	go func() { errc <- b.loop(ctx) }()
	return errc, nil
}

// Run is the worker loop. It wakes whenever a capture block arrives,
// processes every pending block and publishes the results. It returns nil
// after Stop or the first processing error. Cancelling ctx halts admission
// like Stop, drains what was admitted and returns ctx.Err().
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.claim(); err != nil {
		return err
	}
	return b.loop(ctx)
}

func (b *Bridge) claim() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.closed:
		return ErrStopped
	case b.started:
		return ErrRunning
	}
	b.started = true
	return nil
}

func (b *Bridge) loop(ctx context.Context) error {
	defer close(b.done)

	for {
		if err := b.drain(); err != nil {
			return err
		}
		select {
		case <-b.wake:
		case <-b.quit:
			return b.drain()
		case <-ctx.Done():
			b.quiesce()
			if err := b.drain(); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

// quiesce refuses further callbacks and waits for those already inside to
// leave. After it returns the capture ring only shrinks.
func (b *Bridge) quiesce() {
	b.stopping.Store(true)
	for b.inflight.Load() > 0 {
		time.Sleep(50 * time.Microsecond)
	}
}

// drain processes every block currently in the inbound ring.
func (b *Bridge) drain() error {
	for b.inbound.Pop(b.in) {
		start := time.Now()
		if err := b.cfg.Processor.Process(b.out, b.in); err != nil {
			return fmt.Errorf("bridge: processing block: %w", err)
		}
		b.outbound.Push(b.out)
		if b.cfg.Tap != nil {
			b.cfg.Tap.Write(b.out)
		}
		b.processed.Add(1)
		if b.cfg.Observer != nil {
			b.cfg.Observer.Observe(start, time.Now())
		}
	}
	return nil
}

// Stop halts admission of new capture blocks, silences the render side,
// waits for callbacks already inside the bridge to leave, lets the worker
// drain what was admitted and finally discards pending output. It is safe
// to call more than once and from any goroutine except the callbacks.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.quiesce()
		b.mu.Lock()
		b.closed = true
		started := b.started
		b.mu.Unlock()

		close(b.quit)
		if started {
			<-b.done
		}
		// No callback can reach the rings any more; drop undelivered output.
		for b.outbound.Pop(b.out) {
		}
		clear(b.out)
		clear(b.in)
	})
}

// Stopped reports whether Stop has been called.
func (b *Bridge) Stopped() bool { return b.stopping.Load() }

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Captured:      b.captured.Load(),
		Processed:     b.processed.Load(),
		Rendered:      b.rendered.Load(),
		Underruns:     b.underruns.Load(),
		InputDropped:  b.inbound.Dropped(),
		OutputDropped: b.outbound.Dropped(),
		Rejected:      b.rejected.Load(),
	}
}
