// SPDX-License-Identifier: MIT

// Package convolver implements uniformly partitioned overlap-add convolution
// in the frequency domain. An Engine applies one partitioned filter to an
// unbounded stream of fixed-size blocks with one block of latency, whatever
// the filter length.
package convolver

import (
	"errors"
	"fmt"

	"binaural/internal/fft"
)

// ErrBlockSize is returned when a block or transform does not match the
// engine's block size.
var ErrBlockSize = errors.New("convolver: block size mismatch")

// denormalFloor is the magnitude below which carried tail samples are
// flushed to zero so a decaying tail never reaches subnormal range.
const denormalFloor = 1e-30

// Engine is the convolution state for one (channel, ear) pair. It owns its
// input history and overlap tail; the filter partitions are shared and never
// written. An Engine must only be used from one goroutine.
type Engine struct {
	blockSize  int
	partitions [][]complex128 // filter spectra, read-only
	transform  fft.Transform

	history [][]complex128 // input spectra ring, depth == len(partitions)
	head    int            // slot of the newest input spectrum

	frame []complex128 // zero-padded input / inverse output, 2B
	accum []complex128 // spectral accumulator, 2B
	tail  []float64    // second half of the previous inverse, B

	// silentRun counts consecutive all-zero input blocks. Once it exceeds the
	// partition count every history slot and the tail are exactly zero.
	silentRun int
}

// New creates an engine for a filter given as P spectra of length 2*blockSize.
// transform must have length 2*blockSize and is owned by the engine from now on.
func New(partitions [][]complex128, blockSize int, transform fft.Transform) (*Engine, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBlockSize, blockSize)
	}
	if len(partitions) == 0 {
		return nil, errors.New("convolver: filter has no partitions")
	}
	n := 2 * blockSize
	if transform == nil || transform.Len() != n {
		return nil, fmt.Errorf("%w: transform length must be %d", ErrBlockSize, n)
	}
	for i, p := range partitions {
		if len(p) != n {
			return nil, fmt.Errorf("%w: partition %d has %d bins, want %d", ErrBlockSize, i, len(p), n)
		}
	}

	e := &Engine{
		blockSize:  blockSize,
		partitions: partitions,
		transform:  transform,
		history:    make([][]complex128, len(partitions)),
		frame:      make([]complex128, n),
		accum:      make([]complex128, n),
		tail:       make([]float64, blockSize),
	}
	for i := range e.history {
		e.history[i] = make([]complex128, n)
	}
	e.Reset()
	return e, nil
}

// Reset returns the engine to its initial all-silent state.
func (e *Engine) Reset() {
	for _, h := range e.history {
		clear(h)
	}
	clear(e.tail)
	e.head = 0
	e.silentRun = len(e.partitions) + 1
}

// BlockSize returns the number of samples per block.
func (e *Engine) BlockSize() int { return e.blockSize }

// PartitionCount returns the filter partition count, which is also the
// history depth.
func (e *Engine) PartitionCount() int { return len(e.partitions) }

// Latency returns the algorithmic latency in samples: one block.
func (e *Engine) Latency() int { return e.blockSize }

// Process convolves one block of src into dst. Both must hold exactly
// BlockSize samples; dst may alias src. Process does not allocate.
func (e *Engine) Process(dst, src []float64) error {
	b := e.blockSize
	if len(src) != b || len(dst) != b {
		return ErrBlockSize
	}

	if isSilent(src) {
		e.silentRun++
	} else {
		e.silentRun = 0
	}
	if e.silentRun > len(e.partitions) {
		clear(dst)
		return nil
	}

	// Newest input spectrum goes into the oldest slot.
	p := len(e.partitions)
	e.head++
	if e.head == p {
		e.head = 0
	}
	for i, v := range src {
		e.frame[i] = complex(v, 0)
	}
	clear(e.frame[b:])
	slot := e.history[e.head]
	if err := e.transform.Forward(slot, e.frame); err != nil {
		return err
	}

	// Y = sum_i X[k-i] * H[i]
	clear(e.accum)
	idx := e.head
	for i := range p {
		x := e.history[idx]
		h := e.partitions[i]
		acc := e.accum
		for k := range acc {
			acc[k] += x[k] * h[k]
		}
		idx--
		if idx < 0 {
			idx = p - 1
		}
	}

	if err := e.transform.Inverse(e.frame, e.accum); err != nil {
		return err
	}

	for i := range b {
		dst[i] = real(e.frame[i]) + e.tail[i]
	}
	for i := range b {
		v := real(e.frame[b+i])
		if v < denormalFloor && v > -denormalFloor {
			v = 0
		}
		e.tail[i] = v
	}
	return nil
}

func isSilent(block []float64) bool {
	for _, v := range block {
		if v != 0 {
			return false
		}
	}
	return true
}
