// SPDX-License-Identifier: MIT
package fft

import (
	"math"
)

// DFT is the direct O(n²) transform. It is slow and exact enough to serve
// as a reference when checking the fast backends.
type DFT struct {
	n       int
	twiddle []complex128 // e^{-2πik/n}
	scratch []complex128
}

var _ Transform = (*DFT)(nil)

// NewDFT returns a direct transform of length n.
func NewDFT(n int) (*DFT, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	tw := make([]complex128, n)
	for k := range n {
		s, c := math.Sincos(-2 * math.Pi * float64(k) / float64(n))
		tw[k] = complex(c, s)
	}
	return &DFT{n: n, twiddle: tw, scratch: make([]complex128, n)}, nil
}

func (d *DFT) Len() int { return d.n }

func (d *DFT) Forward(dst, src []complex128) error {
	if err := checkBuffers(d.n, dst, src); err != nil {
		return err
	}
	d.run(dst, src, false)
	return nil
}

func (d *DFT) Inverse(dst, src []complex128) error {
	if err := checkBuffers(d.n, dst, src); err != nil {
		return err
	}
	d.run(dst, src, true)
	scale := complex(1/float64(d.n), 0)
	for i := range dst {
		dst[i] *= scale
	}
	return nil
}

// run computes into scratch first so dst may alias src.
func (d *DFT) run(dst, src []complex128, inverse bool) {
	n := d.n
	for k := range n {
		var sum complex128
		idx := 0
		for j := range n {
			w := d.twiddle[idx]
			if inverse {
				w = complex(real(w), -imag(w))
			}
			sum += src[j] * w
			idx += k
			if idx >= n {
				idx -= n
			}
		}
		d.scratch[k] = sum
	}
	copy(dst, d.scratch)
}
