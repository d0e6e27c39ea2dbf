// SPDX-License-Identifier: MIT
package fft

import "gonum.org/v1/gonum/dsp/fourier"

// Fourier wraps gonum's complex FFT. gonum leaves the inverse unscaled, so
// Inverse applies the 1/n factor itself.
type Fourier struct {
	n     int
	scale float64
	fft   *fourier.CmplxFFT
}

var _ Transform = (*Fourier)(nil)

// NewFourier returns a gonum-backed transform of length n.
func NewFourier(n int) (*Fourier, error) {
	if err := checkSize(n); err != nil {
		return nil, err
	}
	return &Fourier{
		n:     n,
		scale: 1 / float64(n),
		fft:   fourier.NewCmplxFFT(n),
	}, nil
}

func (f *Fourier) Len() int { return f.n }

func (f *Fourier) Forward(dst, src []complex128) error {
	if err := checkBuffers(f.n, dst, src); err != nil {
		return err
	}
	f.fft.Coefficients(dst, src)
	return nil
}

func (f *Fourier) Inverse(dst, src []complex128) error {
	if err := checkBuffers(f.n, dst, src); err != nil {
		return err
	}
	f.fft.Sequence(dst, src)
	s := complex(f.scale, 0)
	for i := range dst {
		dst[i] *= s
	}
	return nil
}
