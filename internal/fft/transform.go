// SPDX-License-Identifier: MIT
package fft

import (
	"errors"
	"fmt"
	"strings"

	"binaural/pkg/bitint"
)

// Transform is a fixed-length complex DFT. Forward is unnormalized and
// Inverse is scaled by 1/n, so Inverse(Forward(x)) reproduces x.
//
// Implementations own their scratch memory and must not allocate in
// Forward or Inverse once constructed. A Transform is not safe for
// concurrent use; every convolution engine holds its own.
type Transform interface {
	Len() int
	Forward(dst, src []complex128) error
	Inverse(dst, src []complex128) error
}

// Factory builds a Transform of length n.
type Factory func(n int) (Transform, error)

// Backend names accepted by New.
const (
	BackendGonum   = "gonum"
	BackendAlgoFFT = "algofft"
	BackendDFT     = "dft"
)

var (
	// ErrSize is returned for lengths that are not a positive power of two.
	ErrSize = errors.New("fft: length must be a positive power of two")
	// ErrLength is returned when dst or src does not match the transform length.
	ErrLength = errors.New("fft: buffer length mismatch")
)

// New builds a transform of length n using the named backend.
func New(backend string, n int) (Transform, error) {
	f, err := FactoryFor(backend)
	if err != nil {
		return nil, err
	}
	return f(n)
}

// FactoryFor resolves a backend name to its constructor.
func FactoryFor(backend string) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendGonum, "":
		return func(n int) (Transform, error) { return NewFourier(n) }, nil
	case BackendAlgoFFT:
		return func(n int) (Transform, error) { return NewPlan(n) }, nil
	case BackendDFT:
		return func(n int) (Transform, error) { return NewDFT(n) }, nil
	default:
		return nil, fmt.Errorf("fft: unknown backend %q", backend)
	}
}

func checkSize(n int) error {
	if n <= 0 || !bitint.IsPowerOfTwo(n) {
		return fmt.Errorf("%w: %d", ErrSize, n)
	}
	return nil
}

func checkBuffers(n int, dst, src []complex128) error {
	if len(dst) != n || len(src) != n {
		return ErrLength
	}
	return nil
}
