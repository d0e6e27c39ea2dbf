// SPDX-License-Identifier: MIT
package convolver

import (
	"math"
	"math/rand/v2"
	"testing"

	"binaural/internal/fft"
	"binaural/internal/hrir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlock = 64

func newEngine(t testing.TB, taps []float64, blockSize int, backend string) *Engine {
	t.Helper()
	tr, err := fft.New(backend, 2*blockSize)
	require.NoError(t, err)
	f, err := hrir.NewFilter(taps, blockSize, tr)
	require.NoError(t, err)

	// Engines get their own transform, never the one used to build filters.
	own, err := fft.New(backend, 2*blockSize)
	require.NoError(t, err)
	e, err := New(f.Partitions, blockSize, own)
	require.NoError(t, err)
	return e
}

func noise(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 42))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

// run streams signal through e block by block and returns the output.
func run(t testing.TB, e *Engine, signal []float64) []float64 {
	t.Helper()
	b := e.BlockSize()
	out := make([]float64, len(signal))
	for k := 0; k+b <= len(signal); k += b {
		require.NoError(t, e.Process(out[k:k+b], signal[k:k+b]))
	}
	return out
}

// direct is the time-domain convolution truncated to len(x).
func direct(x, h []float64) []float64 {
	y := make([]float64, len(x))
	for n := range y {
		var sum float64
		for k := 0; k < len(h) && k <= n; k++ {
			sum += h[k] * x[n-k]
		}
		y[n] = sum
	}
	return y
}

func TestIdentity(t *testing.T) {
	for _, backend := range []string{fft.BackendGonum, fft.BackendAlgoFFT, fft.BackendDFT} {
		t.Run(backend, func(t *testing.T) {
			e := newEngine(t, []float64{1}, testBlock, backend)
			x := noise(8*testBlock, 1)
			y := run(t, e, x)
			for i := range x {
				if math.Abs(x[i]-y[i]) > 1e-9 {
					t.Fatalf("sample %d: got %g, want %g", i, y[i], x[i])
				}
			}
		})
	}
}

func TestMatchesDirectConvolution(t *testing.T) {
	tests := []struct {
		name string
		taps int
	}{
		{"shorter than block", 17},
		{"exactly one block", testBlock},
		{"three partitions", 3*testBlock - 5},
		{"long filter", 10*testBlock + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := noise(tt.taps, 7)
			x := noise(16*testBlock, 9)
			e := newEngine(t, h, testBlock, fft.BackendGonum)

			got := run(t, e, x)
			want := direct(x, h)
			for i := range want {
				if math.Abs(got[i]-want[i]) > 1e-8 {
					t.Fatalf("sample %d: got %g, want %g", i, got[i], want[i])
				}
			}
		})
	}
}

func TestLinearity(t *testing.T) {
	const a, b = 0.75, -2.5
	h := noise(5*testBlock, 3)
	x := noise(12*testBlock, 4)
	y := noise(12*testBlock, 5)

	mix := make([]float64, len(x))
	for i := range mix {
		mix[i] = a*x[i] + b*y[i]
	}

	cx := run(t, newEngine(t, h, testBlock, fft.BackendGonum), x)
	cy := run(t, newEngine(t, h, testBlock, fft.BackendGonum), y)
	cm := run(t, newEngine(t, h, testBlock, fft.BackendGonum), mix)

	for i := range cm {
		assert.InDelta(t, a*cx[i]+b*cy[i], cm[i], 1e-9, "sample %d", i)
	}
}

func TestCausalityAndLatency(t *testing.T) {
	// An impulse at block 2 must leave blocks 0 and 1 untouched and land at
	// the same offset for every filter length.
	const offset = 2*testBlock + 5
	for _, length := range []int{1, testBlock, 4 * testBlock, 9 * testBlock} {
		h := make([]float64, length)
		h[0] = 1

		x := make([]float64, 12*testBlock)
		x[offset] = 1
		e := newEngine(t, h, testBlock, fft.BackendGonum)
		require.Equal(t, testBlock, e.Latency())

		y := run(t, e, x)
		for i := range offset {
			if math.Abs(y[i]) > 1e-12 {
				t.Fatalf("len %d: output %d = %g before the impulse", length, i, y[i])
			}
		}
		assert.InDelta(t, 1, y[offset], 1e-12, "len %d", length)
	}
}

func TestCausalityFutureInput(t *testing.T) {
	// Output block k is unchanged by anything fed after block k.
	h := noise(3*testBlock, 11)
	x := noise(6*testBlock, 12)
	x2 := append([]float64(nil), x...)
	for i := 4 * testBlock; i < len(x2); i++ {
		x2[i] = 0
	}

	y1 := run(t, newEngine(t, h, testBlock, fft.BackendGonum), x)
	y2 := run(t, newEngine(t, h, testBlock, fft.BackendGonum), x2)
	for i := range 4 * testBlock {
		assert.Equal(t, y1[i], y2[i], "sample %d", i)
	}
}

func TestSilence(t *testing.T) {
	h := noise(4*testBlock, 13)
	e := newEngine(t, h, testBlock, fft.BackendGonum)

	zero := make([]float64, testBlock)
	out := make([]float64, testBlock)
	for range 10 {
		require.NoError(t, e.Process(out, zero))
		for i, v := range out {
			require.Zero(t, v, "sample %d", i)
		}
	}
}

func TestSilenceAfterSignalDecaysToExactZero(t *testing.T) {
	h := noise(3*testBlock, 14)
	e := newEngine(t, h, testBlock, fft.BackendGonum)
	out := make([]float64, testBlock)

	require.NoError(t, e.Process(out, noise(testBlock, 15)))

	zero := make([]float64, testBlock)
	for k := range e.PartitionCount() + 3 {
		require.NoError(t, e.Process(out, zero))
		if k >= e.PartitionCount() {
			for i, v := range out {
				require.Zero(t, v, "block %d sample %d", k, i)
			}
		}
	}
}

func TestNoNaNOnTinyInput(t *testing.T) {
	h := noise(2*testBlock, 16)
	e := newEngine(t, h, testBlock, fft.BackendGonum)
	in := make([]float64, testBlock)
	out := make([]float64, testBlock)
	in[0] = math.SmallestNonzeroFloat64

	for range 20 {
		require.NoError(t, e.Process(out, in))
		for _, v := range out {
			require.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
		clear(in)
	}
}

func TestResetForgetsState(t *testing.T) {
	h := noise(2*testBlock, 17)
	x := noise(4*testBlock, 18)

	e := newEngine(t, h, testBlock, fft.BackendGonum)
	first := run(t, e, x)
	e.Reset()
	second := run(t, e, x)
	assert.Equal(t, first, second)
}

func TestProcessInPlace(t *testing.T) {
	h := noise(2*testBlock, 19)
	x := noise(testBlock, 20)

	want := make([]float64, testBlock)
	require.NoError(t, newEngine(t, h, testBlock, fft.BackendGonum).Process(want, x))

	buf := append([]float64(nil), x...)
	require.NoError(t, newEngine(t, h, testBlock, fft.BackendGonum).Process(buf, buf))
	assert.Equal(t, want, buf)
}

func TestNewErrors(t *testing.T) {
	tr, err := fft.NewFourier(2 * testBlock)
	require.NoError(t, err)
	part := [][]complex128{make([]complex128, 2*testBlock)}

	_, err = New(part, 0, tr)
	assert.ErrorIs(t, err, ErrBlockSize)

	_, err = New(part, testBlock/2, tr)
	assert.ErrorIs(t, err, ErrBlockSize)

	_, err = New(nil, testBlock, tr)
	assert.Error(t, err)

	_, err = New([][]complex128{make([]complex128, 3)}, testBlock, tr)
	assert.ErrorIs(t, err, ErrBlockSize)

	e, err := New(part, testBlock, tr)
	require.NoError(t, err)
	assert.ErrorIs(t, e.Process(make([]float64, 3), make([]float64, testBlock)), ErrBlockSize)
}

func TestProcessHotPath(t *testing.T) {
	e := newEngine(t, noise(8*1024, 21), 1024, fft.BackendGonum)
	in := noise(1024, 22)
	out := make([]float64, 1024)

	// Warm-up call (potential initial allocations).
	_ = e.Process(out, in)

	allocs := testing.AllocsPerRun(50, func() {
		_ = e.Process(out, in)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in convolver Process hot path, got %.1f", allocs)
	}
}

func BenchmarkProcess(b *testing.B) {
	e := newEngine(b, noise(4096, 23), 1024, fft.BackendGonum)
	in := noise(1024, 24)
	out := make([]float64, 1024)

	b.ReportAllocs()

	for b.Loop() {
		_ = e.Process(out, in)
	}
}
