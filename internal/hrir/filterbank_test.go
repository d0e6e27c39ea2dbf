// SPDX-License-Identifier: MIT
package hrir

import (
	"math/cmplx"
	"testing"

	"binaural/internal/config"
	"binaural/internal/fft"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	resampler "github.com/tphakala/go-audio-resampler"
)

func TestNewFilter_Partitioning(t *testing.T) {
	tests := []struct {
		name       string
		taps       int
		blockSize  int
		partitions int
	}{
		{"single partial", 5, 8, 1},
		{"exact fit", 16, 8, 2},
		{"zero padded tail", 17, 8, 3},
		{"one tap", 1, 32, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := fft.NewDFT(2 * tt.blockSize)
			require.NoError(t, err)

			taps := make([]float64, tt.taps)
			for i := range taps {
				taps[i] = 1
			}
			f, err := NewFilter(taps, tt.blockSize, tr)
			require.NoError(t, err)

			assert.Equal(t, tt.partitions, f.PartitionCount())
			assert.Equal(t, tt.taps, f.Taps)
			assert.InDelta(t, float64(tt.taps), f.L1, 1e-12)
			for _, p := range f.Partitions {
				assert.Len(t, p, 2*tt.blockSize)
			}

			// DC bin of each partition is the sum of its taps.
			last := f.Partitions[len(f.Partitions)-1]
			wantLast := float64(tt.taps - (tt.partitions-1)*tt.blockSize)
			assert.InDelta(t, wantLast, real(last[0]), 1e-9)
		})
	}
}

func TestNewFilter_ImpulseSpectrum(t *testing.T) {
	tr, err := fft.NewFourier(16)
	require.NoError(t, err)

	f, err := NewFilter([]float64{1}, 8, tr)
	require.NoError(t, err)
	for k, v := range f.Partitions[0] {
		assert.InDelta(t, 1, cmplx.Abs(v), 1e-12, "bin %d", k)
	}
}

func TestNewFilter_Errors(t *testing.T) {
	tr, err := fft.NewDFT(16)
	require.NoError(t, err)

	_, err = NewFilter(nil, 8, tr)
	assert.ErrorIs(t, err, ErrEmptyFilter)

	_, err = NewFilter([]float64{1}, 4, tr)
	assert.Error(t, err)
}

func TestNewFilterBank(t *testing.T) {
	irs := uniformSet(48000, make([]float64, 100))
	irs[0].Samples = []float64{1, 0.5}

	bank, err := NewFilterBank(irs, Params{SampleRate: 48000, BlockSize: 32})
	require.NoError(t, err)

	assert.Equal(t, 32, bank.BlockSize())
	assert.Equal(t, 48000.0, bank.SampleRate())
	assert.Equal(t, 4, bank.MaxPartitions())
	assert.Equal(t, 1, bank.Filter(config.FL, Left).PartitionCount())
	assert.InDelta(t, 1.5, bank.Filter(config.FL, Left).L1, 1e-12)
	assert.Equal(t, 4, bank.Filter(config.SR, Right).PartitionCount())
}

func TestNewFilterBank_Validation(t *testing.T) {
	params := Params{SampleRate: 48000, BlockSize: 16}

	t.Run("missing pair", func(t *testing.T) {
		irs := uniformSet(48000, []float64{1})
		_, err := NewFilterBank(irs[:15], params)
		assert.ErrorIs(t, err, ErrMissingFilter)
	})

	t.Run("empty filter", func(t *testing.T) {
		irs := uniformSet(48000, []float64{1})
		irs[5].Samples = nil
		_, err := NewFilterBank(irs, params)
		assert.ErrorIs(t, err, ErrEmptyFilter)
	})

	t.Run("unsupported ratio", func(t *testing.T) {
		irs := uniformSet(48000, []float64{1})
		irs[3].SampleRate = 8000
		_, err := NewFilterBank(irs, params)
		assert.ErrorIs(t, err, ErrUnsupportedRatio)
	})

	t.Run("duplicate pair", func(t *testing.T) {
		irs := uniformSet(48000, []float64{1})
		irs = append(irs, irs[0])
		_, err := NewFilterBank(irs, params)
		assert.Error(t, err)
	})

	t.Run("bad block size", func(t *testing.T) {
		_, err := NewFilterBank(uniformSet(48000, []float64{1}), Params{SampleRate: 48000, BlockSize: 24})
		assert.Error(t, err)
	})
}

func TestNewFilterBank_Resamples(t *testing.T) {
	taps := make([]float64, 4410)
	taps[10] = 1
	irs := uniformSet(44100, taps)

	bank, err := NewFilterBank(irs, Params{SampleRate: 48000, BlockSize: 512, Quality: resampler.QualityHigh})
	require.NoError(t, err)

	got := bank.Filter(config.FC, Right).Taps
	assert.InDelta(t, 4800, got, 480, "resampled length")
}

func TestFilterBank_Clone(t *testing.T) {
	bank, err := NewFilterBank(uniformSet(48000, []float64{1, 2, 3}), Params{SampleRate: 48000, BlockSize: 8})
	require.NoError(t, err)

	clone := bank.Clone()
	clone.Filter(config.FL, Left).Partitions[0][0] = 42

	assert.NotEqual(t, complex(42, 0), bank.Filter(config.FL, Left).Partitions[0][0])
	assert.Equal(t, bank.Filter(config.BR, Right).Taps, clone.Filter(config.BR, Right).Taps)
}

func TestResample(t *testing.T) {
	in := []float64{1, 2, 3}
	out, err := Resample(in, 48000, 48000, resampler.QualityHigh)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Resample(in, 48000, 8000, resampler.QualityHigh)
	assert.ErrorIs(t, err, ErrUnsupportedRatio)

	_, err = Resample(in, 0, 48000, resampler.QualityHigh)
	assert.ErrorIs(t, err, ErrUnsupportedRatio)
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("VeryHigh")
	require.NoError(t, err)
	assert.Equal(t, resampler.QualityVeryHigh, q)

	_, err = ParseQuality("ultra")
	assert.Error(t, err)
}

func TestNewEqualizer(t *testing.T) {
	pair := &Pair{Left: []float64{1, 0, 0.5}, Right: []float64{-2}, SampleRate: 48000}
	eq, err := NewEqualizer(pair, Params{SampleRate: 48000, BlockSize: 16})
	require.NoError(t, err)

	assert.InDelta(t, 1.5, eq[Left].L1, 1e-12)
	assert.InDelta(t, 2, eq[Right].L1, 1e-12)

	_, err = NewEqualizer(&Pair{Left: nil, Right: []float64{1}, SampleRate: 48000}, Params{SampleRate: 48000, BlockSize: 16})
	assert.ErrorIs(t, err, ErrEmptyFilter)
}
