// SPDX-License-Identifier: MIT
package hrir

import (
	"fmt"

	"binaural/internal/config"
	"binaural/internal/fft"
	applog "binaural/internal/log"
	"binaural/pkg/bitint"

	resampler "github.com/tphakala/go-audio-resampler"
	"gonum.org/v1/gonum/floats"
)

// Params describes the session a FilterBank is prepared for.
type Params struct {
	SampleRate   float64
	BlockSize    int
	Quality      resampler.QualityPreset
	NewTransform fft.Factory // transform of length 2*BlockSize; defaults to gonum
}

func (p Params) transform() (fft.Transform, error) {
	if p.NewTransform == nil {
		return fft.NewFourier(2 * p.BlockSize)
	}
	return p.NewTransform(2 * p.BlockSize)
}

// Filter is the frequency-domain partitioned form of one impulse response.
// Partitions[i] is the 2B-point spectrum of taps [i*B, (i+1)*B) zero-padded
// to 2B. Partitions are read-only once built.
type Filter struct {
	Partitions [][]complex128
	Taps       int     // length after resampling
	L1         float64 // sum of |h[n]|, the worst-case gain for unit input
}

// PartitionCount returns P = ceil(Taps / B).
func (f *Filter) PartitionCount() int { return len(f.Partitions) }

// NewFilter partitions taps into blocks of blockSize and transforms each
// block with tr, which must have length 2*blockSize.
func NewFilter(taps []float64, blockSize int, tr fft.Transform) (*Filter, error) {
	if len(taps) == 0 {
		return nil, ErrEmptyFilter
	}
	if blockSize <= 0 || tr.Len() != 2*blockSize {
		return nil, fmt.Errorf("hrir: transform length %d does not match block size %d", tr.Len(), blockSize)
	}

	count := bitint.CeilDiv(len(taps), blockSize)
	f := &Filter{
		Partitions: make([][]complex128, count),
		Taps:       len(taps),
		L1:         floats.Norm(taps, 1),
	}

	segment := make([]complex128, 2*blockSize)
	for p := range count {
		clear(segment)
		start := p * blockSize
		end := min(start+blockSize, len(taps))
		for i, v := range taps[start:end] {
			segment[i] = complex(v, 0)
		}
		spectrum := make([]complex128, 2*blockSize)
		if err := tr.Forward(spectrum, segment); err != nil {
			return nil, fmt.Errorf("hrir: transforming partition %d: %w", p, err)
		}
		f.Partitions[p] = spectrum
	}
	return f, nil
}

// FilterBank holds the sixteen partitioned filters of a session, indexed by
// source channel and ear. It is built once and only read afterwards.
type FilterBank struct {
	sampleRate float64
	blockSize  int
	filters    [config.NumChannels][NumEars]*Filter
}

// NewFilterBank validates that irs covers every (channel, ear) pair,
// resamples each response to p.SampleRate and partitions it into blocks of
// p.BlockSize.
func NewFilterBank(irs []ImpulseResponse, p Params) (*FilterBank, error) {
	if p.BlockSize <= 0 || !bitint.IsPowerOfTwo(p.BlockSize) {
		return nil, fmt.Errorf("hrir: block size %d must be a positive power of two", p.BlockSize)
	}
	if p.SampleRate <= 0 {
		return nil, fmt.Errorf("hrir: sample rate %.0f must be positive", p.SampleRate)
	}
	tr, err := p.transform()
	if err != nil {
		return nil, err
	}

	var byPair [config.NumChannels][NumEars]*ImpulseResponse
	for i := range irs {
		ir := &irs[i]
		if !ir.Channel.Valid() || ir.Ear < Left || ir.Ear > Right {
			return nil, fmt.Errorf("hrir: invalid tag %s/%s", ir.Channel, ir.Ear)
		}
		if byPair[ir.Channel][ir.Ear] != nil {
			return nil, fmt.Errorf("hrir: duplicate impulse response for %s/%s", ir.Channel, ir.Ear)
		}
		byPair[ir.Channel][ir.Ear] = ir
	}

	bank := &FilterBank{sampleRate: p.SampleRate, blockSize: p.BlockSize}
	for _, ch := range config.Channels() {
		for ear := Left; ear <= Right; ear++ {
			ir := byPair[ch][ear]
			if ir == nil {
				return nil, fmt.Errorf("%w: %s/%s", ErrMissingFilter, ch, ear)
			}
			if len(ir.Samples) == 0 {
				return nil, fmt.Errorf("%w: %s/%s", ErrEmptyFilter, ch, ear)
			}

			taps, err := Resample(ir.Samples, ir.SampleRate, p.SampleRate, p.Quality)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", ch, ear, err)
			}
			if len(taps) == 0 {
				return nil, fmt.Errorf("%w: %s/%s after resampling", ErrEmptyFilter, ch, ear)
			}
			if ir.SampleRate != p.SampleRate {
				applog.Debugf("hrir: resampled %s/%s %.0f -> %.0f Hz (%d -> %d taps)",
					ch, ear, ir.SampleRate, p.SampleRate, len(ir.Samples), len(taps))
			}

			f, err := NewFilter(taps, p.BlockSize, tr)
			if err != nil {
				return nil, fmt.Errorf("%s/%s: %w", ch, ear, err)
			}
			bank.filters[ch][ear] = f
		}
	}

	return bank, nil
}

// Filter returns the filter for a (channel, ear) pair.
func (b *FilterBank) Filter(ch config.Channel, ear Ear) *Filter {
	return b.filters[ch][ear]
}

func (b *FilterBank) BlockSize() int      { return b.blockSize }
func (b *FilterBank) SampleRate() float64 { return b.sampleRate }

// MaxPartitions is the largest partition count across the bank.
func (b *FilterBank) MaxPartitions() int {
	var n int
	for ch := range b.filters {
		for ear := range b.filters[ch] {
			n = max(n, b.filters[ch][ear].PartitionCount())
		}
	}
	return n
}

// Clone returns a deep copy so that a session never shares filter memory
// with another.
func (b *FilterBank) Clone() *FilterBank {
	c := &FilterBank{sampleRate: b.sampleRate, blockSize: b.blockSize}
	for ch := range b.filters {
		for ear, f := range b.filters[ch] {
			parts := make([][]complex128, len(f.Partitions))
			for i, p := range f.Partitions {
				parts[i] = append([]complex128(nil), p...)
			}
			c.filters[ch][ear] = &Filter{Partitions: parts, Taps: f.Taps, L1: f.L1}
		}
	}
	return c
}

// NewEqualizer prepares a headphone equalizer from a decoded impulse
// response, one filter per output ear.
func NewEqualizer(pair *Pair, p Params) ([NumEars]*Filter, error) {
	var eq [NumEars]*Filter
	tr, err := p.transform()
	if err != nil {
		return eq, err
	}
	for ear, samples := range [NumEars][]float64{pair.Left, pair.Right} {
		taps, err := Resample(samples, pair.SampleRate, p.SampleRate, p.Quality)
		if err != nil {
			return eq, fmt.Errorf("equalizer %s: %w", Ear(ear), err)
		}
		if eq[ear], err = NewFilter(taps, p.BlockSize, tr); err != nil {
			return eq, fmt.Errorf("equalizer %s: %w", Ear(ear), err)
		}
	}
	return eq, nil
}
