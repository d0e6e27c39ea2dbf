// SPDX-License-Identifier: MIT

// Package mixer routes a 7.1 block through sixteen convolution engines and
// sums them into a binaural stereo block.
package mixer

import (
	"fmt"
	"sync/atomic"

	"binaural/internal/config"
	"binaural/internal/convolver"
	"binaural/internal/fft"
	"binaural/internal/hrir"
)

const (
	numChannels = config.NumChannels
	numEars     = hrir.NumEars
)

// Config is the resolved routing and gain staging of one session.
type Config struct {
	InputIndex   [numChannels]int     // physical input carrying each channel
	Gains        [numChannels]float64 // linear gain per channel before summation
	LFEPolicy    config.LFEPolicy
	Headroom     config.HeadroomPolicy
	HeadroomGain float64               // used by HeadroomFixed
	Equalizer    [numEars]*hrir.Filter // optional, both or neither
}

// ConfigFrom resolves a validated session configuration.
func ConfigFrom(c *config.Config) (Config, error) {
	index, err := c.InputIndex()
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return Config{
		InputIndex:   index,
		Gains:        c.Gains(),
		LFEPolicy:    c.Mixer.LFEPolicy,
		Headroom:     c.Mixer.Headroom,
		HeadroomGain: c.Mixer.HeadroomGain,
	}, nil
}

// Mixer owns the per-pair convolution state of a session. Process must only
// be called from one goroutine; Clipped may be read from any.
type Mixer struct {
	blockSize int
	cfg       Config
	engines   [numChannels][numEars]*convolver.Engine // LFE row is nil under bypass
	equalizer [numEars]*convolver.Engine
	headroom  float64

	input   [numChannels][]float64
	scratch []float64
	sum     [numEars][]float64

	clipped atomic.Uint64
}

// New builds sixteen engines (fourteen when LFE bypasses spatialization)
// over bank. newTransform supplies one private transform per engine.
func New(bank *hrir.FilterBank, cfg Config, newTransform fft.Factory) (*Mixer, error) {
	if newTransform == nil {
		newTransform = func(n int) (fft.Transform, error) { return fft.NewFourier(n) }
	}
	if (cfg.Equalizer[0] == nil) != (cfg.Equalizer[1] == nil) {
		return nil, fmt.Errorf("mixer: equalizer needs a filter for both ears")
	}
	var seen [numChannels]bool
	for ch, idx := range cfg.InputIndex {
		if idx < 0 || idx >= numChannels || seen[idx] {
			return nil, fmt.Errorf("%w: input index of %s is %d", config.ErrInvalidConfig, config.Channel(ch), idx)
		}
		seen[idx] = true
	}

	b := bank.BlockSize()
	m := &Mixer{
		blockSize: b,
		cfg:       cfg,
		scratch:   make([]float64, b),
	}

	engine := func(f *hrir.Filter) (*convolver.Engine, error) {
		tr, err := newTransform(2 * b)
		if err != nil {
			return nil, err
		}
		return convolver.New(f.Partitions, b, tr)
	}

	for _, ch := range config.Channels() {
		m.input[ch] = make([]float64, b)
		if ch == config.LFE && cfg.LFEPolicy == config.LFEBypass {
			continue
		}
		for ear := hrir.Left; ear <= hrir.Right; ear++ {
			e, err := engine(bank.Filter(ch, ear))
			if err != nil {
				return nil, fmt.Errorf("mixer: %s/%s: %w", ch, ear, err)
			}
			m.engines[ch][ear] = e
		}
	}
	for ear := range numEars {
		m.sum[ear] = make([]float64, b)
		if f := cfg.Equalizer[ear]; f != nil {
			e, err := engine(f)
			if err != nil {
				return nil, fmt.Errorf("mixer: equalizer: %w", err)
			}
			m.equalizer[ear] = e
		}
	}

	m.headroom = headroomGain(bank, cfg)
	return m, nil
}

// headroomGain returns the post-summation gain. The auto policy bounds the
// worst case: with every input at ±1 in the most constructive pattern an
// ear receives at most sum(g_ch * ||h_ch,ear||_1), times the equalizer's
// own L1 norm. The gain never boosts.
func headroomGain(bank *hrir.FilterBank, cfg Config) float64 {
	if cfg.Headroom == config.HeadroomFixed {
		return cfg.HeadroomGain
	}

	var worst float64
	for ear := hrir.Left; ear <= hrir.Right; ear++ {
		var bound float64
		for _, ch := range config.Channels() {
			if ch == config.LFE && cfg.LFEPolicy == config.LFEBypass {
				bound += cfg.Gains[ch]
				continue
			}
			bound += cfg.Gains[ch] * bank.Filter(ch, ear).L1
		}
		if eq := cfg.Equalizer[ear]; eq != nil {
			bound *= eq.L1
		}
		worst = max(worst, bound)
	}
	if worst <= 1 {
		return 1
	}
	return 1 / worst
}

// HeadroomGain returns the gain applied after summation.
func (m *Mixer) HeadroomGain() float64 { return m.headroom }

// BlockSize returns the frames per block.
func (m *Mixer) BlockSize() int { return m.blockSize }

// Clipped returns how many output samples have been clamped.
func (m *Mixer) Clipped() uint64 { return m.clipped.Load() }

// Latency returns the processing latency in frames.
func (m *Mixer) Latency() int { return m.blockSize }

// Process renders one interleaved 8-channel block in into one interleaved
// stereo block out. It does not allocate.
func (m *Mixer) Process(out, in []float32) error {
	b := m.blockSize
	if len(in) != b*numChannels || len(out) != b*numEars {
		return convolver.ErrBlockSize
	}

	for _, ch := range config.Channels() {
		idx := m.cfg.InputIndex[ch]
		x := m.input[ch]
		for n := range x {
			x[n] = float64(in[n*numChannels+idx])
		}
	}

	clear(m.sum[hrir.Left])
	clear(m.sum[hrir.Right])
	for _, ch := range config.Channels() {
		g := m.cfg.Gains[ch]
		x := m.input[ch]
		if m.engines[ch][hrir.Left] == nil {
			// LFE bypass: same signal to both ears.
			for ear := range numEars {
				s := m.sum[ear]
				for n, v := range x {
					s[n] += g * v
				}
			}
			continue
		}
		for ear := range numEars {
			if err := m.engines[ch][ear].Process(m.scratch, x); err != nil {
				return err
			}
			s := m.sum[ear]
			for n, v := range m.scratch {
				s[n] += g * v
			}
		}
	}

	for ear := range numEars {
		if eq := m.equalizer[ear]; eq != nil {
			if err := eq.Process(m.sum[ear], m.sum[ear]); err != nil {
				return err
			}
		}
	}

	var clipped uint64
	for ear := range numEars {
		for n, v := range m.sum[ear] {
			v *= m.headroom
			switch {
			case v > 1:
				v = 1
				clipped++
			case v < -1:
				v = -1
				clipped++
			case v != v:
				v = 0
			}
			out[n*numEars+ear] = float32(v)
		}
	}
	if clipped > 0 {
		m.clipped.Add(clipped)
	}
	return nil
}

// Reset clears all convolution state.
func (m *Mixer) Reset() {
	for ch := range m.engines {
		for _, e := range m.engines[ch] {
			if e != nil {
				e.Reset()
			}
		}
	}
	for _, e := range m.equalizer {
		if e != nil {
			e.Reset()
		}
	}
}
