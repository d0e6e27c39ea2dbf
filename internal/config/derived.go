package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// BlockPeriod returns the wall-clock duration of one block, which is also
// the processing deadline of every block.
func (c *Config) BlockPeriod() time.Duration {
	return time.Duration(float64(c.Audio.BlockSize) / c.Audio.SampleRate * float64(time.Second))
}

// InputBlockLen is the number of interleaved samples in one capture block.
func (c *Config) InputBlockLen() int {
	return c.Audio.BlockSize * NumInputChannels
}

// OutputBlockLen is the number of interleaved samples in one render block.
func (c *Config) OutputBlockLen() int {
	return c.Audio.BlockSize * NumOutputChannels
}

// InputIndex returns, for every channel, the physical input index that
// carries it. The layout must be a permutation of the eight 7.1 channels.
func (c *Config) InputIndex() ([NumChannels]int, error) {
	var index [NumChannels]int
	if len(c.Mixer.Layout) != NumChannels {
		return index, fmt.Errorf("expected %d channels, got %d", NumChannels, len(c.Mixer.Layout))
	}
	var seen [NumChannels]bool
	for i, ch := range c.Mixer.Layout {
		if !ch.Valid() {
			return index, fmt.Errorf("position %d: invalid channel %v", i, ch)
		}
		if seen[ch] {
			return index, fmt.Errorf("channel %s assigned twice", ch)
		}
		seen[ch] = true
		index[ch] = i
	}
	return index, nil
}

// Gains resolves the per-channel gain map; channels missing from the map
// fall back to DefaultChannelGains.
func (c *Config) Gains() [NumChannels]float64 {
	defaults := DefaultChannelGains()
	var gains [NumChannels]float64
	for _, ch := range Channels() {
		gains[ch] = defaults[ch.String()]
	}
	for name, gain := range c.Mixer.ChannelGains {
		if ch, err := ParseChannel(name); err == nil {
			gains[ch] = gain
		}
	}
	return gains
}

// HRIRPath returns the impulse response file for ch.
func (c *Config) HRIRPath(ch Channel) string {
	for name, file := range c.HRIR.Files {
		if parsed, err := ParseChannel(name); err == nil && parsed == ch {
			return filepath.Join(c.HRIR.Dir, file)
		}
	}
	return filepath.Join(c.HRIR.Dir, ch.String()+".wav")
}
