package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// Core configuration constants that define the boundaries and defaults
// for a virtualizer session.
const (
	DefaultDeviceID     = MinDeviceID // System default device
	DefaultSampleRate   = 48000       // Native rate of the bundled HRIR set
	DefaultBlockSize    = 1024        // ~21ms at 48kHz, one block of latency
	DefaultRingBlocks   = 4           // Inbound/outbound ring depth in blocks
	DefaultLFEGain      = 0.25        // LFE level relative to the main channels
	DefaultHeadroomGain = 1.0 / 8     // Fixed policy: eight unit channels sum to 1.0
	DefaultMissLimit    = 3           // Consecutive deadline misses before degraded
	DefaultHRIRDir      = "hrir"
	DefaultLogLevel     = "info"
	DefaultTransform    = "gonum"
	DefaultQuality      = "high"

	// Hardware and processing limits
	MinDeviceID   = -1     // -1 represents system default device
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MinBlockSize  = 32     // Smallest partition size
	MaxBlockSize  = 8192   // Maximum frames per buffer (power of 2)
	MinRingBlocks = 2      // Jitter headroom required by the bridge

	NumInputChannels  = NumChannels // 7.1 capture
	NumOutputChannels = 2           // Binaural render
)

// ErrInvalidConfig wraps every validation failure. A session never starts
// with a configuration that does not pass Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Channel identifies one source channel of the fixed 7.1 layout.
type Channel int

const (
	FL Channel = iota
	FR
	FC
	LFE
	BL
	BR
	SL
	SR
)

// NumChannels is the number of source channels in a 7.1 stream.
const NumChannels = 8

var channelNames = [NumChannels]string{"FL", "FR", "FC", "LFE", "BL", "BR", "SL", "SR"}

// Channels returns the 7.1 channels in canonical order.
func Channels() [NumChannels]Channel {
	return [NumChannels]Channel{FL, FR, FC, LFE, BL, BR, SL, SR}
}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Valid reports whether c names one of the eight 7.1 channels.
func (c Channel) Valid() bool {
	return c >= 0 && int(c) < NumChannels
}

// ParseChannel converts a channel name (case-insensitive) to a Channel.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", name)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *Channel) UnmarshalYAML(node *yaml.Node) error {
	ch, err := ParseChannel(node.Value)
	if err != nil {
		return err
	}
	*c = ch
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c Channel) MarshalYAML() (any, error) {
	return c.String(), nil
}

// LFEPolicy selects how the LFE channel reaches the ears.
type LFEPolicy int

const (
	// LFEConvolve runs LFE through its own HRIR pair like any other channel.
	LFEConvolve LFEPolicy = iota
	// LFEBypass mixes LFE straight into both ears at the configured gain.
	LFEBypass
)

func (p LFEPolicy) String() string {
	switch p {
	case LFEConvolve:
		return "convolve"
	case LFEBypass:
		return "bypass"
	default:
		return fmt.Sprintf("LFEPolicy(%d)", int(p))
	}
}

// ParseLFEPolicy converts a policy name to an LFEPolicy.
func ParseLFEPolicy(name string) (LFEPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "convolve", "":
		return LFEConvolve, nil
	case "bypass", "direct":
		return LFEBypass, nil
	default:
		return LFEConvolve, fmt.Errorf("unknown lfe policy %q", name)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *LFEPolicy) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseLFEPolicy(node.Value)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p LFEPolicy) MarshalYAML() (any, error) {
	return p.String(), nil
}

// HeadroomPolicy selects how the post-summation gain is chosen.
type HeadroomPolicy int

const (
	// HeadroomAuto derives the gain from the loaded filters so that eight
	// unit-amplitude inputs can never exceed full scale.
	HeadroomAuto HeadroomPolicy = iota
	// HeadroomFixed uses Mixer.HeadroomGain as is.
	HeadroomFixed
)

func (p HeadroomPolicy) String() string {
	switch p {
	case HeadroomAuto:
		return "auto"
	case HeadroomFixed:
		return "fixed"
	default:
		return fmt.Sprintf("HeadroomPolicy(%d)", int(p))
	}
}

// ParseHeadroomPolicy converts a policy name to a HeadroomPolicy.
func ParseHeadroomPolicy(name string) (HeadroomPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "auto", "":
		return HeadroomAuto, nil
	case "fixed":
		return HeadroomFixed, nil
	default:
		return HeadroomAuto, fmt.Errorf("unknown headroom policy %q", name)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *HeadroomPolicy) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseHeadroomPolicy(node.Value)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p HeadroomPolicy) MarshalYAML() (any, error) {
	return p.String(), nil
}

// DefaultLayout is the WAVE_FORMAT_EXTENSIBLE 7.1 channel order.
func DefaultLayout() []Channel {
	all := Channels()
	return all[:]
}

// DefaultChannelGains returns the per-channel levels applied before
// summation: fronts at unity, everything else at -3dB, LFE at DefaultLFEGain.
func DefaultChannelGains() map[string]float64 {
	minus3dB := 0.5 * math.Sqrt2
	return map[string]float64{
		"FL":  1.0,
		"FR":  1.0,
		"FC":  minus3dB,
		"LFE": DefaultLFEGain,
		"BL":  minus3dB,
		"BR":  minus3dB,
		"SL":  minus3dB,
		"SR":  minus3dB,
	}
}
