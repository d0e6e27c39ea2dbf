// SPDX-License-Identifier: MIT
package hrir

import (
	"errors"
	"fmt"

	"binaural/internal/config"
)

// Ear selects the left or right output of a channel's filter pair.
type Ear int

const (
	Left Ear = iota
	Right
)

// NumEars is the number of filters per source channel.
const NumEars = 2

func (e Ear) String() string {
	switch e {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("Ear(%d)", int(e))
	}
}

var (
	// ErrMissingFilter is returned when a channel/ear pair has no impulse response.
	ErrMissingFilter = errors.New("hrir: missing impulse response")
	// ErrEmptyFilter is returned for impulse responses of zero length.
	ErrEmptyFilter = errors.New("hrir: empty impulse response")
	// ErrUnsupportedRatio is returned when resampling to the session rate would
	// need a conversion ratio outside [MinRatio, MaxRatio].
	ErrUnsupportedRatio = errors.New("hrir: unsupported resampling ratio")
)

// ImpulseResponse is one time-domain filter for a (channel, ear) pair at its
// native sample rate. It is not modified after loading.
type ImpulseResponse struct {
	Channel    config.Channel
	Ear        Ear
	SampleRate float64
	Samples    []float64
}

func (ir ImpulseResponse) String() string {
	return fmt.Sprintf("%s/%s (%d taps @ %.0f Hz)", ir.Channel, ir.Ear, len(ir.Samples), ir.SampleRate)
}
