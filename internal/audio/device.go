package audio

import "time"

// Device represents an audio device
type Device struct {
	ID                int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	LowInputLatency   time.Duration
	LowOutputLatency  time.Duration
}

// Kind describes the direction of the device.
func (d Device) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	default:
		return "None"
	}
}

// CanCapture reports whether the device can open an input stream with the
// given channel count.
func (d Device) CanCapture(channels int) bool { return d.MaxInputChannels >= channels }

// CanRender reports whether the device can open an output stream with the
// given channel count.
func (d Device) CanRender(channels int) bool { return d.MaxOutputChannels >= channels }
