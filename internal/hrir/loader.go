// SPDX-License-Identifier: MIT
package hrir

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"binaural/internal/config"
	applog "binaural/internal/log"

	"github.com/go-audio/wav"
)

// wavFormatFloat is the WAVE_FORMAT_IEEE_FLOAT format tag.
const wavFormatFloat = 3

// Pair is a decoded stereo impulse response. Mono files yield the same
// samples for both ears.
type Pair struct {
	Left, Right []float64
	SampleRate  float64
}

// LoadFile decodes a WAV impulse response. Channel 0 is the left ear and
// channel 1 the right ear; additional channels are ignored.
func LoadFile(path string) (*Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFilter, path)
		}
		return nil, fmt.Errorf("failed to open impulse response: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	convert, err := sampleConverter(int(decoder.BitDepth), decoder.WavAudioFormat)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: %s has no channels", ErrEmptyFilter, path)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFilter, path)
	}

	pair := &Pair{
		Left:       make([]float64, frames),
		SampleRate: float64(buf.Format.SampleRate),
	}
	for i := range frames {
		pair.Left[i] = convert(buf.Data[i*channels])
	}
	if channels == 1 {
		pair.Right = append([]float64(nil), pair.Left...)
	} else {
		pair.Right = make([]float64, frames)
		for i := range frames {
			pair.Right[i] = convert(buf.Data[i*channels+1])
		}
	}

	return pair, nil
}

// sampleConverter maps decoded samples to [-1, 1]. 8-bit PCM is unsigned
// with its midpoint at 128; float data arrives as raw IEEE bits.
func sampleConverter(bitDepth int, format uint16) (func(int) float64, error) {
	if format == wavFormatFloat {
		if bitDepth != 32 {
			return nil, fmt.Errorf("unsupported %d-bit float WAV", bitDepth)
		}
		return func(v int) float64 {
			return float64(math.Float32frombits(uint32(int32(v))))
		}, nil
	}
	switch bitDepth {
	case 8:
		return func(v int) float64 {
			return float64(v-128) / 128
		}, nil
	case 16, 24, 32:
		scale := 1 / float64(int64(1)<<(bitDepth-1))
		return func(v int) float64 {
			return float64(v) * scale
		}, nil
	default:
		return nil, fmt.Errorf("unsupported %d-bit PCM WAV", bitDepth)
	}
}

// LoadDir reads one stereo WAV per 7.1 channel from dir. files optionally
// maps channel names to file names; the default is "<CH>.wav". The result
// holds sixteen impulse responses, or an error if any file is missing or
// empty.
func LoadDir(dir string, files map[string]string) ([]ImpulseResponse, error) {
	cfg := config.Config{HRIR: config.HRIRConfig{Dir: dir, Files: files}}

	irs := make([]ImpulseResponse, 0, config.NumChannels*NumEars)
	for _, ch := range config.Channels() {
		path := cfg.HRIRPath(ch)
		pair, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch, err)
		}
		applog.Debugf("hrir: loaded %s (%d taps @ %.0f Hz)", path, len(pair.Left), pair.SampleRate)

		irs = append(irs,
			ImpulseResponse{Channel: ch, Ear: Left, SampleRate: pair.SampleRate, Samples: pair.Left},
			ImpulseResponse{Channel: ch, Ear: Right, SampleRate: pair.SampleRate, Samples: pair.Right},
		)
	}
	return irs, nil
}
