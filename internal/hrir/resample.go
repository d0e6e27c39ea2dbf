// SPDX-License-Identifier: MIT
package hrir

import (
	"fmt"
	"strings"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Supported conversion range (output rate / input rate).
const (
	MinRatio = 0.25
	MaxRatio = 4.0
)

// ParseQuality maps a quality name to a resampler preset.
func ParseQuality(name string) (resampler.QualityPreset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quick":
		return resampler.QualityQuick, nil
	case "low":
		return resampler.QualityLow, nil
	case "medium":
		return resampler.QualityMedium, nil
	case "high", "":
		return resampler.QualityHigh, nil
	case "veryhigh":
		return resampler.QualityVeryHigh, nil
	default:
		return resampler.QualityHigh, fmt.Errorf("unknown resample quality %q", name)
	}
}

// Resample converts samples from one rate to another. Equal rates return
// the input unchanged. The same input, rates and quality always produce the
// same output.
func Resample(samples []float64, from, to float64, quality resampler.QualityPreset) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("%w: %.0f Hz -> %.0f Hz", ErrUnsupportedRatio, from, to)
	}
	if from == to {
		return samples, nil
	}
	ratio := to / from
	if ratio < MinRatio || ratio > MaxRatio {
		return nil, fmt.Errorf("%w: %.0f Hz -> %.0f Hz (ratio %.3f)", ErrUnsupportedRatio, from, to, ratio)
	}

	out, err := resampler.ResampleMono(samples, from, to, quality)
	if err != nil {
		return nil, fmt.Errorf("resampling %.0f Hz -> %.0f Hz: %w", from, to, err)
	}
	return out, nil
}
