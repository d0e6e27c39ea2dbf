// SPDX-License-Identifier: MIT
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	applog "binaural/internal/log"
	"binaural/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var (
	errSize       = errors.New("fft size must be a power of 2")
	errSampleRate = errors.New("sample rate must be positive")
	errChannels   = errors.New("channel count must be positive")
)

// Per-channel buffers, preallocated so Process never allocates.
type channelWorkspace struct {
	frame []float64 // Samples collected for the next frame.
	power []float64 // Sum of |X|^2 over analyzed frames.
}

// SpectrumAnalyzer averages windowed power spectra of every channel of an
// interleaved stream (Welch's method without overlap). Frames are analyzed
// whenever fftSize samples per channel have been collected; a trailing
// partial frame is ignored.
type SpectrumAnalyzer struct {
	fftCalculator *fourier.FFT // Reusable FFT calculator instance.
	fftSize       int          // Number of points for the FFT (power of 2).
	sampleRate    float64      // Sample rate of the input audio (Hz).
	channels      int

	mu        sync.RWMutex
	window    []float64    // Pre-calculated window coefficients.
	windowed  []float64    // Scratch for the windowed frame.
	fftOutput []complex128 // Buffer for FFT complex results.
	work      []channelWorkspace
	fill      int // Samples per channel in the current frame.
	frames    int // Frames analyzed so far.
}

// Compile-time checks for interface implementations.
var _ BlockProcessor = (*SpectrumAnalyzer)(nil)
var _ SpectrumProvider = (*SpectrumAnalyzer)(nil)

// NewSpectrumAnalyzer builds an analyzer for an interleaved stream with the
// given number of channels.
func NewSpectrumAnalyzer(fftSize int, sampleRate float64, channels int, windowType WindowFunc) (*SpectrumAnalyzer, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("%w, got %d", errSize, fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", errSampleRate, sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w, got %d", errChannels, channels)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)

	// FFT output size for real input is N/2 + 1 complex values.
	bins := fftSize/2 + 1
	work := make([]channelWorkspace, channels)
	for i := range work {
		work[i] = channelWorkspace{
			frame: make([]float64, fftSize),
			power: make([]float64, bins),
		}
	}

	applog.Debugf("Analysis: Initializing SpectrumAnalyzer (Size: %d, SampleRate: %.1f Hz, Channels: %d, Window: %v)", fftSize, sampleRate, channels, windowType)

	return &SpectrumAnalyzer{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		channels:      channels,
		window:        windowCoeffs,
		windowed:      make([]float64, fftSize),
		fftOutput:     make([]complex128, bins),
		work:          work,
	}, nil
}

// Process de-interleaves block into the per-channel frames, analyzing each
// frame as it fills. Samples past the last whole frame are kept for the next
// call.
func (a *SpectrumAnalyzer) Process(block []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+a.channels <= len(block); i += a.channels {
		for ch := range a.channels {
			a.work[ch].frame[a.fill] = float64(block[i+ch])
		}
		a.fill++
		if a.fill == a.fftSize {
			a.analyzeFrame()
			a.fill = 0
		}
	}
}

// analyzeFrame windows, transforms and accumulates every channel's frame.
// Callers hold the write lock.
func (a *SpectrumAnalyzer) analyzeFrame() {
	for ch := range a.work {
		w := &a.work[ch]
		for i, s := range w.frame {
			a.windowed[i] = s * a.window[i]
		}
		a.fftCalculator.Coefficients(a.fftOutput, a.windowed)
		for i, c := range a.fftOutput {
			m := cmplx.Abs(c)
			w.power[i] += m * m
		}
	}
	a.frames++
}

// Magnitudes returns the RMS magnitude per bin over all analyzed frames of a
// channel, or nil when no full frame has been analyzed or the channel is out
// of range.
func (a *SpectrumAnalyzer) Magnitudes(channel int) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if channel < 0 || channel >= a.channels || a.frames == 0 {
		return nil
	}
	out := make([]float64, len(a.work[channel].power))
	for i, p := range a.work[channel].power {
		out[i] = math.Sqrt(p / float64(a.frames))
	}
	return out
}

// Frames returns the number of whole frames analyzed.
func (a *SpectrumAnalyzer) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// Reset discards accumulated spectra and any partial frame.
func (a *SpectrumAnalyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for ch := range a.work {
		clear(a.work[ch].power)
	}
	a.fill = 0
	a.frames = 0
}

// FrequencyForBin returns the center frequency (Hz) for a given FFT bin index.
func (a *SpectrumAnalyzer) FrequencyForBin(binIndex int) float64 {
	if binIndex < 0 || binIndex > a.fftSize/2 {
		return 0.0
	}
	// Frequency resolution = sampleRate / fftSize
	return float64(binIndex) * (a.sampleRate / float64(a.fftSize))
}

// Size returns the configured FFT size (number of points).
func (a *SpectrumAnalyzer) Size() int { return a.fftSize }

// SampleRate returns the configured sample rate (Hz).
func (a *SpectrumAnalyzer) SampleRate() float64 { return a.sampleRate }

// Channels returns the number of interleaved channels.
func (a *SpectrumAnalyzer) Channels() int { return a.channels }

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall back
// to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window funcs scale in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
