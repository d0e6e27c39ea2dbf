// SPDX-License-Identifier: MIT
package analysis

// BlockProcessor consumes interleaved float32 audio blocks.
type BlockProcessor interface {
	// Process analyzes one interleaved block. It runs off the audio worker, so
	// implementations may hold locks but should not block on I/O.
	Process(block []float32)
}

// SpectrumProvider exposes averaged magnitude spectra per channel. It
// decouples consumers such as band energy from the analyzer doing the FFTs.
type SpectrumProvider interface {
	Magnitudes(channel int) []float64     // Magnitudes returns a copy of the averaged magnitude spectrum of a channel.
	FrequencyForBin(binIndex int) float64 // FrequencyForBin returns the center frequency (Hz) of a bin.
	Size() int                            // Size returns the FFT size (number of points).
	SampleRate() float64                  // SampleRate returns the sample rate of the analyzed signal.
	Channels() int                        // Channels returns the number of interleaved channels.
}
