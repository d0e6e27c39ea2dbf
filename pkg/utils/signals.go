package utils

import (
	"math"
	"math/rand/v2"
)

// GenerateComplexWave returns a 440Hz tone with two harmonics at 0.9 peak.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

func GenerateSineWave(size int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * 0.9)
	}
	return buffer
}

// GenerateWhiteNoise returns uniform noise in [-1, 1). The same seed always
// yields the same samples.
func GenerateWhiteNoise(size int, seed uint64) []float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
	buffer := make([]float32, size)
	for i := range buffer {
		buffer[i] = float32(rng.Float64()*2 - 1)
	}
	return buffer
}

// GenerateImpulse returns size samples that are zero except for a 1 at
// position at.
func GenerateImpulse(size, at int) []float64 {
	buffer := make([]float64, size)
	if at >= 0 && at < size {
		buffer[at] = 1
	}
	return buffer
}

// Interleave packs equal-length channels frame by frame.
func Interleave(channels ...[]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	out := make([]float32, frames*len(channels))
	for ch, samples := range channels {
		for i := range frames {
			out[i*len(channels)+ch] = samples[i]
		}
	}
	return out
}

// Deinterleave splits an interleaved buffer into channels.
func Deinterleave(buffer []float32, channels int) [][]float32 {
	frames := len(buffer) / channels
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
		for i := range frames {
			out[ch][i] = buffer[i*channels+ch]
		}
	}
	return out
}

func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
