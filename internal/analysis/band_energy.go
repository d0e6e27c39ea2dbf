package analysis

import (
	"errors"
	"math"

	"binaural/internal/transport"
)

// FrequencyBand names a frequency range [LowHz, HighHz).
type FrequencyBand struct {
	Name   string  `json:"name"`
	LowHz  float64 `json:"low_hz"`
	HighHz float64 `json:"high_hz"`
}

// BandEnergy is the mean power of the bins inside a band.
type BandEnergy struct {
	FrequencyBand
	Energy float64 `json:"energy"`
	Bins   int     `json:"bins"`
}

// DB returns the band energy in decibels, or -Inf when it is zero.
func (b BandEnergy) DB() float64 {
	return 10 * math.Log10(b.Energy)
}

// DefaultBands covers the audible range up to Nyquist.
func DefaultBands(sampleRate float64) []FrequencyBand {
	return []FrequencyBand{
		{Name: "sub", LowHz: 20, HighHz: 60},
		{Name: "bass", LowHz: 60, HighHz: 250},
		{Name: "lowMid", LowHz: 250, HighHz: 500},
		{Name: "mid", LowHz: 500, HighHz: 2000},
		{Name: "highMid", LowHz: 2000, HighHz: 4000},
		{Name: "treble", LowHz: 4000, HighHz: sampleRate / 2},
	}
}

// BandEnergies sums the squared magnitudes of a channel's spectrum into each
// band and normalizes by the number of bins. The Nyquist bin is included in
// the last band whose HighHz reaches it.
func BandEnergies(p SpectrumProvider, channel int, bands []FrequencyBand) []BandEnergy {
	out := make([]BandEnergy, len(bands))
	for i, b := range bands {
		out[i].FrequencyBand = b
	}

	magnitudes := p.Magnitudes(channel)
	nyquist := p.SampleRate() / 2
	for i, m := range magnitudes {
		freq := p.FrequencyForBin(i)
		for j := range out {
			b := out[j].FrequencyBand
			if (freq >= b.LowHz && freq < b.HighHz) || (freq == nyquist && b.HighHz >= nyquist && freq >= b.LowHz) {
				out[j].Energy += m * m
				out[j].Bins++
				break
			}
		}
	}
	for j := range out {
		if out[j].Bins > 0 {
			out[j].Energy /= float64(out[j].Bins)
		}
	}
	return out
}

// BandEnergyProcessor reports per-channel band energies of a provider to a
// diagnostics transport.
type BandEnergyProcessor struct {
	transport transport.Transport
	provider  SpectrumProvider
	bands     []FrequencyBand
}

// NewBandEnergyProcessor uses DefaultBands when bands is empty.
func NewBandEnergyProcessor(t transport.Transport, provider SpectrumProvider, bands []FrequencyBand) (*BandEnergyProcessor, error) {
	if provider == nil {
		return nil, errors.New("band energy requires a spectrum provider")
	}
	if len(bands) == 0 {
		bands = DefaultBands(provider.SampleRate())
	}
	return &BandEnergyProcessor{transport: t, provider: provider, bands: bands}, nil
}

// BandReport is the message sent by BandEnergyProcessor.Publish.
type BandReport struct {
	Type     string         `json:"type"`
	Channels [][]BandEnergy `json:"channels"`
}

// Compute returns the band energies of every channel.
func (p *BandEnergyProcessor) Compute() [][]BandEnergy {
	out := make([][]BandEnergy, p.provider.Channels())
	for ch := range out {
		out[ch] = BandEnergies(p.provider, ch, p.bands)
	}
	return out
}

// Publish computes the band energies and sends them to the transport.
func (p *BandEnergyProcessor) Publish() (BandReport, error) {
	r := BandReport{Type: "band_energy", Channels: p.Compute()}
	if p.transport == nil {
		return r, nil
	}
	return r, p.transport.Send(r)
}

// Levels returns the peak absolute value and RMS of each channel of an
// interleaved buffer.
func Levels(buf []float32, channels int) (peak, rms []float64) {
	peak = make([]float64, channels)
	rms = make([]float64, channels)
	if channels <= 0 {
		return peak, rms
	}
	frames := len(buf) / channels
	for i := 0; i < frames*channels; i++ {
		ch := i % channels
		v := float64(buf[i])
		peak[ch] = math.Max(peak[ch], math.Abs(v))
		rms[ch] += v * v
	}
	if frames > 0 {
		for ch := range rms {
			rms[ch] = math.Sqrt(rms[ch] / float64(frames))
		}
	}
	return peak, rms
}
