package analysis

import (
	"math"
	"testing"

	"binaural/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loudest(bands []BandEnergy) string {
	best := bands[0]
	for _, b := range bands[1:] {
		if b.Energy > best.Energy {
			best = b
		}
	}
	return best.Name
}

func TestBandEnergiesFindTones(t *testing.T) {
	a, err := NewSpectrumAnalyzer(testSize, testRate, 2, Hann)
	require.NoError(t, err)
	a.Process(stereoTones(8 * testSize))

	bands := DefaultBands(testRate)
	assert.Equal(t, "mid", loudest(BandEnergies(a, 0, bands)))
	assert.Equal(t, "treble", loudest(BandEnergies(a, 1, bands)))
}

func TestBandEnergiesCoverSpectrum(t *testing.T) {
	a, err := NewSpectrumAnalyzer(testSize, testRate, 1, Hann)
	require.NoError(t, err)
	a.Process(utils.GenerateWhiteNoise(4*testSize, 7))

	bands := []FrequencyBand{{Name: "all", LowHz: 0, HighHz: testRate / 2}}
	got := BandEnergies(a, 0, bands)
	require.Len(t, got, 1)
	assert.Equal(t, testSize/2+1, got[0].Bins, "Nyquist bin belongs to the top band")
	assert.Greater(t, got[0].Energy, 0.0)
}

func TestBandEnergyEmptyProvider(t *testing.T) {
	a, err := NewSpectrumAnalyzer(testSize, testRate, 2, Hann)
	require.NoError(t, err)

	for _, b := range BandEnergies(a, 0, DefaultBands(testRate)) {
		assert.Zero(t, b.Energy)
		assert.True(t, math.IsInf(b.DB(), -1))
	}
}

func TestBandEnergyProcessorPublish(t *testing.T) {
	a, err := NewSpectrumAnalyzer(testSize, testRate, 2, Hann)
	require.NoError(t, err)
	a.Process(stereoTones(2 * testSize))

	sink := &utils.MockTransport{}
	p, err := NewBandEnergyProcessor(sink, a, nil)
	require.NoError(t, err)

	report, err := p.Publish()
	require.NoError(t, err)
	assert.Equal(t, "band_energy", report.Type)
	require.Len(t, report.Channels, 2)
	assert.Len(t, report.Channels[0], len(DefaultBands(testRate)))
	require.Equal(t, 1, sink.Len())
	assert.Equal(t, report, sink.Messages()[0])

	_, err = NewBandEnergyProcessor(sink, nil, nil)
	assert.Error(t, err)
}

func TestLevels(t *testing.T) {
	buf := []float32{0.5, -1, -0.5, 0, 0.5, 0, -0.5, 0}
	peak, rms := Levels(buf, 2)
	assert.Equal(t, []float64{0.5, 1}, peak)
	assert.InDelta(t, 0.5, rms[0], 1e-12)
	assert.InDelta(t, 0.5, rms[1], 1e-12)
}
