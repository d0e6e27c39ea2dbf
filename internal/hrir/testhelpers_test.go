// SPDX-License-Identifier: MIT
package hrir

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"binaural/internal/config"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeStereoWAV writes a 16-bit stereo WAV whose channels hold left and right.
func writeStereoWAV(t *testing.T, path string, rate int, left, right []float64) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	data := make([]int, 0, 2*len(left))
	for i := range left {
		data = append(data, int(left[i]*32767), int(right[i]*32767))
	}
	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder %s: %v", path, err)
	}
}

// writeHRIRDir writes one stereo WAV per channel: an impulse at tap ch on the
// left ear and at tap ch+1 on the right ear. Files are at least
// NumChannels+1 taps long.
func writeHRIRDir(t *testing.T, taps, rate int) string {
	t.Helper()
	taps = max(taps, config.NumChannels+1)
	dir := t.TempDir()
	for _, ch := range config.Channels() {
		left := make([]float64, taps)
		right := make([]float64, taps)
		left[int(ch)] = 0.5
		right[int(ch)+1] = 0.25
		writeStereoWAV(t, filepath.Join(dir, ch.String()+".wav"), rate, left, right)
	}
	return dir
}

// uniformSet returns sixteen copies of taps at rate.
func uniformSet(rate float64, taps []float64) []ImpulseResponse {
	irs := make([]ImpulseResponse, 0, config.NumChannels*NumEars)
	for _, ch := range config.Channels() {
		for ear := Left; ear <= Right; ear++ {
			irs = append(irs, ImpulseResponse{Channel: ch, Ear: ear, SampleRate: rate, Samples: taps})
		}
	}
	return irs
}

// writeRawWAV writes a canonical 44-byte header WAV around data, for sample
// formats the encoder does not produce.
func writeRawWAV(t *testing.T, path string, format, channels, bits uint16, rate uint32, data []byte) {
	t.Helper()
	var b bytes.Buffer
	le := binary.LittleEndian
	blockAlign := channels * bits / 8
	b.WriteString("RIFF")
	_ = binary.Write(&b, le, uint32(36+len(data)))
	b.WriteString("WAVEfmt ")
	_ = binary.Write(&b, le, uint32(16))
	_ = binary.Write(&b, le, format)
	_ = binary.Write(&b, le, channels)
	_ = binary.Write(&b, le, rate)
	_ = binary.Write(&b, le, rate*uint32(blockAlign))
	_ = binary.Write(&b, le, blockAlign)
	_ = binary.Write(&b, le, bits)
	b.WriteString("data")
	_ = binary.Write(&b, le, uint32(len(data)))
	b.Write(data)
	if err := os.WriteFile(path, b.Bytes(), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
