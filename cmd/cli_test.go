package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"binaural/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgsDefaultsToRun(t *testing.T) {
	t.Chdir(t.TempDir())

	opts, err := ParseArgs(nil)
	require.NoError(t, err)
	require.NotNil(t, opts)
	assert.Equal(t, CommandRun, opts.Command)
	assert.Equal(t, config.DefaultBlockSize, opts.Config.Audio.BlockSize)
	assert.Equal(t, config.LFEConvolve, opts.Config.Mixer.LFEPolicy)
}

func TestParseArgsFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
audio:
  sample_rate: 44100
  block_size: 512
  input_device: 4
hrir:
  dir: /srv/hrir
`), 0o644))

	opts, err := ParseArgs([]string{
		"--config", path,
		"--block-size", "256",
		"--lfe", "bypass",
		"--headroom", "fixed",
		"--transform", "algofft",
		"--record-file", filepath.Join(dir, "out.wav"),
		"-v",
	})
	require.NoError(t, err)
	cfg := opts.Config

	assert.Equal(t, 44100.0, cfg.Audio.SampleRate, "file value kept")
	assert.Equal(t, 4, cfg.Audio.InputDevice, "file value kept")
	assert.Equal(t, "/srv/hrir", cfg.HRIR.Dir)
	assert.Equal(t, 256, cfg.Audio.BlockSize, "flag wins")
	assert.Equal(t, config.LFEBypass, cfg.Mixer.LFEPolicy)
	assert.Equal(t, config.HeadroomFixed, cfg.Mixer.Headroom)
	assert.Equal(t, "algofft", cfg.Engine.Transform)
	assert.True(t, cfg.Recording.Enabled, "a record file implies recording")
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseArgsSubcommands(t *testing.T) {
	t.Chdir(t.TempDir())

	opts, err := ParseArgs([]string{"devices", "--interactive"})
	require.NoError(t, err)
	assert.Equal(t, CommandDevices, opts.Command)
	assert.True(t, opts.Interactive)

	opts, err = ParseArgs([]string{"verify", "--seconds", "2.5", "--seed", "9", "-i", "3"})
	require.NoError(t, err)
	assert.Equal(t, CommandVerify, opts.Command)
	assert.Equal(t, 2.5, opts.VerifySeconds)
	assert.Equal(t, uint64(9), opts.VerifySeed)
	assert.Equal(t, 3, opts.Config.Audio.InputDevice)
}

func TestParseArgsErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"BadLFE", []string{"--lfe", "discard"}},
		{"BadHeadroom", []string{"--headroom", "loud"}},
		{"BlockNotPowerOfTwo", []string{"--block-size", "1000"}},
		{"BadTransform", []string{"--transform", "fftw"}},
		{"MissingConfig", []string{"--config", "/does/not/exist.yaml"}},
		{"NegativeSeconds", []string{"verify", "--seconds", "-1"}},
		{"UnknownFlag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ParseArgs(tt.args)
			assert.Error(t, err)
			assert.Nil(t, opts)
		})
	}

	_, err := ParseArgs([]string{"--lfe", "discard"})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestParseArgsHelp(t *testing.T) {
	opts, err := ParseArgs([]string{"--help"})
	require.NoError(t, err)
	assert.Nil(t, opts)
}
