// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "binaural.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Audio.BlockSize != DefaultBlockSize {
		t.Errorf("BlockSize = %d, want %d", cfg.Audio.BlockSize, DefaultBlockSize)
	}
	if cfg.Mixer.LFEPolicy != LFEConvolve {
		t.Errorf("LFEPolicy = %v, want convolve", cfg.Mixer.LFEPolicy)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected unmarshal error, got %v", err)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
log_level: debug
audio:
  sample_rate: 44100
  block_size: 256
hrir:
  dir: /opt/hrir
  files:
    fc: center.wav
mixer:
  layout: [FL, FR, FC, LFE, SL, SR, BL, BR]
  lfe_policy: bypass
  channel_gains:
    LFE: 0.5
  headroom: fixed
  headroom_gain: 0.2
monitor:
  stats_interval: 500ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Audio.SampleRate != 44100 || cfg.Audio.BlockSize != 256 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Mixer.LFEPolicy != LFEBypass {
		t.Errorf("LFEPolicy = %v, want bypass", cfg.Mixer.LFEPolicy)
	}
	if cfg.Mixer.Headroom != HeadroomFixed || cfg.Mixer.HeadroomGain != 0.2 {
		t.Errorf("headroom = %v/%g", cfg.Mixer.Headroom, cfg.Mixer.HeadroomGain)
	}
	if cfg.Monitor.StatsInterval != 500*time.Millisecond {
		t.Errorf("StatsInterval = %s", cfg.Monitor.StatsInterval)
	}

	index, err := cfg.InputIndex()
	if err != nil {
		t.Fatalf("InputIndex: %v", err)
	}
	if index[SL] != 4 || index[BL] != 6 {
		t.Errorf("InputIndex = %v", index)
	}

	gains := cfg.Gains()
	if gains[LFE] != 0.5 {
		t.Errorf("LFE gain = %g, want 0.5", gains[LFE])
	}
	if gains[FL] != 1.0 {
		t.Errorf("FL gain = %g, want default 1.0", gains[FL])
	}

	if got := cfg.HRIRPath(FC); got != filepath.Join("/opt/hrir", "center.wav") {
		t.Errorf("HRIRPath(FC) = %s", got)
	}
	if got := cfg.HRIRPath(SR); got != filepath.Join("/opt/hrir", "SR.wav") {
		t.Errorf("HRIRPath(SR) = %s", got)
	}
}

func TestLoadConfig_UnknownChannel(t *testing.T) {
	path := writeTempConfig(t, "mixer:\n  layout: [FL, FR, XX, LFE, BL, BR, SL, SR]\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown channel name")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero block size", func(c *Config) { c.Audio.BlockSize = 0 }},
		{"non power of two block", func(c *Config) { c.Audio.BlockSize = 1000 }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"duplicate channel", func(c *Config) { c.Mixer.Layout[1] = FL }},
		{"short layout", func(c *Config) { c.Mixer.Layout = c.Mixer.Layout[:6] }},
		{"negative gain", func(c *Config) { c.Mixer.ChannelGains["FC"] = -1 }},
		{"fixed headroom above unity", func(c *Config) {
			c.Mixer.Headroom = HeadroomFixed
			c.Mixer.HeadroomGain = 2
		}},
		{"single block ring", func(c *Config) { c.Bridge.RingBlocks = 1 }},
		{"unknown transform", func(c *Config) { c.Engine.Transform = "fftw" }},
		{"udp without port", func(c *Config) {
			c.Transport.UDPEnabled = true
			c.Transport.UDPTargetAddress = "localhost"
		}},
		{"empty hrir dir", func(c *Config) { c.HRIR.Dir = " " }},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ENV_BLOCK_SIZE", "512")
	t.Setenv("ENV_LFE_POLICY", "bypass")
	t.Setenv("ENV_HRIR_DIR", "/tmp/hrir")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Audio.BlockSize != 512 {
		t.Errorf("BlockSize = %d, want 512", cfg.Audio.BlockSize)
	}
	if cfg.Mixer.LFEPolicy != LFEBypass {
		t.Errorf("LFEPolicy = %v, want bypass", cfg.Mixer.LFEPolicy)
	}
	if cfg.HRIR.Dir != "/tmp/hrir" {
		t.Errorf("HRIR.Dir = %s", cfg.HRIR.Dir)
	}
}

func TestBlockPeriod(t *testing.T) {
	cfg := Default()
	cfg.Audio.SampleRate = 48000
	cfg.Audio.BlockSize = 480 // not validated here
	if got := cfg.BlockPeriod(); got != 10*time.Millisecond {
		t.Errorf("BlockPeriod = %s, want 10ms", got)
	}
	if cfg.InputBlockLen() != 480*8 || cfg.OutputBlockLen() != 480*2 {
		t.Errorf("block lengths = %d/%d", cfg.InputBlockLen(), cfg.OutputBlockLen())
	}
}

func TestParseChannel(t *testing.T) {
	for _, ch := range Channels() {
		got, err := ParseChannel(strings.ToLower(ch.String()))
		if err != nil || got != ch {
			t.Errorf("ParseChannel(%s) = %v, %v", ch, got, err)
		}
	}
	if _, err := ParseChannel("TFL"); err == nil {
		t.Error("expected error for TFL")
	}
}
