// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	applog "binaural/internal/log"
	"binaural/pkg/bitint"

	"gopkg.in/yaml.v3"
)

// Config is the immutable session configuration, loaded from YAML, adjusted
// by environment variables and CLI flags, and validated before any audio
// thread starts.
type Config struct {
	LogLevel  string          `yaml:"log_level"`         // Logging level ("debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // A one-off command to execute instead of running a session.
	Audio     AudioConfig     `yaml:"audio"`             // Device and stream settings.
	HRIR      HRIRConfig      `yaml:"hrir"`              // Impulse response source.
	Mixer     MixerConfig     `yaml:"mixer"`             // Routing, gains and headroom.
	Engine    EngineConfig    `yaml:"engine"`            // Convolution engine settings.
	Bridge    BridgeConfig    `yaml:"bridge"`            // Capture/render hand-off.
	Monitor   MonitorConfig   `yaml:"monitor"`           // Deadline monitoring.
	Transport TransportConfig `yaml:"transport"`         // Diagnostics transports.
	Recording RecordingConfig `yaml:"recording"`         // Binaural output recording.
}

// AudioConfig holds settings related to audio input/output.
type AudioConfig struct {
	InputDevice  int     `yaml:"input_device"`  // PortAudio device index for the 7.1 capture (-1 for default).
	OutputDevice int     `yaml:"output_device"` // PortAudio device index for the stereo render (-1 for default).
	SampleRate   float64 `yaml:"sample_rate"`   // Session sample rate in Hz.
	BlockSize    int     `yaml:"block_size"`    // Frames per block; also the convolution partition size.
	LowLatency   bool    `yaml:"low_latency"`   // Request low latency settings from PortAudio devices.
}

// HRIRConfig locates the sixteen impulse responses.
type HRIRConfig struct {
	Dir             string            `yaml:"dir"`              // Directory holding one stereo WAV per channel.
	Files           map[string]string `yaml:"files"`            // Optional channel -> file name overrides (default "<CH>.wav").
	ResampleQuality string            `yaml:"resample_quality"` // quick, low, medium, high or veryhigh.
}

// MixerConfig holds the routing and gain staging of the 7.1 downmix.
type MixerConfig struct {
	Layout       []Channel          `yaml:"layout"`        // Channel carried by each physical input, in input order.
	LFEPolicy    LFEPolicy          `yaml:"lfe_policy"`    // convolve or bypass.
	ChannelGains map[string]float64 `yaml:"channel_gains"` // Per-channel linear gain before summation.
	Headroom     HeadroomPolicy     `yaml:"headroom"`      // auto or fixed.
	HeadroomGain float64            `yaml:"headroom_gain"` // Gain used by the fixed policy.
	EqualizerIR  string             `yaml:"equalizer_ir"`  // Optional headphone EQ impulse response (WAV).
}

// EngineConfig selects the frequency-domain transform backend.
type EngineConfig struct {
	Transform string `yaml:"transform"` // gonum or algofft.
}

// BridgeConfig sizes the lock-free rings between the audio callbacks and the worker.
type BridgeConfig struct {
	RingBlocks int `yaml:"ring_blocks"` // Capacity of each ring in blocks (>= 2).
}

// MonitorConfig holds deadline monitor settings.
type MonitorConfig struct {
	MissThreshold int           `yaml:"miss_threshold"` // Consecutive misses before a degraded report.
	StatsInterval time.Duration `yaml:"stats_interval"` // Interval between stats snapshots sent to diagnostics.
}

// TransportConfig holds settings related to sending diagnostics over the network.
type TransportConfig struct {
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Enable sending monitor stats over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP stats packets.
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Enable the diagnostics WebSocket endpoint.
	WebSocketAddr    string        `yaml:"websocket_addr"`     // Listen address for the WebSocket server.
}

// RecordingConfig holds settings related to recording the binaural output.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record the rendered stereo output to WAV.
	OutputFile string `yaml:"output_file"` // Output path; generated from the time when empty.
	BitDepth   int    `yaml:"bit_depth"`   // 16 or 24.
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Audio: AudioConfig{
			InputDevice:  DefaultDeviceID,
			OutputDevice: DefaultDeviceID,
			SampleRate:   DefaultSampleRate,
			BlockSize:    DefaultBlockSize,
			LowLatency:   false,
		},
		HRIR: HRIRConfig{
			Dir:             DefaultHRIRDir,
			ResampleQuality: DefaultQuality,
		},
		Mixer: MixerConfig{
			Layout:       DefaultLayout(),
			LFEPolicy:    LFEConvolve,
			ChannelGains: DefaultChannelGains(),
			Headroom:     HeadroomAuto,
			HeadroomGain: DefaultHeadroomGain,
		},
		Engine: EngineConfig{
			Transform: DefaultTransform,
		},
		Bridge: BridgeConfig{
			RingBlocks: DefaultRingBlocks,
		},
		Monitor: MonitorConfig{
			MissThreshold: DefaultMissLimit,
			StatsInterval: time.Second,
		},
		Transport: TransportConfig{
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  250 * time.Millisecond,
			WebSocketEnabled: false,
			WebSocketAddr:    ":8080",
		},
		Recording: RecordingConfig{
			Enabled:  false,
			BitDepth: 16,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("binaural.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{
			"binaural.yaml",
			"config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every value a session depends on. All failures wrap
// ErrInvalidConfig.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	// Audio
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		return invalid("audio.sample_rate %.0f outside [%d, %d]", c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.BlockSize < MinBlockSize || c.Audio.BlockSize > MaxBlockSize {
		return invalid("audio.block_size %d outside [%d, %d]", c.Audio.BlockSize, MinBlockSize, MaxBlockSize)
	}
	if !bitint.IsPowerOfTwo(c.Audio.BlockSize) {
		return invalid("audio.block_size %d is not a power of two", c.Audio.BlockSize)
	}
	if c.Audio.InputDevice < MinDeviceID || c.Audio.OutputDevice < MinDeviceID {
		return invalid("device ids must be >= %d", MinDeviceID)
	}

	// HRIR
	if strings.TrimSpace(c.HRIR.Dir) == "" {
		return invalid("hrir.dir must be set")
	}
	for name := range c.HRIR.Files {
		if _, err := ParseChannel(name); err != nil {
			return invalid("hrir.files: %v", err)
		}
	}
	switch strings.ToLower(c.HRIR.ResampleQuality) {
	case "quick", "low", "medium", "high", "veryhigh":
	default:
		return invalid("hrir.resample_quality %q unknown", c.HRIR.ResampleQuality)
	}

	// Mixer
	if _, err := c.InputIndex(); err != nil {
		return invalid("mixer.layout: %v", err)
	}
	for name, gain := range c.Mixer.ChannelGains {
		if _, err := ParseChannel(name); err != nil {
			return invalid("mixer.channel_gains: %v", err)
		}
		if gain < 0 {
			return invalid("mixer.channel_gains[%s] is negative", name)
		}
	}
	if c.Mixer.Headroom == HeadroomFixed && (c.Mixer.HeadroomGain <= 0 || c.Mixer.HeadroomGain > 1) {
		return invalid("mixer.headroom_gain %g outside (0, 1]", c.Mixer.HeadroomGain)
	}

	// Engine
	switch strings.ToLower(c.Engine.Transform) {
	case "gonum", "algofft":
	default:
		return invalid("engine.transform %q unknown", c.Engine.Transform)
	}

	// Bridge and monitor
	if c.Bridge.RingBlocks < MinRingBlocks {
		return invalid("bridge.ring_blocks %d below minimum %d", c.Bridge.RingBlocks, MinRingBlocks)
	}
	if c.Monitor.MissThreshold < 1 {
		return invalid("monitor.miss_threshold must be >= 1")
	}

	// Transport
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			return invalid("transport.udp_target_address %q appears invalid (missing port?)", c.Transport.UDPTargetAddress)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return invalid("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	// Recording
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		return invalid("recording.bit_depth %d unsupported", c.Recording.BitDepth)
	}

	return nil
}

// applyEnvOverrides applies ENV_* variables on top of file values.
func (c *Config) applyEnvOverrides() {
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		c.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}

	// ENV_{AUDIO}
	if val, ok := os.LookupEnv("ENV_BLOCK_SIZE"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			c.Audio.BlockSize = n
			applog.Infof("configuration: Overriding audio.block_size from env: %d", n)
		}
	}
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Audio.SampleRate = f
			applog.Infof("configuration: Overriding audio.sample_rate from env: %.0f", f)
		}
	}

	// ENV_HRIR_DIR
	if val, ok := os.LookupEnv("ENV_HRIR_DIR"); ok {
		c.HRIR.Dir = val
		applog.Infof("configuration: Overriding hrir.dir from env: %s", val)
	}

	// ENV_LFE_POLICY
	if val, ok := os.LookupEnv("ENV_LFE_POLICY"); ok {
		if p, err := ParseLFEPolicy(val); err == nil {
			c.Mixer.LFEPolicy = p
			applog.Infof("configuration: Overriding mixer.lfe_policy from env: %s", p)
		}
	}

	// ENV_UDP_{...}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		c.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPSendInterval = dur
			applog.Infof("configuration: Overriding transport.udp_send_interval from env: %s", dur)
		}
	}
}
