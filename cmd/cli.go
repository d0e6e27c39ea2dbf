package cmd

import (
	"fmt"

	"binaural/internal/config"
	"binaural/pkg/build"

	"github.com/spf13/cobra"
)

// Commands selected by ParseArgs.
const (
	CommandRun     = "run"
	CommandDevices = "devices"
	CommandVerify  = "verify"
)

// Options is the parsed command line: the resolved configuration plus what
// to do with it.
type Options struct {
	Config  *config.Config
	Command string

	Interactive   bool    // devices: run the picker
	VerifySeconds float64 // verify: length of the noise burst
	VerifySeed    uint64  // verify: noise seed
}

// flagValues holds raw flag values until the configuration file is loaded;
// only flags the user set override file values.
type flagValues struct {
	configPath   string
	inputDevice  int
	outputDevice int
	sampleRate   float64
	blockSize    int
	lowLatency   bool
	hrirDir      string
	lfePolicy    string
	headroom     string
	transform    string
	record       bool
	recordFile   string
	verbose      bool
}

// ParseArgs parses args (without the program name), loads the configuration
// and applies flag overrides. A nil Options with a nil error means cobra
// already handled the invocation (--help, --version).
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	var (
		flags   flagValues
		options = &Options{VerifySeconds: 1, VerifySeed: 1}
	)

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, &flags)
			if err != nil {
				return err
			}
			options.Config = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices able to carry the 7.1 capture and stereo render",
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandDevices
			return nil
		},
	}
	devicesCmd.Flags().BoolVarP(&options.Interactive, "interactive", "t", false,
		"Pick capture and render devices interactively")
	rootCmd.AddCommand(devicesCmd)

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Render white noise through the configured HRIR set and report levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.VerifySeconds <= 0 {
				return fmt.Errorf("--seconds must be positive, got %g", options.VerifySeconds)
			}
			options.Command = CommandVerify
			return nil
		},
	}
	verifyCmd.Flags().Float64Var(&options.VerifySeconds, "seconds", 1, "Length of the white noise burst")
	verifyCmd.Flags().Uint64Var(&options.VerifySeed, "seed", 1, "Seed of the white noise generator")
	rootCmd.AddCommand(verifyCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "",
		"YAML configuration file (default binaural.yaml in the working directory)")

	// Audio Device Configuration
	pf.IntVarP(&flags.inputDevice, "input-device", "i", config.DefaultDeviceID,
		"7.1 capture device ID. Use the 'devices' command to see available devices.")
	pf.IntVarP(&flags.outputDevice, "output-device", "o", config.DefaultDeviceID,
		"Stereo render device ID")
	pf.Float64VarP(&flags.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Session sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&flags.blockSize, "block-size", "b", config.DefaultBlockSize,
		"Frames per block (power of two); sets latency and the convolution partition size")
	pf.BoolVarP(&flags.lowLatency, "low-latency", "l", false,
		"Use low latency device settings")

	// Rendering Configuration
	pf.StringVar(&flags.hrirDir, "hrir-dir", config.DefaultHRIRDir,
		"Directory holding one stereo HRIR WAV per channel")
	pf.StringVar(&flags.lfePolicy, "lfe", "convolve", "LFE handling: convolve or bypass")
	pf.StringVar(&flags.headroom, "headroom", "auto", "Headroom policy: auto or fixed")
	pf.StringVar(&flags.transform, "transform", config.DefaultTransform, "FFT backend: gonum or algofft")

	// Recording Configuration
	pf.BoolVarP(&flags.record, "record", "r", false,
		"Record the binaural output to WAV")
	pf.StringVarP(&flags.recordFile, "record-file", "f", "",
		"Recording file name. Default is binaural_YYYYMMDD_HHMMSS.wav")

	// Debug Configuration
	pf.BoolVarP(&flags.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if options.Command == "" {
		return nil, nil
	}
	return options, nil
}

// resolveConfig loads the configuration file and applies the flags the
// user set on top of it.
func resolveConfig(cmd *cobra.Command, f *flagValues) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("input-device") {
		cfg.Audio.InputDevice = f.inputDevice
	}
	if changed("output-device") {
		cfg.Audio.OutputDevice = f.outputDevice
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = f.sampleRate
	}
	if changed("block-size") {
		cfg.Audio.BlockSize = f.blockSize
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = f.lowLatency
	}
	if changed("hrir-dir") {
		cfg.HRIR.Dir = f.hrirDir
	}
	if changed("lfe") {
		p, err := config.ParseLFEPolicy(f.lfePolicy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		cfg.Mixer.LFEPolicy = p
	}
	if changed("headroom") {
		p, err := config.ParseHeadroomPolicy(f.headroom)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		cfg.Mixer.Headroom = p
	}
	if changed("transform") {
		cfg.Engine.Transform = f.transform
	}
	if changed("record") {
		cfg.Recording.Enabled = f.record
	}
	if changed("record-file") {
		cfg.Recording.OutputFile = f.recordFile
		cfg.Recording.Enabled = true
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
