// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"strings"

	"micscope/internal/config"
	"micscope/pkg/build"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag, e.g.
// SPECTRUM_SAMPLE_RATE for --sample-rate.
const EnvPrefix = "SPECTRUM"

// Commands placed in Config.Command. An empty command means cobra already
// handled the invocation (--help, --version) and there is nothing to run.
const (
	CommandRun  = "run"
	CommandList = "list"
	CommandPick = "pick"
)

// override copies one flag (or its environment variable) into the config.
type override func(v *viper.Viper, name string, cfg *config.Config)

var overrides = map[string]override{
	"device":          func(v *viper.Viper, n string, c *config.Config) { c.Audio.InputDevice = v.GetInt(n) },
	"sample-rate":     func(v *viper.Viper, n string, c *config.Config) { c.Audio.SampleRate = v.GetFloat64(n) },
	"window-duration": func(v *viper.Viper, n string, c *config.Config) { c.Audio.WindowDuration = v.GetFloat64(n) },
	"low-latency":     func(v *viper.Viper, n string, c *config.Config) { c.Audio.LowLatency = v.GetBool(n) },
	"alpha":           func(v *viper.Viper, n string, c *config.Config) { c.Analysis.SmoothingAlpha = v.GetFloat64(n) },
	"decibels":        func(v *viper.Viper, n string, c *config.Config) { c.Analysis.Decibels = v.GetBool(n) },
	"tick-interval":   func(v *viper.Viper, n string, c *config.Config) { c.Analysis.TickInterval = v.GetDuration(n) },
	"window":          func(v *viper.Viper, n string, c *config.Config) { c.Analysis.Window = v.GetString(n) },
	"record":          func(v *viper.Viper, n string, c *config.Config) { c.Recording.Enabled = v.GetBool(n) },
	"output":          func(v *viper.Viper, n string, c *config.Config) { c.Recording.OutputFile = v.GetString(n) },
	"output-dir":      func(v *viper.Viper, n string, c *config.Config) { c.Recording.OutputDir = v.GetString(n) },
	"bit-depth":       func(v *viper.Viper, n string, c *config.Config) { c.Recording.BitDepth = v.GetInt(n) },
	"log-every":       func(v *viper.Viper, n string, c *config.Config) { c.Transport.LogEvery = v.GetInt(n) },
	"websocket":       func(v *viper.Viper, n string, c *config.Config) { c.Transport.WebSocketEnabled = v.GetBool(n) },
	"websocket-addr":  func(v *viper.Viper, n string, c *config.Config) { c.Transport.WebSocketAddress = v.GetString(n) },
	"udp":             func(v *viper.Viper, n string, c *config.Config) { c.Transport.UDPEnabled = v.GetBool(n) },
	"udp-target":      func(v *viper.Viper, n string, c *config.Config) { c.Transport.UDPTargetAddress = v.GetString(n) },
	"udp-interval":    func(v *viper.Viper, n string, c *config.Config) { c.Transport.UDPSendInterval = v.GetDuration(n) },
	"headless":        func(v *viper.Viper, n string, c *config.Config) { c.Monitor = !v.GetBool(n) },
	"log-level":       func(v *viper.Viper, n string, c *config.Config) { c.LogLevel = v.GetString(n) },
	"verbose":         func(v *viper.Viper, n string, c *config.Config) { c.Debug = v.GetBool(n) },
}

// ParseArgs builds the configuration from, in increasing precedence:
// built-in defaults, the YAML file (--config or ./config.yaml),
// SPECTRUM_* environment variables and command line flags. The result is
// validated; an invalid configuration is returned as an error.
func ParseArgs(args []string) (*config.Config, error) {
	buildInfo := build.GetBuildFlags()
	defaults := config.NewConfig()

	var (
		result     *config.Config
		configPath string
		command    string
	)

	resolve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd, configPath)
		if err != nil {
			return err
		}
		cfg.Command = command
		result = cfg
		return nil
	}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         build.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		Args: cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			command = CommandRun
		},
		RunE: resolve,
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// List command
	var interactive bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		PreRun: func(cmd *cobra.Command, args []string) {
			command = CommandList
			if interactive {
				command = CommandPick
			}
		},
		RunE: resolve,
	}
	listCmd.Flags().BoolVarP(&interactive, "interactive", "i", false,
		"Pick an input device interactively")
	rootCmd.AddCommand(listCmd)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "",
		"YAML config file (default ./config.yaml when present)")

	// Audio Device Configuration
	flags.IntP("device", "d", defaults.Audio.InputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	flags.Float64P("sample-rate", "s", defaults.Audio.SampleRate,
		"Sample rate, measured in Hertz (Hz)")
	flags.Float64P("window-duration", "w", defaults.Audio.WindowDuration,
		"Seconds of audio per analysis frame (frame size = sample rate × duration)")
	flags.BoolP("low-latency", "l", defaults.Audio.LowLatency,
		"Use low latency mode for real-time processing")

	// Analysis Configuration
	flags.Float64P("alpha", "a", defaults.Analysis.SmoothingAlpha,
		"Spectrum smoothing factor in (0, 1]; higher reacts faster")
	flags.Bool("decibels", defaults.Analysis.Decibels,
		"Display the spectrum in dB instead of linear magnitude")
	flags.DurationP("tick-interval", "t", defaults.Analysis.TickInterval,
		"Time between display updates")
	flags.String("window", defaults.Analysis.Window,
		"Analysis window: Rectangular, Hann, Hamming, Blackman, ...")

	// Recording Configuration
	flags.BoolP("record", "r", defaults.Recording.Enabled,
		"Record audio from the specified input device")
	flags.StringP("output", "o", defaults.Recording.OutputFile,
		"Output file name. Default is recording-DD-MM-YYYY-HHMMSS.wav in --output-dir")
	flags.String("output-dir", defaults.Recording.OutputDir,
		"Directory for generated recording file names")
	flags.Int("bit-depth", defaults.Recording.BitDepth,
		"Recording bit depth (16 or 24)")

	// Rendering Configuration
	flags.Bool("headless", !defaults.Monitor,
		"Run without the terminal monitor until interrupted")
	flags.Int("log-every", defaults.Transport.LogEvery,
		"Log every Nth spectrum snapshot when headless (0 disables)")
	flags.Bool("websocket", defaults.Transport.WebSocketEnabled,
		"Broadcast JSON snapshots over WebSocket")
	flags.String("websocket-addr", defaults.Transport.WebSocketAddress,
		"WebSocket listen address")
	flags.Bool("udp", defaults.Transport.UDPEnabled,
		"Publish binary spectrum packets over UDP")
	flags.String("udp-target", defaults.Transport.UDPTargetAddress,
		"UDP target host:port")
	flags.Duration("udp-interval", defaults.Transport.UDPSendInterval,
		"Interval between UDP packets")

	// Debug Configuration
	flags.BoolP("verbose", "v", defaults.Debug,
		"Show verbose output")
	flags.String("log-level", defaults.LogLevel,
		"Log level (debug, info, warn, error)")

	// Execute the CLI
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}

	if result == nil {
		// Help or version output was printed.
		return &config.Config{}, nil
	}
	return result, nil
}

// loadConfig reads the YAML file, applies environment variables and flags
// on top of it and validates only the merged result.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	if err := bindFlags(cmd, v); err != nil {
		return nil, err
	}

	for name, apply := range overrides {
		if v.IsSet(name) {
			apply(v, name, cfg)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// bindFlags binds each cobra flag to viper and to its SPECTRUM_*
// environment variable. viper reports a key as set only when the flag was
// given or the variable exists, so unset flags never clobber the file.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if _, ok := overrides[f.Name]; !ok {
			return
		}

		if err := v.BindPFlag(f.Name, f); err != nil {
			lastErr = err
		}

		envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if err := v.BindEnv(f.Name, EnvPrefix+"_"+envVarSuffix); err != nil {
			lastErr = err
		}
	})

	return lastErr
}
