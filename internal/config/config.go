// SPDX-License-Identifier: MIT
package config

import (
	"math"
	"path/filepath"
	"time"
)

// Core configuration constants that define the boundaries and defaults
// for the capture and analysis pipeline.
const (
	DefaultInputDevice    = MinDeviceID            // System default input
	DefaultSampleRate     = 16000                  // Speech-range capture
	DefaultWindowDuration = 0.2                    // Seconds per frame
	DefaultLowLatency     = false                  // Standard latency mode
	DefaultSmoothingAlpha = 0.1                    // EMA weight of the newest spectrum
	DefaultDBEpsilon      = 1e-10                  // Floor added before log10
	DefaultDecibels       = false                  // Linear magnitude display
	DefaultTickInterval   = 200 * time.Millisecond // Update Driver period
	DefaultWindow         = "Rectangular"          // No analysis window
	DefaultLogLevel       = "info"
	DefaultLogEvery       = 25 // Ticks between logged snapshots
	DefaultRecordingDir   = "./recordings"
	DefaultBitDepth       = 16
	DefaultWebSocketAddr  = ":8080"
	DefaultUDPTarget      = "127.0.0.1:9090"
	DefaultUDPInterval    = 33 * time.Millisecond // ~30Hz
	DefaultMonitor        = true

	// Hardware and processing limits
	MinDeviceID   = -1     // -1 represents system default device
	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MinBufferSize = 2      // One-sided spectrum needs at least one bin
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug mode (forces debug logging).
	LogLevel  string          `yaml:"log_level"`         // Logging level ("debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // A one-off command to execute instead of running the pipeline (e.g. "list").
	Monitor   bool            `yaml:"monitor"`           // Run the terminal monitor; headless otherwise.
	Audio     AudioConfig     `yaml:"audio"`             // Capture settings.
	Analysis  AnalysisConfig  `yaml:"analysis"`          // Spectral pipeline settings.
	Recording RecordingConfig `yaml:"recording"`         // WAV recording of accepted blocks.
	Transport TransportConfig `yaml:"transport"`         // Rendering sinks.
}

// AudioConfig holds settings related to audio capture.
type AudioConfig struct {
	InputDevice    int     `yaml:"input_device"`    // PortAudio device index for audio input (-1 for default).
	SampleRate     float64 `yaml:"sample_rate"`     // Sample rate in Hz.
	WindowDuration float64 `yaml:"window_duration"` // Seconds of audio per frame; derives BufferSize.
	LowLatency     bool    `yaml:"low_latency"`     // Request low latency settings from the device.
}

// AnalysisConfig holds the spectral pipeline parameters.
type AnalysisConfig struct {
	SmoothingAlpha float64       `yaml:"smoothing_alpha"` // Weight of the newest spectrum in the running average.
	DBEpsilon      float64       `yaml:"db_epsilon"`      // Added to magnitudes before the dB projection.
	Decibels       bool          `yaml:"decibels"`        // Display the dB projection instead of linear magnitudes.
	TickInterval   time.Duration `yaml:"tick_interval"`   // Update Driver period.
	Window         string        `yaml:"window"`          // Analysis window name ("Rectangular", "Hann", ...).
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Enable WAV recording.
	OutputDir  string `yaml:"output_dir"`  // Directory for generated file names.
	OutputFile string `yaml:"output_file"` // Explicit output path; generated when empty.
	BitDepth   int    `yaml:"bit_depth"`   // 16 or 24.
}

// TransportConfig holds settings for the rendering sinks.
type TransportConfig struct {
	LogEvery         int           `yaml:"log_every"`          // Log every Nth snapshot, 0 disables.
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Broadcast JSON snapshots over WebSocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address, e.g. ":8080".
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send binary spectrum packets over UDP.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target "host:port".
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
}

// NewConfig creates a new Config instance with default values.
// This is the base configuration before a config file or command
// line arguments are applied.
func NewConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		Monitor:  DefaultMonitor,
		Audio: AudioConfig{
			InputDevice:    DefaultInputDevice,
			SampleRate:     DefaultSampleRate,
			WindowDuration: DefaultWindowDuration,
			LowLatency:     DefaultLowLatency,
		},
		Analysis: AnalysisConfig{
			SmoothingAlpha: DefaultSmoothingAlpha,
			DBEpsilon:      DefaultDBEpsilon,
			Decibels:       DefaultDecibels,
			TickInterval:   DefaultTickInterval,
			Window:         DefaultWindow,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultRecordingDir,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			LogEvery:         DefaultLogEvery,
			WebSocketAddress: DefaultWebSocketAddr,
			UDPTargetAddress: DefaultUDPTarget,
			UDPSendInterval:  DefaultUDPInterval,
		},
	}
}

// BufferSize returns the number of samples per frame,
// round(sample_rate × window_duration).
func (c *Config) BufferSize() int {
	return int(math.Round(c.Audio.SampleRate * c.Audio.WindowDuration))
}

// RecordingPath returns the WAV output path, generating
// recording-DD-MM-YYYY-HHMMSS.wav under OutputDir when none was given.
func (c *Config) RecordingPath(now time.Time) string {
	if c.Recording.OutputFile != "" {
		return c.Recording.OutputFile
	}
	name := "recording-" + now.UTC().Format("02-01-2006-150405") + ".wav"
	return filepath.Join(c.Recording.OutputDir, name)
}
