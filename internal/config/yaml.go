// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"micscope/internal/fft"
	"micscope/internal/log"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the YAML file at path (see ReadConfig) and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ReadConfig overlays the YAML file at path on the built-in defaults. If
// path is empty, it searches default locations ("config.yaml"); if no file
// is found, the defaults are returned. The result is not validated, so
// later layers (environment, flags) can still replace a bad file value.
func ReadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		candidates := []string{
			"config.yaml",
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks every field against the pipeline's limits and reports
// all violations at once.
func (c *Config) Validate() error {
	var errs []error

	// Audio
	if c.Audio.InputDevice < MinDeviceID {
		errs = append(errs, fmt.Errorf("audio.input_device must be >= %d, got %d", MinDeviceID, c.Audio.InputDevice))
	}
	if c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be within [%d, %d] Hz, got %g",
			MinSampleRate, MaxSampleRate, c.Audio.SampleRate))
	}
	if c.Audio.WindowDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.window_duration must be positive, got %g", c.Audio.WindowDuration))
	} else if n := c.BufferSize(); n < MinBufferSize {
		errs = append(errs, fmt.Errorf("buffer size %d derived from sample_rate × window_duration is below %d", n, MinBufferSize))
	}

	// Analysis
	if c.Analysis.SmoothingAlpha <= 0 || c.Analysis.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("analysis.smoothing_alpha must be within (0, 1], got %g", c.Analysis.SmoothingAlpha))
	}
	if c.Analysis.DBEpsilon <= 0 {
		errs = append(errs, fmt.Errorf("analysis.db_epsilon must be positive, got %g", c.Analysis.DBEpsilon))
	}
	if c.Analysis.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("analysis.tick_interval must be positive, got %s", c.Analysis.TickInterval))
	}
	if _, err := fft.ParseWindowFunc(c.Analysis.Window); err != nil {
		errs = append(errs, fmt.Errorf("analysis.window: %w", err))
	}

	// Logging
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level '%s' is not one of debug, info, warn, error", c.LogLevel))
	}

	// Recording
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		errs = append(errs, fmt.Errorf("recording.bit_depth must be 16 or 24, got %d", c.Recording.BitDepth))
	}

	// Transport
	if c.Transport.LogEvery < 0 {
		errs = append(errs, fmt.Errorf("transport.log_every must not be negative, got %d", c.Transport.LogEvery))
	}
	if c.Transport.WebSocketEnabled && c.Transport.WebSocketAddress == "" {
		errs = append(errs, errors.New("transport.websocket_address must be set when WebSocket is enabled"))
	}
	if c.Transport.UDPEnabled {
		if !strings.Contains(c.Transport.UDPTargetAddress, ":") {
			errs = append(errs, fmt.Errorf("transport.udp_target_address '%s' appears invalid (missing port?)", c.Transport.UDPTargetAddress))
		}
		if c.Transport.UDPSendInterval <= 0 {
			errs = append(errs, errors.New("transport.udp_send_interval must be positive when UDP is enabled"))
		}
	}

	return errors.Join(errs...)
}
