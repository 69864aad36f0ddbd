// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"spectra/internal/dsp"
	"spectra/internal/fft"
	applog "spectra/internal/log"
	"spectra/pkg/bitint"
)

// DefaultPath is searched when LoadConfig is given no path.
const DefaultPath = "config.yaml"

// LoadConfig loads configuration from a YAML file specified by path. If path is
// empty it tries DefaultPath and falls back to built-in defaults when that is
// missing. Environment overrides are applied last, then the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err != nil {
			cfg.applyEnvOverrides()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("invalid default configuration: %w", err)
			}
			return cfg, nil
		}
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	_, ok := applog.ParseLevel(c.LogLevel)
	check(ok, "log_level %q is not recognised", c.LogLevel)

	a := c.Audio
	check(a.InputDevice >= MinDeviceID, "audio.input_device must be >= %d, got %d", MinDeviceID, a.InputDevice)
	check(a.SampleRate >= MinSampleRate && a.SampleRate <= MaxSampleRate,
		"audio.sample_rate must be within [%d, %d], got %.0f", MinSampleRate, MaxSampleRate, a.SampleRate)
	check(a.FramesPerBuffer > 0 && a.FramesPerBuffer <= MaxBufferFrames,
		"audio.frames_per_buffer must be within [1, %d], got %d", MaxBufferFrames, a.FramesPerBuffer)
	check(a.InputChannels > 0 && a.InputChannels <= MaxChannels,
		"audio.input_channels must be within [1, %d], got %d", MaxChannels, a.InputChannels)

	p := c.Pipeline
	check(p.Bands > 0 && p.Bands <= MaxBands, "pipeline.bands must be within [1, %d], got %d", MaxBands, p.Bands)
	check(p.FFTSize >= 2 && bitint.IsPowerOfTwo(p.FFTSize), "pipeline.fft_size must be a power of two, got %d", p.FFTSize)
	check(p.Bands <= p.FFTSize/2, "pipeline.bands (%d) must not exceed fft_size/2 (%d)", p.Bands, p.FFTSize/2)
	if _, err := fft.ParseWindowFunc(p.FFTWindow); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.fft_window: %w", err))
	}
	check(p.MinHz > 0 && p.MinHz < p.MaxHz, "pipeline.min_hz must be positive and below max_hz, got %.1f-%.1f", p.MinHz, p.MaxHz)
	check(p.DynamicRange > 0, "pipeline.dynamic_range_db must be positive, got %.1f", p.DynamicRange)
	check(p.VolumeThreshold >= 0 && p.VolumeThreshold <= 1, "pipeline.volume_threshold must be within [0, 1], got %.3f", p.VolumeThreshold)
	check(p.QueueDepth > 0, "pipeline.queue_depth must be positive, got %d", p.QueueDepth)

	check(c.Display.RefreshRate > 0 && c.Display.RefreshRate <= MaxRefreshRate,
		"display.refresh_rate must be within (0, %.0f], got %.1f", MaxRefreshRate, c.Display.RefreshRate)

	s := c.Smoothing
	for name, v := range map[string]float64{
		"attack":        s.Attack,
		"decay":         s.Decay,
		"passive_decay": s.PassiveDecay,
		"peak_decay":    s.PeakDecay,
	} {
		check(v >= 0 && v <= 1, "smoothing.%s must be within [0, 1], got %.3f", name, v)
	}
	check(s.Epsilon >= 0, "smoothing.epsilon must not be negative")
	check(s.SilenceWindow >= 0 && s.PeakHoldTime >= 0, "smoothing durations must not be negative")
	check(s.Gain >= 0 && s.Gain <= dsp.MaxGain, "smoothing.gain must be within [0, %.0f], got %.2f", dsp.MaxGain, s.Gain)

	r := c.Recording
	if r.Enabled {
		check(strings.EqualFold(r.Format, "wav"), "recording.format %q is not supported", r.Format)
		check(r.BitDepth == 16 || r.BitDepth == 24 || r.BitDepth == 32, "recording.bit_depth must be 16, 24 or 32, got %d", r.BitDepth)
		check(r.OutputFile != "" || r.OutputDir != "", "recording needs output_file or output_dir")
	}

	t := c.Transport
	if t.UDPEnabled {
		check(strings.Contains(t.UDPTargetAddress, ":"),
			"transport.udp_target_address '%s' appears invalid (missing port?)", t.UDPTargetAddress)
	}
	if t.HTTPEnabled {
		check(t.HTTPAddress != "", "transport.http_address must be set when HTTP is enabled")
	}
	check(t.LogEvery >= 0, "transport.log_every must not be negative")

	return errors.Join(errs...)
}

// applyEnvOverrides applies ENV_* variables on top of the file values.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.

	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("configuration: Overriding debug from env: %v", bVal)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("configuration: Overriding log_level from env: %s", val)
	}
	// ENV_INPUT_DEVICE
	if val, ok := os.LookupEnv("ENV_INPUT_DEVICE"); ok {
		if iVal, err := strconv.Atoi(val); err == nil {
			cfg.Audio.InputDevice = iVal
			applog.Infof("configuration: Overriding audio.input_device from env: %d", iVal)
		}
	}
	// ENV_VOLUME_THRESHOLD
	if val, ok := os.LookupEnv("ENV_VOLUME_THRESHOLD"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Pipeline.VolumeThreshold = fVal
			applog.Infof("configuration: Overriding pipeline.volume_threshold from env: %.3f", fVal)
		}
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			applog.Infof("configuration: Overriding transport.udp_enabled from env: %v", bVal)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("configuration: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_HTTP_ADDRESS
	if val, ok := os.LookupEnv("ENV_HTTP_ADDRESS"); ok {
		cfg.Transport.HTTPAddress = val
		applog.Infof("configuration: Overriding transport.http_address from env: %s", val)
	}
}
