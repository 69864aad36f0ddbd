// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"spectra/internal/dsp"
)

// Core configuration constants that define the boundaries and defaults
// for the visualizer.
const (
	// Audio capture
	DefaultChannels        = 2           // Stereo, down-mixed for analysis
	DefaultDeviceID        = MinDeviceID // System default device
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultLowLatency      = false       // Standard latency mode
	DefaultSampleRate      = 48000       // Hz

	// Analysis and pipeline
	DefaultBands           = 64
	DefaultFFTSize         = 1024
	DefaultFFTWindow       = "Hann"
	DefaultMinHz           = 20.0
	DefaultMaxHz           = 20000.0
	DefaultDynamicRange    = 60.0 // dB
	DefaultVolumeThreshold = 0.0  // Gate disabled
	DefaultQueueDepth      = 4

	// Display
	DefaultRefreshRate = 60.0 // Hz

	// Recording
	DefaultFormat    = "wav"
	DefaultBitDepth  = 16
	DefaultOutputDir = "./recordings"

	// Transport
	DefaultUDPTargetAddress = "127.0.0.1:9090"
	DefaultHTTPAddress      = ":8080"
	DefaultLogEvery         = 60            // One logged view per second at 60 Hz
	DefaultTUILogFile       = "spectra.log" // Log sink while the terminal UI owns the screen

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer
	MaxChannels     = 32
	MaxBands        = 512
	MaxRefreshRate  = 240.0
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`     // Enable debug mode (development logging).
	LogLevel  string          `yaml:"log_level"` // Logging level ("debug", "info", "warn", "error").
	Audio     AudioConfig     `yaml:"audio"`     // Capture settings.
	Pipeline  PipelineConfig  `yaml:"pipeline"`  // Analysis and gating.
	Display   DisplayConfig   `yaml:"display"`   // Surface refresh.
	Smoothing SmoothingConfig `yaml:"smoothing"` // Per-surface smoothing and decay.
	Recording RecordingConfig `yaml:"recording"` // WAV recording of captured input.
	Transport TransportConfig `yaml:"transport"` // Renderers and the HTTP surface.
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index (-1 for default).
	SampleRate      float64 `yaml:"sample_rate"`       // Sample rate in Hz.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture callback.
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio.
	InputChannels   int     `yaml:"input_channels"`    // Interleaved channels to capture.
	Synthetic       bool    `yaml:"synthetic"`         // Use the tone generator instead of a device.
}

// PipelineConfig holds analysis and gate settings.
type PipelineConfig struct {
	Bands           int     `yaml:"bands"`            // Display bands per frame.
	FFTSize         int     `yaml:"fft_size"`         // Power of two.
	FFTWindow       string  `yaml:"fft_window"`       // Window function name (e.g. "Hann", "Hamming").
	MinHz           float64 `yaml:"min_hz"`           // Lowest band edge.
	MaxHz           float64 `yaml:"max_hz"`           // Highest band edge, clamped to Nyquist.
	DynamicRange    float64 `yaml:"dynamic_range_db"` // dB mapped onto [0, 1].
	VolumeThreshold float64 `yaml:"volume_threshold"` // RMS below which frames are silenced, 0 disables.
	QueueDepth      int     `yaml:"queue_depth"`      // Buffers waiting for the analysis worker.
}

// DisplayConfig holds surface settings.
type DisplayConfig struct {
	RefreshRate float64 `yaml:"refresh_rate"` // Hz per surface.
}

// SmoothingConfig mirrors dsp.Settings in file form.
type SmoothingConfig struct {
	Attack        float64       `yaml:"attack"`
	Decay         float64       `yaml:"decay"`
	PassiveDecay  float64       `yaml:"passive_decay"`
	Epsilon       float64       `yaml:"epsilon"`
	SilenceWindow time.Duration `yaml:"silence_window"`
	PeakHold      bool          `yaml:"peak_hold"`
	PeakHoldTime  time.Duration `yaml:"peak_hold_time"`
	PeakDecay     float64       `yaml:"peak_decay"`
	Gain          float64       `yaml:"gain"`
}

// RecordingConfig holds settings related to audio recording functionality.
type RecordingConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Record captured input to a WAV file.
	OutputDir  string `yaml:"output_dir"`  // Directory for generated file names.
	OutputFile string `yaml:"output_file"` // Explicit file path, overrides OutputDir.
	Format     string `yaml:"format"`      // Only "wav".
	BitDepth   int    `yaml:"bit_depth"`   // 16, 24 or 32.
}

// TransportConfig holds renderer and network settings.
type TransportConfig struct {
	UDPEnabled       bool     `yaml:"udp_enabled"`        // Send binary frames over UDP.
	UDPTargetAddress string   `yaml:"udp_target_address"` // "host:port".
	HTTPEnabled      bool     `yaml:"http_enabled"`       // Serve /ws, /metrics and /settings.
	HTTPAddress      string   `yaml:"http_address"`       // Listen address.
	AllowedOrigins   []string `yaml:"allowed_origins"`    // CORS origins, empty allows all.
	TUI              bool     `yaml:"tui"`                // Draw spectrum bars in the terminal.
	LogEvery         int      `yaml:"log_every"`          // Logging renderer: one view in N, 0 disables.
}

// Default returns the built-in configuration.
func Default() *Config {
	s := dsp.DefaultSettings()
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      DefaultLowLatency,
			InputChannels:   DefaultChannels,
		},
		Pipeline: PipelineConfig{
			Bands:           DefaultBands,
			FFTSize:         DefaultFFTSize,
			FFTWindow:       DefaultFFTWindow,
			MinHz:           DefaultMinHz,
			MaxHz:           DefaultMaxHz,
			DynamicRange:    DefaultDynamicRange,
			VolumeThreshold: DefaultVolumeThreshold,
			QueueDepth:      DefaultQueueDepth,
		},
		Display: DisplayConfig{
			RefreshRate: DefaultRefreshRate,
		},
		Smoothing: SmoothingConfig{
			Attack:        s.Attack,
			Decay:         s.Decay,
			PassiveDecay:  s.PassiveDecay,
			Epsilon:       s.Epsilon,
			SilenceWindow: s.SilenceWindow,
			PeakHold:      s.PeakHoldOn,
			PeakHoldTime:  s.PeakHold,
			PeakDecay:     s.PeakDecay,
			Gain:          s.Gain,
		},
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			Format:    DefaultFormat,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			UDPTargetAddress: DefaultUDPTargetAddress,
			HTTPEnabled:      true,
			HTTPAddress:      DefaultHTTPAddress,
			LogEvery:         DefaultLogEvery,
		},
	}
}

// Settings converts the section into runtime smoothing settings.
func (s SmoothingConfig) Settings() dsp.Settings {
	return dsp.Settings{
		Attack:        s.Attack,
		Decay:         s.Decay,
		PassiveDecay:  s.PassiveDecay,
		Epsilon:       s.Epsilon,
		SilenceWindow: s.SilenceWindow,
		PeakHoldOn:    s.PeakHold,
		PeakHold:      s.PeakHoldTime,
		PeakDecay:     s.PeakDecay,
		Gain:          s.Gain,
	}
}
