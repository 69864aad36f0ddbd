// SPDX-License-Identifier: MIT
/*
Package analysis turns captured PCM into normalised spectrum frames.

SpectrumAnalyzer implements pipeline.Analyzer: it down-mixes interleaved
channels to mono, measures the RMS level, runs a windowed FFT and maps the
bins onto logarithmically spaced display bands. Band levels are converted to
decibels and scaled so that the configured dynamic range fills [0, 1].

A SpectrumAnalyzer is driven by the single pipeline worker and is not safe
for concurrent use.
*/
package analysis

import (
	"fmt"
	"math"

	"spectra/internal/buffers"
	"spectra/internal/fft"
	applog "spectra/internal/log"
	"spectra/internal/pipeline"
)

// Defaults for Config fields left zero.
const (
	DefaultFFTSize      = 1024
	DefaultMinHz        = 20.0
	DefaultMaxHz        = 20000.0
	DefaultDynamicRange = 60.0 // dB
)

// Config describes the analysis. SampleRate, Channels and Bands are required.
type Config struct {
	SampleRate   float64
	Channels     int
	Bands        int
	FFTSize      int
	Window       fft.WindowFunc
	MinHz        float64
	MaxHz        float64 // clamped to Nyquist
	DynamicRange float64 // dB mapped onto [0, 1]
}

// SpectrumAnalyzer converts sample buffers into band magnitudes.
type SpectrumAnalyzer struct {
	proc     *fft.Processor
	bands    []FrequencyBand
	channels int
	dbRange  float64
	mono     []float32
}

var _ pipeline.Analyzer = (*SpectrumAnalyzer)(nil)

// NewSpectrumAnalyzer validates cfg, fills defaults and builds the band layout.
func NewSpectrumAnalyzer(cfg Config) (*SpectrumAnalyzer, error) {
	if cfg.Channels < 1 {
		return nil, fmt.Errorf("analysis: channels must be positive, got %d", cfg.Channels)
	}
	if cfg.FFTSize == 0 {
		cfg.FFTSize = DefaultFFTSize
	}
	if cfg.MinHz == 0 {
		cfg.MinHz = DefaultMinHz
	}
	if cfg.MaxHz == 0 {
		cfg.MaxHz = DefaultMaxHz
	}
	if cfg.DynamicRange <= 0 {
		cfg.DynamicRange = DefaultDynamicRange
	}

	proc, err := fft.NewProcessor(cfg.FFTSize, cfg.SampleRate, cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	maxHz := min(cfg.MaxHz, cfg.SampleRate/2)
	bands, err := logBands(cfg.Bands, cfg.MinHz, maxHz, proc)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	applog.Infof("Analysis: %d bands over %.0f-%.0f Hz (FFT %d, window %s, range %.0f dB)",
		len(bands), bands[0].LowHz, bands[len(bands)-1].HighHz, cfg.FFTSize, cfg.Window, cfg.DynamicRange)

	return &SpectrumAnalyzer{
		proc:     proc,
		bands:    bands,
		channels: cfg.Channels,
		dbRange:  cfg.DynamicRange,
		mono:     make([]float32, cfg.FFTSize),
	}, nil
}

// Bands returns the band layout, lowest frequency first.
func (a *SpectrumAnalyzer) Bands() []FrequencyBand {
	return a.bands
}

// FFTSize returns the number of mono frames analysed per buffer.
func (a *SpectrumAnalyzer) FFTSize() int {
	return a.proc.Size()
}

// Analyze implements pipeline.Analyzer.
func (a *SpectrumAnalyzer) Analyze(in pipeline.Capture, out *buffers.SpectrumFrame) error {
	if len(out.Magnitudes) != len(a.bands) {
		return &buffers.SizeMismatchError{Pool: "frames", Want: len(a.bands), Got: len(out.Magnitudes)}
	}

	n := a.downmix(in.Samples)
	mono := a.mono[:n]
	out.RMS = calculateRMS(mono)

	mags := a.proc.Process(mono)
	for i := range a.bands {
		out.Magnitudes[i] = a.normalise(a.bands[i].level(mags))
	}
	out.UpdatePeak()

	return nil
}

// downmix averages interleaved channels into a.mono, keeping the most
// recent FFTSize frames, and returns the number of frames written.
func (a *SpectrumAnalyzer) downmix(samples []float32) int {
	ch := a.channels
	frames := len(samples) / ch
	start := max(frames-len(a.mono), 0)
	n := frames - start

	if ch == 1 {
		copy(a.mono, samples[start:frames])
		return n
	}

	inv := 1 / float32(ch)
	for i := range n {
		base := (start + i) * ch
		var sum float32
		for c := range ch {
			sum += samples[base+c]
		}
		a.mono[i] = sum * inv
	}
	return n
}

// normalise maps an amplitude onto [0, 1] across the dynamic range.
func (a *SpectrumAnalyzer) normalise(amp float64) float64 {
	if amp <= 0 {
		return 0
	}
	db := 20 * math.Log10(amp)
	v := (db + a.dbRange) / a.dbRange
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// calculateRMS calculates the Root Mean Square level of the buffer.
func calculateRMS(buffer []float32) float64 {
	if len(buffer) == 0 {
		return 0.0
	}

	var sumSquare float64
	for _, sample := range buffer {
		s := float64(sample)
		sumSquare += s * s
	}

	return math.Sqrt(sumSquare / float64(len(buffer)))
}
