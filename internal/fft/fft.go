// SPDX-License-Identifier: MIT
package fft

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"spectra/pkg/bitint"
)

// FFTWorkspace holds pre-allocated buffers for FFT calculations.
type FFTWorkspace struct {
	input     []float64    // ...for real input samples (windowed)
	fftOutput []complex128 // ...for FFT complex output
	magnitude []float64    // ...for amplitude-normalised magnitude output
	window    []float64    // ...for window function coefficients
}

// Processor holds the FFT processor state and configuration. It is owned by
// a single goroutine; the magnitude slice returned by Process is reused.
type Processor struct {
	fftSize    int
	sampleRate float64
	windowType WindowFunc
	scale      float64 // 2 / sum(window), maps a full-scale sine to 1.0
	workspace  FFTWorkspace
	fftObj     *fourier.FFT
}

// NewProcessor creates a new FFT processor. It pre-allocates all required
// buffers and computes the window coefficients.
func NewProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*Processor, error) {
	if fftSize < 2 || !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	window := make([]float64, fftSize)
	applyWindow(window, windowType)

	var sum float64
	for _, w := range window {
		sum += w
	}
	scale := 0.0
	if sum > 0 {
		scale = 2 / sum
	}

	// Pre-compute the size of the output buffer
	outputSize := fftSize/2 + 1

	return &Processor{
		fftSize:    fftSize,
		sampleRate: sampleRate,
		windowType: windowType,
		scale:      scale,
		fftObj:     fourier.NewFFT(fftSize),

		// Pre-allocate buffers for FFT processing
		workspace: FFTWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, outputSize),
			magnitude: make([]float64, outputSize),
			window:    window,
		},
	}, nil
}

// Process windows the samples, runs the FFT and returns the magnitude of
// each of the Bins() bins, scaled so a full-scale sine peaks at 1.0.
// Short input is zero-padded, long input is truncated.
func (p *Processor) Process(samples []float32) []float64 {
	n := min(len(samples), p.fftSize)
	for i := range n {
		p.workspace.input[i] = float64(samples[i]) * p.workspace.window[i]
	}
	clear(p.workspace.input[n:])

	// Perform FFT on the input buffer, and calculate the magnitude
	p.fftObj.Coefficients(p.workspace.fftOutput, p.workspace.input)
	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c) * p.scale
	}

	return p.workspace.magnitude
}

// GetFrequencyBin returns the frequency in Hz for a given FFT bin index.
func (p *Processor) GetFrequencyBin(i int) float64 {
	if i < 0 || i >= len(p.workspace.fftOutput) {
		return 0
	}
	return p.fftObj.Freq(i) * p.sampleRate
}

// BinForFrequency returns the bin nearest to hz, clamped to the valid range.
func (p *Processor) BinForFrequency(hz float64) int {
	bin := int(hz*float64(p.fftSize)/p.sampleRate + 0.5)
	return min(max(bin, 0), len(p.workspace.fftOutput)-1)
}

// Size returns the number of points per transform.
func (p *Processor) Size() int { return p.fftSize }

// Bins returns the number of magnitude bins, fftSize/2 + 1.
func (p *Processor) Bins() int { return len(p.workspace.magnitude) }

// SampleRate returns the sample rate in Hz.
func (p *Processor) SampleRate() float64 { return p.sampleRate }

// Window returns the window function in use.
func (p *Processor) Window() WindowFunc { return p.windowType }
