// SPDX-License-Identifier: MIT
package fft

import (
	"math"
	"testing"
)

const (
	testFFTSize    = 1024
	testSampleRate = 44100
)

func newTestProcessor(t testing.TB) *Processor {
	t.Helper()
	p, err := NewProcessor(testFFTSize, testSampleRate, Hann)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func sine(n int, freq, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/testSampleRate))
	}
	return out
}

func TestNewProcessorValidation(t *testing.T) {
	if _, err := NewProcessor(1000, testSampleRate, Hann); err == nil {
		t.Error("expected error for non power of two size")
	}
	if _, err := NewProcessor(testFFTSize, 0, Hann); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestProcessFindsToneBin(t *testing.T) {
	p := newTestProcessor(t)

	// Pick a frequency centred on a bin to avoid leakage between two bins.
	bin := 40
	freq := float64(bin) * testSampleRate / testFFTSize
	mags := p.Process(sine(testFFTSize, freq, 0.5))

	if len(mags) != p.Bins() {
		t.Fatalf("got %d magnitudes, want %d", len(mags), p.Bins())
	}

	peak := 0
	for i, v := range mags {
		if v > mags[peak] {
			peak = i
		}
	}
	if peak != bin {
		t.Errorf("peak bin: got %d, want %d", peak, bin)
	}
	if math.Abs(mags[bin]-0.5) > 0.02 {
		t.Errorf("amplitude at tone bin: got %.4f, want ~0.5", mags[bin])
	}
	if got := p.BinForFrequency(freq); got != bin {
		t.Errorf("BinForFrequency(%.1f): got %d, want %d", freq, got, bin)
	}
}

func TestProcessZeroPadsShortInput(t *testing.T) {
	p := newTestProcessor(t)
	p.Process(sine(testFFTSize, 1000, 1))

	mags := p.Process(make([]float32, 10))
	for i, v := range mags {
		if v != 0 {
			t.Fatalf("bin %d: got %g after silent input, stale workspace", i, v)
		}
	}
}

func TestGetFrequencyBin(t *testing.T) {
	p := newTestProcessor(t)
	if got := p.GetFrequencyBin(0); got != 0 {
		t.Errorf("DC bin: got %f", got)
	}
	if got := p.GetFrequencyBin(testFFTSize / 2); math.Abs(got-testSampleRate/2) > 1e-6 {
		t.Errorf("Nyquist bin: got %f, want %f", got, testSampleRate/2.0)
	}
	if got := p.GetFrequencyBin(-1); got != 0 {
		t.Errorf("out of range bin: got %f", got)
	}
}

func TestParseWindowFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    WindowFunc
		wantErr bool
	}{
		{"hann", Hann, false},
		{"Hanning", Hann, false},
		{"BLACKMAN", Blackman, false},
		{"nuttall", Nuttall, false},
		{"", Hann, false},
		{"kaiser", Hann, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindowFunc(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error: got %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFFTHotPath(t *testing.T) {
	processor := newTestProcessor(t)
	input := sine(testFFTSize, 440, 0.8)

	// Warm-up call so the first transform does not count.
	processor.Process(input)
	allocs := testing.AllocsPerRun(100, func() {
		processor.Process(input)
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in FFT Process hot path, got %.1f", allocs)
	}
}

func TestGetFrequencyBinZeroAllocs(t *testing.T) {
	processor := newTestProcessor(t)

	allocs := testing.AllocsPerRun(100, func() {
		_ = processor.GetFrequencyBin(0)               // DC component
		_ = processor.GetFrequencyBin(10)              // Low frequency
		_ = processor.GetFrequencyBin(testFFTSize / 4) // Mid frequency
		_ = processor.GetFrequencyBin(testFFTSize / 2) // Nyquist frequency
	})

	if allocs > 0 {
		t.Errorf("Expected zero allocations in GetFrequencyBin, got %.1f", allocs)
	}
}

func BenchmarkProcess(b *testing.B) {
	processor := newTestProcessor(b)
	input := make([]float32, testFFTSize)

	// Generate a test signal (sine wave with harmonics).
	for i := range input {
		tm := float64(i) / testSampleRate

		// Fundamental at 440Hz plus harmonics.
		input[i] = float32(math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2)
	}

	b.ReportAllocs()

	for b.Loop() {
		processor.Process(input)
	}
}
