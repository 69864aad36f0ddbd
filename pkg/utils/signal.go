// SPDX-License-Identifier: MIT
package utils

import "math"

// Tone is one sine partial.
type Tone struct {
	Freq float64 // Hz
	Amp  float64 // linear, 1 is full scale
}

// Oscillator renders phase-continuous tones into interleaved float32
// buffers. It keeps one phase per tone so consecutive buffers join without
// clicks.
type Oscillator struct {
	sampleRate float64
	phases     []float64
}

// NewOscillator creates an oscillator for up to tones partials.
func NewOscillator(sampleRate float64, tones int) *Oscillator {
	return &Oscillator{
		sampleRate: sampleRate,
		phases:     make([]float64, tones),
	}
}

// Fill writes len(dst)/channels frames of the summed tones, identical on
// every channel. Tones beyond the oscillator's capacity are ignored.
func (o *Oscillator) Fill(dst []float32, channels int, tones []Tone) {
	if channels < 1 {
		channels = 1
	}
	frames := len(dst) / channels
	n := min(len(tones), len(o.phases))

	for i := range frames {
		var v float64
		for k := range n {
			v += tones[k].Amp * math.Sin(o.phases[k])
			o.phases[k] += 2 * math.Pi * tones[k].Freq / o.sampleRate
		}
		s := float32(max(-1, min(1, v)))
		for c := range channels {
			dst[i*channels+c] = s
		}
	}

	for k := range n {
		o.phases[k] = math.Mod(o.phases[k], 2*math.Pi)
	}
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics.
func GenerateComplexWave(size int, sampleRate float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = float32(signal * 0.9)
	}
	return buffer
}

// GenerateSineWave returns a single sine at 0.9 of full scale.
func GenerateSineWave(size int, sampleRate, frequency float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = float32(math.Sin(2*math.Pi*frequency*t) * 0.9)
	}
	return buffer
}

// FindPeakBin returns the index of the largest value in
// magnitudes[startBin:endBin+1].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
