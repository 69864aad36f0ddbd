// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
)

// FrequencyBand is one display band and the FFT bins it covers.
type FrequencyBand struct {
	LowHz  float64 `json:"low_hz"`
	HighHz float64 `json:"high_hz"`

	loBin int // first bin, inclusive
	hiBin int // last bin, exclusive
}

// binMapper is the subset of the FFT processor the band layout needs.
type binMapper interface {
	Bins() int
	BinForFrequency(hz float64) int
	GetFrequencyBin(i int) float64
}

// logBands splits [minHz, maxHz] into count logarithmically spaced bands.
// Every band covers at least one bin and bands never overlap; when the low
// end is too narrow for distinct bins the edges are pushed upwards.
func logBands(count int, minHz, maxHz float64, fft binMapper) ([]FrequencyBand, error) {
	bins := fft.Bins()
	if count < 1 || count > bins-1 {
		return nil, fmt.Errorf("band count %d out of range [1, %d] for %d FFT bins", count, bins-1, bins)
	}
	if minHz <= 0 || maxHz <= minHz {
		return nil, fmt.Errorf("invalid band range %.1f-%.1f Hz", minHz, maxHz)
	}

	ratio := maxHz / minHz
	edges := make([]int, count+1)
	for i := range edges {
		hz := minHz * math.Pow(ratio, float64(i)/float64(count))
		bin := max(fft.BinForFrequency(hz), 1)
		if i > 0 && bin <= edges[i-1] {
			bin = edges[i-1] + 1
		}
		edges[i] = bin
	}

	// Pushing edges up may run past the last bin; pull the tail back down.
	if edges[count] > bins {
		edges[count] = bins
		for i := count - 1; i >= 0; i-- {
			if edges[i] >= edges[i+1] {
				edges[i] = edges[i+1] - 1
			}
		}
	}

	out := make([]FrequencyBand, count)
	for i := range out {
		out[i] = FrequencyBand{
			LowHz:  fft.GetFrequencyBin(edges[i]),
			HighHz: fft.GetFrequencyBin(edges[i+1] - 1),
			loBin:  edges[i],
			hiBin:  edges[i+1],
		}
	}
	return out, nil
}

// level returns the RMS of the magnitudes in the band's bins.
func (b *FrequencyBand) level(mags []float64) float64 {
	var sum float64
	for _, m := range mags[b.loBin:b.hiBin] {
		sum += m * m
	}
	return math.Sqrt(sum / float64(b.hiBin-b.loBin))
}
