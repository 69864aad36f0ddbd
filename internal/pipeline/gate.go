// SPDX-License-Identifier: MIT
package pipeline

import (
	"math"
	"sync/atomic"

	"spectra/internal/buffers"
)

// Gate silences frames whose RMS level falls below a threshold.
// The threshold is in the range of 0.0-1.0 where 0 disables gating.
// It is safe to change the threshold while frames are flowing.
type Gate struct {
	threshold atomic.Uint64 // math.Float64bits of the threshold
}

// NewGate creates a gate with the given threshold.
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	return g
}

// SetThreshold adjusts the gate threshold. Values are clamped into [0, 1].
func (g *Gate) SetThreshold(threshold float64) {
	if threshold < 0.0 || math.IsNaN(threshold) {
		threshold = 0.0
	}
	if threshold > 1.0 {
		threshold = 1.0
	}
	g.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current threshold.
func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// Closed reports whether a frame with the given RMS would be silenced.
func (g *Gate) Closed(rms float64) bool {
	t := g.Threshold()
	return t > 0 && rms < t
}

// Apply silences f in place when the gate is closed for its RMS and reports
// whether it did.
func (g *Gate) Apply(f *buffers.SpectrumFrame) bool {
	if !g.Closed(f.RMS) {
		return false
	}
	f.Silence()
	return true
}
