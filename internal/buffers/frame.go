// SPDX-License-Identifier: MIT
package buffers

import (
	"sync/atomic"
	"time"

	applog "spectra/internal/log"
)

// SampleBuffer is one capture callback's worth of interleaved PCM samples.
// Its length is fixed by the pool that produced it.
type SampleBuffer struct {
	Samples []float32
}

// SpectrumFrame is the result of analysing one SampleBuffer.
//
// Frames are shared read-only once published. Holders that keep a frame past
// the call that handed it to them must Retain it and Release it when done;
// the last Release returns the frame to its pool.
type SpectrumFrame struct {
	Magnitudes []float64     // per-band magnitude, normalised to [0, 1]
	Peak       float64       // largest magnitude in the frame
	PeakIndex  int           // band holding Peak
	RMS        float64       // RMS level of the source samples
	Timestamp  time.Time     // capture time of the source samples
	Latency    time.Duration // capture to publish

	refs  atomic.Int32
	owner *FramePool
}

// Retain adds a reference to the frame.
func (f *SpectrumFrame) Retain() {
	f.refs.Add(1)
}

// Release drops a reference and returns the frame to its pool once nobody
// holds it any more.
func (f *SpectrumFrame) Release() {
	n := f.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		panic("buffers: spectrum frame released more times than retained")
	}

	if f.owner == nil {
		return
	}
	if err := f.owner.Return(f); err != nil {
		applog.Errorf("buffers: returning spectrum frame: %v", err)
	}
}

// Silence zeroes every magnitude and the level metadata, keeping the
// timestamp and latency.
func (f *SpectrumFrame) Silence() {
	clear(f.Magnitudes)
	f.Peak = 0
	f.PeakIndex = 0
	f.RMS = 0
}

// UpdatePeak recomputes Peak and PeakIndex from Magnitudes.
func (f *SpectrumFrame) UpdatePeak() {
	f.Peak, f.PeakIndex = 0, 0
	for i, v := range f.Magnitudes {
		if v > f.Peak {
			f.Peak, f.PeakIndex = v, i
		}
	}
}

func (f *SpectrumFrame) reset() {
	f.Silence()
	f.Timestamp = time.Time{}
	f.Latency = 0
	f.refs.Store(0)
}
