// SPDX-License-Identifier: MIT
package buffers

import (
	"fmt"
	"math"
)

// Sizing is the shape of a pool: how long each item is, how many may be
// queued and how many are built up front.
type Sizing struct {
	ElementSize int
	MaxCapacity int
	Preload     int
}

const (
	// sampleHistory is how much audio, in milliseconds, the sample pool can
	// hold when every buffer is queued.
	sampleHistory    = 2000.0
	minSampleBuffers = 8
	maxSamplePreload = 8

	fftSampleBuffers = 16
	fftSamplePreload = 4

	// frameHistory is how many seconds of frames, at the refresh rate, the
	// frame pool covers.
	frameHistory    = 2.0
	minFrameBuffers = 16
	maxFramePreload = 10
)

// SampleSizingForDuration sizes a sample pool for capture buffers of
// bufferDurationMs at sampleRateHz with interleaved channels.
func SampleSizingForDuration(sampleRateHz, bufferDurationMs float64, channels int) (Sizing, error) {
	if sampleRateHz <= 0 || bufferDurationMs <= 0 || channels <= 0 {
		return Sizing{}, fmt.Errorf("sample sizing: rate %.1f Hz, duration %.2f ms and channels %d must all be positive",
			sampleRateHz, bufferDurationMs, channels)
	}

	frames := int(math.Ceil(sampleRateHz * bufferDurationMs / 1000))
	capacity := max(int(math.Ceil(sampleHistory/bufferDurationMs)), minSampleBuffers)

	return Sizing{
		ElementSize: frames * channels,
		MaxCapacity: capacity,
		Preload:     min(capacity/2, maxSamplePreload),
	}, nil
}

// SampleSizingForFFT sizes a sample pool whose buffers feed an FFT of fftSize
// points per channel.
func SampleSizingForFFT(fftSize, channels int) (Sizing, error) {
	if fftSize <= 0 || channels <= 0 {
		return Sizing{}, fmt.Errorf("sample sizing: fft size %d and channels %d must be positive", fftSize, channels)
	}

	return Sizing{
		ElementSize: fftSize * channels,
		MaxCapacity: fftSampleBuffers,
		Preload:     fftSamplePreload,
	}, nil
}

// FrameSizing sizes a frame pool for bandCount bands consumed at refreshHz.
func FrameSizing(bandCount int, refreshHz float64) (Sizing, error) {
	if bandCount <= 0 || refreshHz <= 0 {
		return Sizing{}, fmt.Errorf("frame sizing: band count %d and refresh rate %.1f Hz must be positive", bandCount, refreshHz)
	}

	capacity := max(int(math.Ceil(frameHistory*refreshHz)), minFrameBuffers)

	return Sizing{
		ElementSize: bandCount,
		MaxCapacity: capacity,
		Preload:     min(capacity/3, maxFramePreload),
	}, nil
}
