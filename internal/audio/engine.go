// SPDX-License-Identifier: MIT
/*
Package audio implements the capture side of the pipeline:
- Lock-free audio capture using PortAudio
- A synthetic tone source for runs without hardware
- WAV recording of the captured input with atomic state management

Both sources follow the same hot path: take a buffer from the sample pool,
fill it, tee it into the recorder and submit it. Ownership of the buffer
passes to the submitter on every call.

Thread Safety:
- Uses atomic operations for state management
- Buffers come from a pre-sized pool to avoid GC in the hot path
- Locks OS thread during audio processing
*/
package audio

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"spectra/internal/buffers"
	"spectra/internal/config"
	applog "spectra/internal/log"
)

// Submitter accepts captured buffers, normally a *pipeline.Pipeline.
type Submitter interface {
	SubmitCapturedBuffer(buf *buffers.SampleBuffer, sampleCount int, ts time.Time) error
}

// Source produces captured buffers until stopped.
type Source interface {
	Start() error
	Stop() error
	StartRecording(filename string) error
	StopRecording() error
	Stats() CaptureStats
}

// CaptureStats counts capture callbacks.
type CaptureStats struct {
	Captured uint64 // buffers handed to the submitter
	Rejected uint64 // buffers the submitter refused
	Starved  uint64 // callbacks with no buffer available
}

// capture is the hot path shared by every source.
type capture struct {
	recording
	pool *buffers.SamplePool
	sink Submitter
	now  func() time.Time

	captured atomic.Uint64
	rejected atomic.Uint64
	starved  atomic.Uint64
}

func (c *capture) init(cfg config.AudioConfig, bitDepth int, pool *buffers.SamplePool, sink Submitter) error {
	if pool == nil || sink == nil {
		return fmt.Errorf("audio: sample pool and submitter are required")
	}
	if cfg.SampleRate <= 0 || cfg.InputChannels < 1 || cfg.FramesPerBuffer < 1 {
		return fmt.Errorf("audio: invalid format %.0f Hz, %d ch, %d frames",
			cfg.SampleRate, cfg.InputChannels, cfg.FramesPerBuffer)
	}
	if want := cfg.FramesPerBuffer * cfg.InputChannels; pool.Size() != want {
		return &buffers.SizeMismatchError{Pool: "samples", Want: want, Got: pool.Size()}
	}
	c.sampleRate = int(cfg.SampleRate)
	c.channels = cfg.InputChannels
	c.bitDepth = bitDepth
	c.pool = pool
	c.sink = sink
	c.now = time.Now
	return nil
}

// acquire stamps the capture time and takes a buffer from the pool. It
// returns nil when the pool cannot serve one.
func (c *capture) acquire() (*buffers.SampleBuffer, time.Time) {
	ts := c.now()
	buf, err := c.pool.Get()
	if err != nil {
		c.starved.Add(1)
		return nil, ts
	}
	return buf, ts
}

// submit records the first n samples and hands buf to the submitter.
func (c *capture) submit(buf *buffers.SampleBuffer, n int, ts time.Time) {
	c.record(buf.Samples[:n])
	if err := c.sink.SubmitCapturedBuffer(buf, n, ts); err != nil {
		c.rejected.Add(1)
		return
	}
	c.captured.Add(1)
}

// deliver copies in into a pooled buffer and submits it.
func (c *capture) deliver(in []float32) {
	buf, ts := c.acquire()
	if buf == nil {
		return
	}
	c.submit(buf, copy(buf.Samples, in), ts)
}

// Stats returns a snapshot of the capture counters.
func (c *capture) Stats() CaptureStats {
	return CaptureStats{
		Captured: c.captured.Load(),
		Rejected: c.rejected.Load(),
		Starved:  c.starved.Load(),
	}
}

// Engine captures from a PortAudio input device.
type Engine struct {
	capture

	config config.AudioConfig

	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream
}

var _ Source = (*Engine)(nil)

// NewEngine resolves the input device. PortAudio must be initialised.
func NewEngine(cfg config.AudioConfig, bitDepth int, pool *buffers.SamplePool, sink Submitter) (*Engine, error) {
	engine := &Engine{config: cfg}
	if err := engine.init(cfg, bitDepth, pool, sink); err != nil {
		return nil, err
	}

	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.InputChannels > inputDevice.MaxInputChannels {
		return nil, fmt.Errorf("device %s supports %d input channels, %d requested",
			inputDevice.Name, inputDevice.MaxInputChannels, cfg.InputChannels)
	}

	engine.inputDevice = inputDevice

	if cfg.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}

	return engine, nil
}

// Start opens and starts the input stream.
func (e *Engine) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.config.FramesPerBuffer,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	applog.Infof("Audio: capturing from %s (%.0f Hz, %d ch, %d frames, latency %s)",
		e.inputDevice.Name, e.config.SampleRate, e.config.InputChannels, e.config.FramesPerBuffer, e.inputLatency)
	return nil
}

// Stop stops the stream and closes any open recording.
func (e *Engine) Stop() error {
	if err := e.StopRecording(); err != nil {
		applog.Errorf("Audio: closing recording: %v", err)
	}

	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// processInputStream is the core audio processing callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pooled buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	e.deliver(in)
}
