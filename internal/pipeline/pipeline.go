// SPDX-License-Identifier: MIT
/*
Package pipeline moves captured sample buffers through analysis, the volume
gate and fan-out to display consumers.

Data flow:

	capture callback ──SubmitCapturedBuffer──▶ queue ──▶ worker
	                                                     │ Analyze
	                                                     │ return sample buffer
	                                                     │ gate
	                                                     ▼
	                                        consumers (OnSpectrumFrame)

Thread Safety:
  - SubmitCapturedBuffer never blocks and never allocates; it is safe to call
    from the audio callback
  - One worker goroutine owns analysis, gating and delivery
  - The subscriber list is copy-on-write behind an atomic pointer, so
    delivery never takes a lock
  - SetVolumeThreshold may be called from any goroutine at any time

Ownership:
  - A buffer passed to SubmitCapturedBuffer belongs to the pipeline from that
    moment, whether or not the call succeeds
  - A frame passed to a consumer is only valid for the duration of the call;
    consumers that keep it must Retain it and Release it later
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spectra/internal/buffers"
	applog "spectra/internal/log"
)

// DefaultQueueDepth is the number of captured buffers that may wait for
// analysis before new submissions are dropped.
const DefaultQueueDepth = 4

var (
	// ErrStopped is returned by SubmitCapturedBuffer and Start once the
	// pipeline has been stopped.
	ErrStopped = errors.New("pipeline: stopped")

	// ErrQueueFull is returned by SubmitCapturedBuffer when the analysis
	// worker is behind. The buffer is recycled and the drop is counted.
	ErrQueueFull = errors.New("pipeline: analysis queue full")

	// ErrRunning is returned by Start when the worker is already running.
	ErrRunning = errors.New("pipeline: already running")
)

// Capture is one captured buffer waiting for analysis.
type Capture struct {
	Buffer    *buffers.SampleBuffer
	Samples   []float32 // the valid prefix of Buffer.Samples
	Timestamp time.Time
}

// Analyzer turns captured samples into a spectrum frame. It must fill every
// band of out and set out.RMS. It must not keep in.Buffer.
type Analyzer interface {
	Analyze(in Capture, out *buffers.SpectrumFrame) error
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(in Capture, out *buffers.SpectrumFrame) error

func (f AnalyzerFunc) Analyze(in Capture, out *buffers.SpectrumFrame) error {
	return f(in, out)
}

// Consumer receives every published frame.
type Consumer interface {
	OnSpectrumFrame(frame *buffers.SpectrumFrame) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(frame *buffers.SpectrumFrame) error

func (f ConsumerFunc) OnSpectrumFrame(frame *buffers.SpectrumFrame) error {
	return f(frame)
}

// Recorder is notified of pipeline events, typically to export metrics.
type Recorder interface {
	BufferSubmitted()
	BufferDropped()
	FrameAnalyzed(latency time.Duration, gated bool)
	AnalysisFailed()
	ConsumerFailed()
}

type nopRecorder struct{}

func (nopRecorder) BufferSubmitted()                  {}
func (nopRecorder) BufferDropped()                    {}
func (nopRecorder) FrameAnalyzed(time.Duration, bool) {}
func (nopRecorder) AnalysisFailed()                   {}
func (nopRecorder) ConsumerFailed()                   {}

// Config wires a pipeline. SamplePool, FramePool and Analyzer are required.
type Config struct {
	SamplePool      *buffers.SamplePool
	FramePool       *buffers.FramePool
	Analyzer        Analyzer
	VolumeThreshold float64
	QueueDepth      int      // defaults to DefaultQueueDepth
	Recorder        Recorder // optional
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	Submitted      uint64 // buffers accepted into the queue
	Dropped        uint64 // buffers refused because the queue was full
	Analyzed       uint64 // frames produced
	Gated          uint64 // frames silenced by the volume gate
	AnalysisErrors uint64 // buffers whose analysis failed
	ConsumerErrors uint64 // deliveries that returned an error or panicked
}

type subscription struct {
	id       uuid.UUID
	consumer Consumer
}

// Pipeline is the capture-to-display orchestrator.
type Pipeline struct {
	samples  *buffers.SamplePool
	frames   *buffers.FramePool
	analyzer Analyzer
	recorder Recorder
	gate     *Gate
	queue    chan Capture
	now      func() time.Time

	subs  atomic.Pointer[[]subscription]
	subMu sync.Mutex // serialises subscribers list writers

	stopped    atomic.Bool
	submitting atomic.Int32

	mu       sync.Mutex // protects running, closed and doneChan
	running  bool
	closed   bool
	doneChan chan struct{}
	wg       sync.WaitGroup

	submitted      atomic.Uint64
	dropped        atomic.Uint64
	analyzed       atomic.Uint64
	gated          atomic.Uint64
	analysisErrors atomic.Uint64
	consumerErrors atomic.Uint64
}

// New validates cfg and builds a stopped pipeline. Call Start to begin
// analysis.
func New(cfg Config) (*Pipeline, error) {
	if cfg.SamplePool == nil || cfg.FramePool == nil {
		return nil, fmt.Errorf("pipeline: sample and frame pools are required")
	}
	if cfg.Analyzer == nil {
		return nil, fmt.Errorf("pipeline: analyzer is required")
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	rec := cfg.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}

	p := &Pipeline{
		samples:  cfg.SamplePool,
		frames:   cfg.FramePool,
		analyzer: cfg.Analyzer,
		recorder: rec,
		gate:     NewGate(cfg.VolumeThreshold),
		queue:    make(chan Capture, depth),
		now:      time.Now,
		doneChan: make(chan struct{}),
	}
	p.subs.Store(&[]subscription{})

	return p, nil
}

// Start launches the analysis worker. Cancelling ctx stops the pipeline
// from accepting buffers; Stop must still be called to release resources.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrStopped
	}
	if p.running {
		return ErrRunning
	}
	p.running = true

	done := p.doneChan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx, done)
	}()

	applog.Infof("Pipeline: analysis worker started (queue depth %d, threshold %.3f)", cap(p.queue), p.gate.Threshold())
	return nil
}

func (p *Pipeline) run(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			applog.Infof("Pipeline: context cancelled, refusing further buffers")
			p.stopped.Store(true)
			return
		case c := <-p.queue:
			p.process(c)
		}
	}
}

// SubmitCapturedBuffer queues buf for analysis. sampleCount is the number
// of valid samples at the start of buf; ts is the capture time.
//
// The call never blocks. On ErrStopped or ErrQueueFull the buffer has
// already been returned to the sample pool.
func (p *Pipeline) SubmitCapturedBuffer(buf *buffers.SampleBuffer, sampleCount int, ts time.Time) error {
	if buf == nil {
		return fmt.Errorf("pipeline: nil sample buffer")
	}

	p.submitting.Add(1)
	defer p.submitting.Add(-1)

	if p.stopped.Load() {
		p.recycle(buf)
		return ErrStopped
	}

	n := min(max(sampleCount, 0), len(buf.Samples))
	select {
	case p.queue <- Capture{Buffer: buf, Samples: buf.Samples[:n], Timestamp: ts}:
		p.submitted.Add(1)
		p.recorder.BufferSubmitted()
		return nil
	default:
		p.recycle(buf)
		p.dropped.Add(1)
		p.recorder.BufferDropped()
		return ErrQueueFull
	}
}

func (p *Pipeline) process(c Capture) {
	frame, err := p.frames.Get()
	if err != nil {
		p.recycle(c.Buffer)
		return
	}

	err = p.analyze(c, frame)
	p.recycle(c.Buffer)
	if err != nil {
		frame.Release()
		p.analysisErrors.Add(1)
		p.recorder.AnalysisFailed()
		applog.Errorf("Pipeline: analysis failed: %v", err)
		return
	}

	frame.Timestamp = c.Timestamp
	if !c.Timestamp.IsZero() {
		frame.Latency = p.now().Sub(c.Timestamp)
	}

	gated := p.gate.Apply(frame)
	if gated {
		p.gated.Add(1)
	}
	p.analyzed.Add(1)
	p.recorder.FrameAnalyzed(frame.Latency, gated)

	p.publish(frame)
	frame.Release()
}

func (p *Pipeline) analyze(c Capture, frame *buffers.SpectrumFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()
	return p.analyzer.Analyze(c, frame)
}

func (p *Pipeline) recycle(buf *buffers.SampleBuffer) {
	if err := p.samples.Return(buf); err != nil {
		applog.Errorf("Pipeline: returning sample buffer: %v", err)
	}
}

func (p *Pipeline) publish(frame *buffers.SpectrumFrame) {
	for _, s := range *p.subs.Load() {
		p.deliver(s, frame)
	}
}

func (p *Pipeline) deliver(s subscription, frame *buffers.SpectrumFrame) {
	defer func() {
		if r := recover(); r != nil {
			p.consumerErrors.Add(1)
			p.recorder.ConsumerFailed()
			applog.Errorf("Pipeline: consumer %s panicked: %v", s.id, r)
		}
	}()

	if err := s.consumer.OnSpectrumFrame(frame); err != nil {
		p.consumerErrors.Add(1)
		p.recorder.ConsumerFailed()
		applog.Warnf("Pipeline: consumer %s: %v", s.id, err)
	}
}

// Subscribe adds c to the fan-out list and returns its id.
func (p *Pipeline) Subscribe(c Consumer) uuid.UUID {
	id := uuid.New()

	p.subMu.Lock()
	defer p.subMu.Unlock()

	cur := *p.subs.Load()
	next := make([]subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, subscription{id: id, consumer: c})
	p.subs.Store(&next)

	return id
}

// Unsubscribe removes the consumer registered under id. A frame already
// being delivered may still reach it.
func (p *Pipeline) Unsubscribe(id uuid.UUID) bool {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	cur := *p.subs.Load()
	for i, s := range cur {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		p.subs.Store(&next)
		return true
	}
	return false
}

// Consumers returns the number of subscribed consumers.
func (p *Pipeline) Consumers() int {
	return len(*p.subs.Load())
}

// SetVolumeThreshold changes the gate threshold. Negative values disable
// gating.
func (p *Pipeline) SetVolumeThreshold(threshold float64) {
	p.gate.SetThreshold(threshold)
	applog.Debugf("Pipeline: volume threshold set to %.3f", p.gate.Threshold())
}

// VolumeThreshold returns the current gate threshold.
func (p *Pipeline) VolumeThreshold() float64 {
	return p.gate.Threshold()
}

// SamplePool returns the pool capture sources take buffers from.
func (p *Pipeline) SamplePool() *buffers.SamplePool {
	return p.samples
}

// FramePool returns the pool frames are drawn from.
func (p *Pipeline) FramePool() *buffers.FramePool {
	return p.frames
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted:      p.submitted.Load(),
		Dropped:        p.dropped.Load(),
		Analyzed:       p.analyzed.Load(),
		Gated:          p.gated.Load(),
		AnalysisErrors: p.analysisErrors.Load(),
		ConsumerErrors: p.consumerErrors.Load(),
	}
}

// Stop refuses further buffers, waits for the worker, recycles anything
// still queued and disposes both pools. It is safe to call more than once.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.stopped.Store(true)

	// Submitters that passed the stopped check must finish before the
	// queue is drained.
	for p.submitting.Load() > 0 {
		runtime.Gosched()
	}

	close(p.doneChan)
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case c := <-p.queue:
			p.recycle(c.Buffer)
			continue
		default:
		}
		break
	}

	err := errors.Join(p.samples.Dispose(), p.frames.Dispose())
	applog.Infof("Pipeline: stopped (%d analyzed, %d dropped)", p.analyzed.Load(), p.dropped.Load())
	return err
}
