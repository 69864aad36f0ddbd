// SPDX-License-Identifier: MIT
/*
Package display runs the consumer side of the pipeline: each Surface keeps the
most recent spectrum frame in a one-slot mailbox and, on its own refresh timer,
folds it into a private Smoother and hands the rendered View to a Renderer.

Thread Safety:
  - OnSpectrumFrame runs on the pipeline worker; it only swaps the mailbox
  - Everything else (smoothing, rendering) runs on the surface goroutine
  - Settings changes are published through an atomic pointer and picked up
    on the next tick

A frame that is superseded in the mailbox before a tick consumes it is
released immediately; the newest frame always wins.
*/
package display

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spectra/internal/buffers"
	"spectra/internal/dsp"
	applog "spectra/internal/log"
	"spectra/internal/pipeline"
)

// DefaultRefreshRate is the tick rate of a surface in Hz.
const DefaultRefreshRate = 60.0

// View is what a Renderer draws. It is reused between ticks: renderers must
// copy anything they keep after Send returns.
type View struct {
	Surface   string        `json:"surface"`
	Seq       uint64        `json:"seq"`
	Timestamp time.Time     `json:"timestamp"` // capture time of the latest frame
	Latency   time.Duration `json:"latency"`   // capture to publish of the latest frame
	RMS       float64       `json:"rms"`
	Bands     []float64     `json:"bands"` // smoothed, gain-adjusted, [0, 1]
	Peaks     []float64     `json:"peaks"` // peak-hold markers, [0, 1]
	PeakIndex int           `json:"peak_index"`
}

// Renderer draws views. Send is called from the surface goroutine only.
type Renderer interface {
	Send(view *View) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(view *View) error

func (f RendererFunc) Send(view *View) error { return f(view) }

// Config describes a surface. Bands and Renderer are required.
type Config struct {
	Name        string
	Bands       int
	RefreshRate float64 // Hz, defaults to DefaultRefreshRate
	Smoothing   dsp.Settings
	Renderer    Renderer
}

// Stats is a snapshot of surface counters.
type Stats struct {
	Received     uint64 // frames accepted into the mailbox
	Superseded   uint64 // frames replaced before a tick consumed them
	Rendered     uint64 // views sent
	RenderErrors uint64 // views the renderer failed on
}

// Surface is a display consumer with its own refresh timer.
type Surface struct {
	name     string
	renderer Renderer
	interval time.Duration

	mailbox  atomic.Pointer[buffers.SpectrumFrame]
	settings atomic.Pointer[dsp.Settings] // latest requested settings
	applied  *dsp.Settings                // settings the smoother currently runs with
	smoother *dsp.Smoother
	view     View
	closed   atomic.Bool

	ticker   *time.Ticker   // Ticker that triggers refreshes.
	doneChan chan struct{}  // Signals the surface goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the surface goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	received     atomic.Uint64
	superseded   atomic.Uint64
	rendered     atomic.Uint64
	renderErrors atomic.Uint64
}

var _ pipeline.Consumer = (*Surface)(nil)

// NewSurface builds a stopped surface.
func NewSurface(cfg Config) (*Surface, error) {
	if cfg.Bands < 1 {
		return nil, fmt.Errorf("display: band count must be positive, got %d", cfg.Bands)
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("display: renderer is required")
	}
	if cfg.Name == "" {
		cfg.Name = "display"
	}

	rate := cfg.RefreshRate
	if rate <= 0 {
		rate = DefaultRefreshRate
		applog.Warnf("Display %s: invalid refresh rate, defaulting to %.0f Hz", cfg.Name, rate)
	}

	settings := cfg.Smoothing.Validate()
	s := &Surface{
		name:     cfg.Name,
		renderer: cfg.Renderer,
		interval: time.Duration(float64(time.Second) / rate),
		applied:  &settings,
		smoother: dsp.NewSmoother(cfg.Bands, settings),
		view: View{
			Surface: cfg.Name,
			Bands:   make([]float64, cfg.Bands),
			Peaks:   make([]float64, cfg.Bands),
		},
	}
	s.settings.Store(&settings)

	return s, nil
}

// Name returns the surface name.
func (s *Surface) Name() string { return s.name }

// Interval returns the refresh period.
func (s *Surface) Interval() time.Duration { return s.interval }

// OnSpectrumFrame implements pipeline.Consumer. It parks the frame in the
// mailbox, releasing whatever frame was waiting there.
func (s *Surface) OnSpectrumFrame(frame *buffers.SpectrumFrame) error {
	if s.closed.Load() {
		return nil
	}

	frame.Retain()
	s.received.Add(1)
	if old := s.mailbox.Swap(frame); old != nil {
		old.Release()
		s.superseded.Add(1)
	}

	// Stop may have drained the mailbox between the check and the swap.
	if s.closed.Load() {
		s.drain()
	}
	return nil
}

// SetSettings requests new smoothing settings; they take effect on the next
// tick.
func (s *Surface) SetSettings(settings dsp.Settings) {
	v := settings.Validate()
	s.settings.Store(&v)
}

// Settings returns the most recently requested smoothing settings.
func (s *Surface) Settings() dsp.Settings {
	return *s.settings.Load()
}

// Start launches the refresh goroutine. Calling Start on a running surface
// is a no-op.
func (s *Surface) Start() {
	s.mu.Lock()
	// Prevent starting if already running
	if s.ticker != nil {
		s.mu.Unlock()
		applog.Warnf("Display %s: Start called but already running.", s.name)
		return
	}

	s.closed.Store(false)
	s.ticker = time.NewTicker(s.interval)
	s.doneChan = make(chan struct{})
	s.stopOnce = sync.Once{}

	// Capture local variables for the goroutine to avoid data races on s.ticker/s.doneChan
	ticker := s.ticker
	doneChan := s.doneChan

	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		applog.Debugf("Display %s: refresh goroutine started (interval %s)", s.name, s.interval)
		for {
			select {
			case now := <-ticker.C:
				s.tick(now)
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop halts the refresh goroutine, waits for it and releases any frame left
// in the mailbox. It is safe to call Stop multiple times.
func (s *Surface) Stop() error {
	s.mu.Lock()
	s.closed.Store(true)
	if s.ticker == nil {
		s.mu.Unlock()
		s.drain()
		return nil
	}

	s.stopOnce.Do(func() {
		close(s.doneChan)
		s.ticker.Stop()
		s.ticker = nil
	})
	s.mu.Unlock()

	s.wg.Wait()
	s.drain()
	applog.Debugf("Display %s: stopped after %d views", s.name, s.rendered.Load())
	return nil
}

func (s *Surface) drain() {
	if f := s.mailbox.Swap(nil); f != nil {
		f.Release()
	}
}

// tick runs one refresh: apply pending settings, fold in the newest frame,
// advance time-based decay and render.
func (s *Surface) tick(now time.Time) {
	if next := s.settings.Load(); next != s.applied {
		s.smoother.SetSettings(*next)
		s.applied = next
	}

	if f := s.mailbox.Swap(nil); f != nil {
		s.smoother.Update(f.Magnitudes, now)
		s.view.Timestamp = f.Timestamp
		s.view.Latency = f.Latency
		s.view.RMS = f.RMS
		f.Release()
	}
	s.smoother.Advance(now)

	s.view.Bands = s.smoother.Render(s.view.Bands)
	s.view.Peaks = s.smoother.Peaks(s.view.Peaks)
	s.view.PeakIndex = 0
	for i, v := range s.view.Bands {
		if v > s.view.Bands[s.view.PeakIndex] {
			s.view.PeakIndex = i
		}
	}
	s.view.Seq++

	if err := s.renderer.Send(&s.view); err != nil {
		s.renderErrors.Add(1)
		applog.Debugf("Display %s: render failed: %v", s.name, err)
		return
	}
	s.rendered.Add(1)
}

// Stats returns a snapshot of the surface counters.
func (s *Surface) Stats() Stats {
	return Stats{
		Received:     s.received.Load(),
		Superseded:   s.superseded.Load(),
		Rendered:     s.rendered.Load(),
		RenderErrors: s.renderErrors.Load(),
	}
}
