// SPDX-License-Identifier: MIT
/*
Package app assembles a running visualizer from a Config: the sample and
frame pools, the analyzer and pipeline, one display surface per enabled
renderer, the HTTP control plane and the capture source.

Lifecycle:

	New    builds everything, nothing runs yet
	Run    starts consumers before producers, blocks until the context is
	       cancelled or the terminal UI quits, then shuts down
	Apply  hot-swaps the gate threshold and smoothing settings
	Close  stops producers before consumers; safe to call more than once
*/
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spectra/internal/analysis"
	"spectra/internal/audio"
	"spectra/internal/buffers"
	"spectra/internal/config"
	"spectra/internal/display"
	"spectra/internal/dsp"
	"spectra/internal/fft"
	applog "spectra/internal/log"
	"spectra/internal/metrics"
	"spectra/internal/pipeline"
	"spectra/internal/server"
	"spectra/internal/transport"
	"spectra/internal/transport/udp"
	"spectra/internal/tui"
	"spectra/pkg/build"
)

const shutdownTimeout = 5 * time.Second

// Stats is the document served on /stats.
type Stats struct {
	Pipeline pipeline.Stats           `json:"pipeline"`
	Capture  audio.CaptureStats       `json:"capture"`
	Pools    map[string]PoolStats     `json:"pools"`
	Surfaces map[string]display.Stats `json:"surfaces"`
}

// PoolStats is a pool snapshot for /stats.
type PoolStats struct {
	Available int    `json:"available"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Returned  uint64 `json:"returned"`
	Dropped   uint64 `json:"dropped"`
	Rejected  uint64 `json:"rejected"`
}

// App owns every long-lived component of the visualizer.
type App struct {
	cfg *config.Config

	samples    *buffers.SamplePool
	frames     *buffers.FramePool
	pipeline   *pipeline.Pipeline
	registry   *prometheus.Registry
	surfaces   []*display.Surface
	transports []transport.Transport
	server     *server.Server
	source     audio.Source
	program    *tea.Program
	cancelTUI  context.CancelFunc
	hostAudio  bool // PortAudio was initialised and must be terminated

	mu        sync.Mutex // guards cfg during Apply
	closeOnce sync.Once
	closeErr  error
}

// New builds the visualizer described by cfg. ctx bounds the terminal UI,
// when one is enabled. On error everything built so far is released.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err := cfg.Validate(); err != nil {
		return a, fmt.Errorf("app: %w", err)
	}
	if err := a.buildPools(); err != nil {
		return a, err
	}
	if err := a.buildPipeline(); err != nil {
		return a, err
	}
	if err := a.buildSurfaces(ctx); err != nil {
		return a, err
	}
	if err := a.buildSource(); err != nil {
		return a, err
	}
	a.buildServer()

	collector := metrics.NewCollector()
	collector.AddPool("samples", a.samples)
	collector.AddPool("frames", a.frames)
	for _, s := range a.surfaces {
		collector.AddSurface(s)
	}
	a.registry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return a, nil
}

// buildPools sizes the sample pool for whole capture buffers and the frame
// pool for the band count at the display refresh rate.
func (a *App) buildPools() error {
	ac, pc := a.cfg.Audio, a.cfg.Pipeline

	var (
		sizing buffers.Sizing
		err    error
	)
	if ac.FramesPerBuffer == pc.FFTSize {
		sizing, err = buffers.SampleSizingForFFT(pc.FFTSize, ac.InputChannels)
	} else {
		ms := float64(ac.FramesPerBuffer) * 1000 / ac.SampleRate
		sizing, err = buffers.SampleSizingForDuration(ac.SampleRate, ms, ac.InputChannels)
	}
	if err != nil {
		return err
	}
	// The capture callback delivers exactly this many samples.
	sizing.ElementSize = ac.FramesPerBuffer * ac.InputChannels

	if a.samples, err = buffers.NewSamplePool(sizing); err != nil {
		return err
	}

	frameSizing, err := buffers.FrameSizing(pc.Bands, a.cfg.Display.RefreshRate)
	if err != nil {
		return err
	}
	if a.frames, err = buffers.NewFramePool(frameSizing); err != nil {
		return err
	}

	applog.Debugf("App: sample pool %d x %d, frame pool %d x %d",
		sizing.MaxCapacity, sizing.ElementSize, frameSizing.MaxCapacity, frameSizing.ElementSize)
	return nil
}

func (a *App) buildPipeline() error {
	pc := a.cfg.Pipeline

	window, err := fft.ParseWindowFunc(pc.FFTWindow)
	if err != nil {
		return err
	}
	analyzer, err := analysis.NewSpectrumAnalyzer(analysis.Config{
		SampleRate:   a.cfg.Audio.SampleRate,
		Channels:     a.cfg.Audio.InputChannels,
		Bands:        pc.Bands,
		FFTSize:      pc.FFTSize,
		Window:       window,
		MinHz:        pc.MinHz,
		MaxHz:        pc.MaxHz,
		DynamicRange: pc.DynamicRange,
	})
	if err != nil {
		return err
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		SamplePool:      a.samples,
		FramePool:       a.frames,
		Analyzer:        analyzer,
		VolumeThreshold: pc.VolumeThreshold,
		QueueDepth:      pc.QueueDepth,
		Recorder:        metrics.NewPipelineMetrics(a.registry),
	})
	return err
}

// buildSurfaces creates one surface per enabled renderer and subscribes it.
func (a *App) buildSurfaces(ctx context.Context) error {
	tc := a.cfg.Transport

	if tc.HTTPEnabled {
		ws := transport.NewWebSocketTransport()
		if err := a.addSurface("websocket", ws, ws); err != nil {
			return err
		}
	}

	if tc.UDPEnabled {
		sender, err := udp.NewUDPSender(tc.UDPTargetAddress)
		if err != nil {
			return err
		}
		pub, err := udp.NewUDPPublisher(sender, a.cfg.Pipeline.Bands)
		if err != nil {
			_ = sender.Close()
			return err
		}
		if err := a.addSurface("udp", pub, pub); err != nil {
			return err
		}
	}

	if tc.TUI {
		model := tui.NewSpectrumModel(build.GetBuildFlags().Name, a.currentSmoothing, a.applySmoothing)
		tuiCtx, cancel := context.WithCancel(ctx)
		a.cancelTUI = cancel
		a.program = tui.NewProgram(tuiCtx, model)
		if err := a.addSurface("tui", tui.NewRenderer(a.program.Send), nil); err != nil {
			return err
		}
	}

	if tc.LogEvery > 0 {
		lt := transport.NewLoggingTransport(tc.LogEvery)
		if err := a.addSurface("log", lt, lt); err != nil {
			return err
		}
	}

	if len(a.surfaces) == 0 {
		applog.Warnf("App: no display surface enabled, frames are analysed and dropped")
	}
	return nil
}

// addSurface wraps r in a surface. closer, when set, is closed on shutdown.
func (a *App) addSurface(name string, r display.Renderer, closer transport.Transport) error {
	if closer != nil {
		a.transports = append(a.transports, closer)
	}
	s, err := display.NewSurface(display.Config{
		Name:        name,
		Bands:       a.cfg.Pipeline.Bands,
		RefreshRate: a.cfg.Display.RefreshRate,
		Smoothing:   a.cfg.Smoothing.Settings(),
		Renderer:    r,
	})
	if err != nil {
		return fmt.Errorf("app: surface %s: %w", name, err)
	}
	a.surfaces = append(a.surfaces, s)
	a.pipeline.Subscribe(s)
	return nil
}

func (a *App) buildSource() error {
	ac := a.cfg.Audio
	bitDepth := a.cfg.Recording.BitDepth

	if ac.Synthetic {
		src, err := audio.NewSyntheticSource(ac, bitDepth, audio.DefaultSweepPeriod, a.samples, a.pipeline)
		if err != nil {
			return err
		}
		a.source = src
		return nil
	}

	if err := audio.Initialize(); err != nil {
		return err
	}
	a.hostAudio = true

	engine, err := audio.NewEngine(ac, bitDepth, a.samples, a.pipeline)
	if err != nil {
		return err
	}
	a.source = engine
	return nil
}

func (a *App) buildServer() {
	tc := a.cfg.Transport
	if !tc.HTTPEnabled {
		return
	}

	controls := make([]server.SmoothingControl, len(a.surfaces))
	for i, s := range a.surfaces {
		controls[i] = s
	}

	cfg := server.Config{
		Addr:           tc.HTTPAddress,
		AllowedOrigins: tc.AllowedOrigins,
		Gate:           a.pipeline,
		Surfaces:       controls,
		Metrics:        promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		Stats:          func() any { return a.Stats() },
	}
	for _, t := range a.transports {
		if ws, ok := t.(*transport.WebSocketTransport); ok {
			cfg.Stream = ws
		}
	}
	a.server = server.New(cfg)
}

// Registry returns the registry behind /metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Server returns the HTTP server, nil when HTTP is disabled.
func (a *App) Server() *server.Server { return a.server }

// Surfaces returns the display surfaces in creation order.
func (a *App) Surfaces() []*display.Surface { return a.surfaces }

// Pipeline returns the analysis pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Start launches consumers first, then the capture source.
func (a *App) Start(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}
	for _, s := range a.surfaces {
		s.Start()
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	if err := a.source.Start(); err != nil {
		return err
	}
	if rc := a.cfg.Recording; rc.Enabled {
		path := rc.OutputFile
		if path == "" {
			path = audio.RecordingPath(rc.OutputDir, time.Now())
		}
		if err := a.source.StartRecording(path); err != nil {
			return err
		}
	}

	applog.Infof("App: running %s with %d surfaces", build.GetBuildFlags(), len(a.surfaces))
	return nil
}

// Run starts the app and blocks until ctx is cancelled or the terminal UI
// exits, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return errors.Join(err, a.Close())
	}

	var runErr error
	if a.program != nil {
		runErr = tui.Run(a.program)
	} else {
		<-ctx.Done()
	}

	return errors.Join(runErr, a.Close())
}

// Apply hot-swaps the settings that can change at runtime: the gate
// threshold and smoothing. Anything else that differs is reported and
// takes effect on the next start.
func (a *App) Apply(next *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pipeline.SetVolumeThreshold(next.Pipeline.VolumeThreshold)
	a.applySmoothing(next.Smoothing.Settings())

	prev := a.cfg
	if prev.Audio != next.Audio {
		applog.Warnf("App: audio settings changed, restart to apply")
	}
	if prev.Pipeline.Bands != next.Pipeline.Bands || prev.Pipeline.FFTSize != next.Pipeline.FFTSize ||
		prev.Pipeline.FFTWindow != next.Pipeline.FFTWindow || prev.Display != next.Display {
		applog.Warnf("App: band layout or refresh rate changed, restart to apply")
	}

	updated := *prev
	updated.Pipeline.VolumeThreshold = next.Pipeline.VolumeThreshold
	updated.Smoothing = next.Smoothing
	a.cfg = &updated

	applog.Infof("App: applied threshold %.3f, gain %.2f", next.Pipeline.VolumeThreshold, next.Smoothing.Gain)
}

func (a *App) applySmoothing(settings dsp.Settings) {
	for _, s := range a.surfaces {
		s.SetSettings(settings)
	}
}

// currentSmoothing reports the settings the surfaces run with, including
// changes made over HTTP or by a reload.
func (a *App) currentSmoothing() dsp.Settings {
	if len(a.surfaces) > 0 {
		return a.surfaces[0].Settings()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Smoothing.Settings()
}

// Stats gathers a snapshot of every counter.
func (a *App) Stats() Stats {
	st := Stats{
		Pipeline: a.pipeline.Stats(),
		Pools: map[string]PoolStats{
			"samples": poolStats(a.samples),
			"frames":  poolStats(a.frames),
		},
		Surfaces: make(map[string]display.Stats, len(a.surfaces)),
	}
	if a.source != nil {
		st.Capture = a.source.Stats()
	}
	for _, s := range a.surfaces {
		st.Surfaces[s.Name()] = s.Stats()
	}
	return st
}

func poolStats(p metrics.PoolSource) PoolStats {
	s := p.Stats()
	return PoolStats{
		Available: p.Count(),
		Capacity:  p.MaxCapacity(),
		Hits:      s.Hits,
		Misses:    s.Misses,
		Returned:  s.Returned,
		Dropped:   s.Dropped,
		Rejected:  s.Rejected,
	}
}

// Close shuts down producers before consumers: capture, pipeline, surfaces,
// transports, HTTP server and finally PortAudio.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error

		// Unblocks the terminal surface if the program is not reading.
		if a.cancelTUI != nil {
			a.cancelTUI()
		}
		if a.source != nil {
			errs = append(errs, a.source.Stop())
		}
		if a.pipeline != nil {
			errs = append(errs, a.pipeline.Stop())
		}
		for _, s := range a.surfaces {
			errs = append(errs, s.Stop())
		}
		for _, t := range a.transports {
			errs = append(errs, t.Close())
		}
		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			errs = append(errs, a.server.Shutdown(ctx))
			cancel()
		}
		if a.hostAudio {
			errs = append(errs, audio.Terminate())
		}

		a.closeErr = errors.Join(errs...)
		applog.Infof("App: shut down")
	})
	return a.closeErr
}
