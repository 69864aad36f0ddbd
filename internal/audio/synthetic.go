// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync"
	"time"

	"spectra/internal/buffers"
	"spectra/internal/config"
	applog "spectra/internal/log"
	"spectra/pkg/utils"
)

// Sweep bounds of the synthetic source.
const (
	SweepLowHz  = 60.0
	SweepHighHz = 8000.0
)

// DefaultSweepPeriod is the time for one low-to-high sweep.
const DefaultSweepPeriod = 8 * time.Second

// SyntheticSource generates a log sweep over a steady 440 Hz tone at the
// cadence a device with the same settings would deliver buffers.
type SyntheticSource struct {
	capture

	channels int
	period   time.Duration
	sweep    time.Duration
	osc      *utils.Oscillator
	tones    []utils.Tone
	started  time.Time

	ticker   *time.Ticker   // Ticker that triggers buffer generation.
	doneChan chan struct{}  // Signals the generator goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the generator goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.
}

var _ Source = (*SyntheticSource)(nil)

// NewSyntheticSource creates a stopped source. sweep <= 0 selects
// DefaultSweepPeriod.
func NewSyntheticSource(cfg config.AudioConfig, bitDepth int, sweep time.Duration, pool *buffers.SamplePool, sink Submitter) (*SyntheticSource, error) {
	if sweep <= 0 {
		sweep = DefaultSweepPeriod
	}

	s := &SyntheticSource{
		channels: cfg.InputChannels,
		period:   time.Duration(float64(cfg.FramesPerBuffer) / cfg.SampleRate * float64(time.Second)),
		sweep:    sweep,
		osc:      utils.NewOscillator(cfg.SampleRate, 2),
		tones:    make([]utils.Tone, 2),
	}
	if err := s.init(cfg, bitDepth, pool, sink); err != nil {
		return nil, err
	}
	return s, nil
}

// Period returns the interval between generated buffers.
func (s *SyntheticSource) Period() time.Duration { return s.period }

// Start launches the generator goroutine. Calling Start on a running source
// is a no-op.
func (s *SyntheticSource) Start() error {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		applog.Warnf("Synthetic: Start called but already running.")
		return nil
	}

	s.started = s.now()
	s.ticker = time.NewTicker(s.period)
	s.doneChan = make(chan struct{})
	s.stopOnce = sync.Once{}

	ticker := s.ticker
	doneChan := s.doneChan
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		applog.Infof("Synthetic: generating %s buffers (%.0f-%.0f Hz sweep over %s)",
			s.period, SweepLowHz, SweepHighHz, s.sweep)
		for {
			select {
			case <-ticker.C:
				s.generate()
			case <-doneChan:
				return
			}
		}
	}()
	return nil
}

// Stop halts generation, waits for the goroutine and closes any recording.
func (s *SyntheticSource) Stop() error {
	s.mu.Lock()
	if s.ticker != nil {
		s.stopOnce.Do(func() {
			close(s.doneChan)
			s.ticker.Stop()
			s.ticker = nil
		})
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.StopRecording()
}

// generate produces one buffer.
func (s *SyntheticSource) generate() {
	elapsed := s.now().Sub(s.started)
	pos := math.Mod(elapsed.Seconds(), s.sweep.Seconds()) / s.sweep.Seconds()

	s.tones[0] = utils.Tone{Freq: SweepLowHz * math.Pow(SweepHighHz/SweepLowHz, pos), Amp: 0.5}
	s.tones[1] = utils.Tone{Freq: 440, Amp: 0.2 + 0.15*math.Sin(2*math.Pi*elapsed.Seconds())}

	buf, ts := s.acquire()
	if buf == nil {
		return
	}
	s.osc.Fill(buf.Samples, s.channels, s.tones)
	s.submit(buf, len(buf.Samples), ts)
}
