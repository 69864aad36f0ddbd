// SPDX-License-Identifier: MIT
/*
Package dsp holds the per-display smoothing state applied to spectrum frames.

A Smoother is owned by exactly one display surface and is not safe for
concurrent use. Shared spectrum frames are only read, never written.

Smoothing rules, applied per band:
  - rising input:        s += (v - s) * attack
  - falling or steady:   s  = s*decay + v*(1 - decay)
  - floor:               s < epsilon snaps to exactly 0
  - passive decay:       when no update arrived within the silence window,
    every Advance multiplies s by the passive decay rate
  - peak hold:           peaks follow s upwards at once, hold for PeakHold,
    then fall by PeakDecay per Advance without dropping below s
  - gain:                applied only when rendering, clamped to [0, 1]
*/
package dsp

import (
	"time"
)

// Default smoothing parameters.
const (
	DefaultAttack        = 0.99
	DefaultDecay         = 0.9
	DefaultPassiveDecay  = 0.85
	DefaultEpsilon       = 0.001
	DefaultSilenceWindow = 100 * time.Millisecond
	DefaultPeakHold      = 400 * time.Millisecond
	DefaultPeakDecay     = 0.95
	DefaultGain          = 1.0

	// MaxGain bounds the user gain.
	MaxGain = 10.0
)

// Settings tunes a Smoother. All rates are in [0, 1].
type Settings struct {
	Attack        float64       `json:"attack"`
	Decay         float64       `json:"decay"`
	PassiveDecay  float64       `json:"passive_decay"`
	Epsilon       float64       `json:"epsilon"`
	SilenceWindow time.Duration `json:"silence_window"`
	PeakHoldOn    bool          `json:"peak_hold_enabled"`
	PeakHold      time.Duration `json:"peak_hold"`
	PeakDecay     float64       `json:"peak_decay"`
	Gain          float64       `json:"gain"`
}

// DefaultSettings returns the stock smoothing parameters.
func DefaultSettings() Settings {
	return Settings{
		Attack:        DefaultAttack,
		Decay:         DefaultDecay,
		PassiveDecay:  DefaultPassiveDecay,
		Epsilon:       DefaultEpsilon,
		SilenceWindow: DefaultSilenceWindow,
		PeakHoldOn:    true,
		PeakHold:      DefaultPeakHold,
		PeakDecay:     DefaultPeakDecay,
		Gain:          DefaultGain,
	}
}

// Validate returns a copy of s with every field clamped into range.
func (s Settings) Validate() Settings {
	s.Attack = clamp(s.Attack, 0, 1)
	s.Decay = clamp(s.Decay, 0, 1)
	s.PassiveDecay = clamp(s.PassiveDecay, 0, 1)
	s.PeakDecay = clamp(s.PeakDecay, 0, 1)
	s.Epsilon = max(s.Epsilon, 0)
	s.Gain = clamp(s.Gain, 0, MaxGain)
	if s.SilenceWindow < 0 {
		s.SilenceWindow = 0
	}
	if s.PeakHold < 0 {
		s.PeakHold = 0
	}
	return s
}

// Smoother tracks smoothed band levels for one display.
type Smoother struct {
	settings Settings

	values   []float64
	peaks    []float64
	peakTime []time.Time

	lastUpdate time.Time
}

// NewSmoother creates a smoother for bands bands.
func NewSmoother(bands int, settings Settings) *Smoother {
	return &Smoother{
		settings: settings.Validate(),
		values:   make([]float64, bands),
		peaks:    make([]float64, bands),
		peakTime: make([]time.Time, bands),
	}
}

// Settings returns the active settings.
func (s *Smoother) Settings() Settings {
	return s.settings
}

// SetSettings replaces the settings. Current levels are kept.
func (s *Smoother) SetSettings(settings Settings) {
	s.settings = settings.Validate()
}

// Bands returns the number of bands tracked.
func (s *Smoother) Bands() int {
	return len(s.values)
}

// Update folds a new frame of magnitudes into the smoothed state. Extra
// input bands are ignored; missing ones are treated as silence.
func (s *Smoother) Update(magnitudes []float64, now time.Time) {
	attack := s.settings.Attack
	decay := s.settings.Decay
	eps := s.settings.Epsilon

	for i, cur := range s.values {
		var v float64
		if i < len(magnitudes) {
			v = magnitudes[i]
		}

		if v > cur {
			cur += (v - cur) * attack
		} else {
			cur = cur*decay + v*(1-decay)
		}
		if cur < eps {
			cur = 0
		}
		s.values[i] = cur

		s.trackPeak(i, cur, now)
	}

	s.lastUpdate = now
}

// Advance applies time-based decay. It is called on every refresh tick,
// whether or not a new frame arrived.
func (s *Smoother) Advance(now time.Time) {
	passive := !s.lastUpdate.IsZero() && now.Sub(s.lastUpdate) > s.settings.SilenceWindow
	eps := s.settings.Epsilon

	for i, cur := range s.values {
		if passive {
			cur *= s.settings.PassiveDecay
			if cur < eps {
				cur = 0
			}
			s.values[i] = cur
		}

		if !s.settings.PeakHoldOn {
			s.peaks[i] = cur
			continue
		}
		if now.Sub(s.peakTime[i]) > s.settings.PeakHold {
			p := s.peaks[i] * s.settings.PeakDecay
			if p < eps {
				p = 0
			}
			s.peaks[i] = max(p, cur)
		} else if s.peaks[i] < cur {
			s.peaks[i] = cur
		}
	}
}

func (s *Smoother) trackPeak(i int, v float64, now time.Time) {
	if !s.settings.PeakHoldOn {
		s.peaks[i] = v
		return
	}
	if v >= s.peaks[i] {
		s.peaks[i] = v
		s.peakTime[i] = now
	}
}

// Render writes the gain-adjusted levels into dst, growing it if needed,
// and returns it.
func (s *Smoother) Render(dst []float64) []float64 {
	dst = resize(dst, len(s.values))
	gain := s.settings.Gain
	for i, v := range s.values {
		dst[i] = clamp(v*gain, 0, 1)
	}
	return dst
}

// Peaks writes the gain-adjusted peak-hold levels into dst and returns it.
func (s *Smoother) Peaks(dst []float64) []float64 {
	dst = resize(dst, len(s.peaks))
	gain := s.settings.Gain
	for i, v := range s.peaks {
		dst[i] = clamp(v*gain, 0, 1)
	}
	return dst
}

// Values returns the raw smoothed levels. The slice is owned by the smoother.
func (s *Smoother) Values() []float64 {
	return s.values
}

// Reset drops all accumulated state.
func (s *Smoother) Reset() {
	clear(s.values)
	clear(s.peaks)
	clear(s.peakTime)
	s.lastUpdate = time.Time{}
}

func resize(dst []float64, n int) []float64 {
	if cap(dst) < n {
		return make([]float64, n)
	}
	return dst[:n]
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
