// SPDX-License-Identifier: MIT
package display

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"spectra/internal/buffers"
	"spectra/internal/dsp"
)

const testBands = 4

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// captureRenderer keeps a copy of every view it is sent.
type captureRenderer struct {
	mu    sync.Mutex
	views []View
	err   error
}

func (r *captureRenderer) Send(v *View) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *v
	c.Bands = append([]float64(nil), v.Bands...)
	c.Peaks = append([]float64(nil), v.Peaks...)
	r.views = append(r.views, c)
	return r.err
}

func (r *captureRenderer) last() (View, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, 0
	}
	return r.views[len(r.views)-1], len(r.views)
}

func newFramePool(t *testing.T) *buffers.FramePool {
	t.Helper()
	p, err := buffers.NewFramePool(buffers.Sizing{ElementSize: testBands, MaxCapacity: 8})
	require.NoError(t, err)
	return p
}

func frameWith(t *testing.T, p *buffers.FramePool, level float64) *buffers.SpectrumFrame {
	t.Helper()
	f, err := p.Get()
	require.NoError(t, err)
	for i := range f.Magnitudes {
		f.Magnitudes[i] = level
	}
	f.RMS = level / 2
	f.UpdatePeak()
	return f
}

// publish mimics the pipeline: deliver, then drop the producer reference.
func publish(t *testing.T, s *Surface, f *buffers.SpectrumFrame) {
	t.Helper()
	require.NoError(t, s.OnSpectrumFrame(f))
	f.Release()
}

func newTestSurface(t *testing.T, r Renderer) *Surface {
	t.Helper()
	s, err := NewSurface(Config{
		Name:      "test",
		Bands:     testBands,
		Smoothing: dsp.DefaultSettings(),
		Renderer:  r,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestNewSurfaceValidation(t *testing.T) {
	_, err := NewSurface(Config{Bands: 0, Renderer: &captureRenderer{}})
	assert.Error(t, err)

	_, err = NewSurface(Config{Bands: 4})
	assert.Error(t, err)

	s, err := NewSurface(Config{Bands: 4, Renderer: &captureRenderer{}})
	require.NoError(t, err)
	assert.Equal(t, time.Second/60, s.Interval())
	assert.Equal(t, "display", s.Name())
}

func TestMailboxLastWriteWins(t *testing.T) {
	pool := newFramePool(t)
	r := &captureRenderer{}
	s := newTestSurface(t, r)

	first := frameWith(t, pool, 0.2)
	second := frameWith(t, pool, 0.8)
	queued := pool.Count()

	publish(t, s, first)
	assert.Equal(t, queued, pool.Count(), "first frame still held by the mailbox")

	publish(t, s, second)
	assert.Equal(t, queued+1, pool.Count(), "superseded frame went back, newest is held")

	s.tick(time.Now())
	assert.Equal(t, queued+2, pool.Count(), "tick consumed and released the newest frame")

	v, n := r.last()
	require.Equal(t, 1, n)
	assert.InDelta(t, 0.8*dsp.DefaultAttack, v.Bands[0], 1e-9, "only the newest frame reached the smoother")
	assert.InDelta(t, 0.4, v.RMS, 1e-9)

	st := s.Stats()
	assert.EqualValues(t, 2, st.Received)
	assert.EqualValues(t, 1, st.Superseded)
	assert.EqualValues(t, 1, st.Rendered)
}

func TestTickWithoutFrameStillDecays(t *testing.T) {
	pool := newFramePool(t)
	r := &captureRenderer{}
	s := newTestSurface(t, r)

	t0 := time.Now()
	publish(t, s, frameWith(t, pool, 1))
	s.tick(t0)
	v0, _ := r.last()

	s.tick(t0.Add(dsp.DefaultSilenceWindow + time.Millisecond))
	v1, n := r.last()
	require.Equal(t, 2, n)
	assert.Less(t, v1.Bands[0], v0.Bands[0], "passive decay applies with an empty mailbox")
	assert.Equal(t, v0.Seq+1, v1.Seq)
}

func TestSettingsHotSwap(t *testing.T) {
	pool := newFramePool(t)
	r := &captureRenderer{}
	s := newTestSurface(t, r)

	settings := dsp.DefaultSettings()
	settings.Gain = 2
	s.SetSettings(settings)
	assert.Equal(t, 2.0, s.Settings().Gain)

	publish(t, s, frameWith(t, pool, 0.25))
	s.tick(time.Now())

	v, _ := r.last()
	assert.InDelta(t, 2*0.25*dsp.DefaultAttack, v.Bands[0], 1e-9)
}

func TestRenderErrorsAreCounted(t *testing.T) {
	r := &captureRenderer{err: errors.New("client gone")}
	s := newTestSurface(t, r)

	s.tick(time.Now())
	s.tick(time.Now())

	st := s.Stats()
	assert.EqualValues(t, 2, st.RenderErrors)
	assert.Zero(t, st.Rendered)
}

func TestStartStopRendersOnTimer(t *testing.T) {
	pool := newFramePool(t)
	r := &captureRenderer{}
	s, err := NewSurface(Config{
		Name:        "timer",
		Bands:       testBands,
		RefreshRate: 200,
		Smoothing:   dsp.DefaultSettings(),
		Renderer:    r,
	})
	require.NoError(t, err)

	s.Start()
	s.Start() // second start is a no-op
	publish(t, s, frameWith(t, pool, 0.5))

	assert.Eventually(t, func() bool {
		v, _ := r.last()
		return v.Bands != nil && v.Bands[0] > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestStopReleasesMailbox(t *testing.T) {
	pool := newFramePool(t)
	s := newTestSurface(t, &captureRenderer{})
	s.Start()

	before := pool.Count()
	f := frameWith(t, pool, 0.5)
	require.NoError(t, s.OnSpectrumFrame(f))
	f.Release()
	require.NoError(t, s.Stop())

	assert.Equal(t, before+1, pool.Count(), "parked frame returned on stop")

	g := frameWith(t, pool, 0.5)
	publish(t, s, g)
	assert.Equal(t, before+1, pool.Count(), "stopped surface does not hold frames")
}

func TestConcurrentPublishAndTick(t *testing.T) {
	pool := newFramePool(t)
	s := newTestSurface(t, &captureRenderer{})
	before := pool.Count()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 500 {
			f, err := pool.Get()
			if err != nil {
				t.Error(err)
				return
			}
			_ = s.OnSpectrumFrame(f)
			f.Release()
		}
	}()

	now := time.Now()
	for range 500 {
		now = now.Add(time.Millisecond)
		s.tick(now)
	}
	wg.Wait()
	require.NoError(t, s.Stop())

	assert.Nil(t, s.mailbox.Load())
	assert.Greater(t, pool.Count(), before, "frames found their way back")
}
