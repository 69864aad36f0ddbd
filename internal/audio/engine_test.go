// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"spectra/internal/buffers"
	"spectra/internal/config"
	"spectra/pkg/utils"
)

const (
	testSampleRate = 48000
	testFrameSize  = 256
	testChannels   = 2
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sinkCapture stands in for the pipeline: it keeps a copy of what it is
// given and returns the buffer to the pool.
type sinkCapture struct {
	pool *buffers.SamplePool
	err  error

	mu      sync.Mutex
	samples [][]float32
	stamps  []time.Time
}

func (s *sinkCapture) SubmitCapturedBuffer(buf *buffers.SampleBuffer, n int, ts time.Time) error {
	s.mu.Lock()
	s.samples = append(s.samples, append([]float32(nil), buf.Samples[:n]...))
	s.stamps = append(s.stamps, ts)
	s.mu.Unlock()
	_ = s.pool.Return(buf)
	return s.err
}

func (s *sinkCapture) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// discardSink returns every buffer untouched.
type discardSink struct{ pool *buffers.SamplePool }

func (s discardSink) SubmitCapturedBuffer(buf *buffers.SampleBuffer, _ int, _ time.Time) error {
	return s.pool.Return(buf)
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{
		InputDevice:     config.MinDeviceID,
		SampleRate:      testSampleRate,
		FramesPerBuffer: testFrameSize,
		InputChannels:   testChannels,
	}
}

func newTestPool(t testing.TB) *buffers.SamplePool {
	t.Helper()
	p, err := buffers.NewSamplePool(buffers.Sizing{ElementSize: testFrameSize * testChannels, MaxCapacity: 8, Preload: 2})
	if err != nil {
		t.Fatalf("NewSamplePool: %v", err)
	}
	return p
}

// newTestEngine builds an engine without opening a device.
func newTestEngine(t testing.TB, pool *buffers.SamplePool, sink Submitter) *Engine {
	t.Helper()
	e := &Engine{config: testAudioConfig()}
	if err := e.init(e.config, 16, pool, sink); err != nil {
		t.Fatalf("init: %v", err)
	}
	return e
}

func TestCaptureInitValidation(t *testing.T) {
	pool := newTestPool(t)
	sink := discardSink{pool}

	var c capture
	if err := c.init(testAudioConfig(), 16, nil, sink); err == nil {
		t.Error("expected error without a pool")
	}

	cfg := testAudioConfig()
	cfg.InputChannels = 1
	err := c.init(cfg, 16, pool, sink)
	if !errors.Is(err, buffers.ErrSizeMismatch) {
		t.Errorf("expected size mismatch for a pool sized for stereo, got %v", err)
	}

	cfg = testAudioConfig()
	cfg.SampleRate = 0
	if err := c.init(cfg, 16, pool, sink); err == nil {
		t.Error("expected error for zero sample rate")
	}
}

func TestProcessInputStreamSubmitsCopy(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool}
	e := newTestEngine(t, pool, sink)

	stamp := time.Unix(1700000000, 0)
	e.now = func() time.Time { return stamp }

	in := utils.GenerateComplexWave(testFrameSize*testChannels, testSampleRate)
	e.processInputStream(in)
	in[0] = 42 // the callback buffer belongs to PortAudio

	if sink.count() != 1 {
		t.Fatalf("expected 1 submitted buffer, got %d", sink.count())
	}
	if len(sink.samples[0]) != len(in) {
		t.Errorf("submitted %d samples, want %d", len(sink.samples[0]), len(in))
	}
	if sink.samples[0][0] == 42 {
		t.Error("engine submitted the callback buffer instead of a copy")
	}
	if !sink.stamps[0].Equal(stamp) {
		t.Errorf("timestamp = %v, want %v", sink.stamps[0], stamp)
	}
	if st := e.Stats(); st.Captured != 1 || st.Rejected != 0 || st.Starved != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestProcessInputStreamShortCallback(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool}
	e := newTestEngine(t, pool, sink)

	e.processInputStream(make([]float32, 10))
	if got := len(sink.samples[0]); got != 10 {
		t.Errorf("expected 10 samples, got %d", got)
	}
}

func TestProcessInputStreamRejected(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool, err: errors.New("queue full")}
	e := newTestEngine(t, pool, sink)

	e.processInputStream(make([]float32, testFrameSize*testChannels))
	if st := e.Stats(); st.Rejected != 1 || st.Captured != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestProcessInputStreamStarved(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool}
	e := newTestEngine(t, pool, sink)

	if err := pool.Dispose(); err != nil {
		t.Fatal(err)
	}
	e.processInputStream(make([]float32, testFrameSize*testChannels))

	if sink.count() != 0 {
		t.Error("nothing should be submitted from a disposed pool")
	}
	if st := e.Stats(); st.Starved != 1 {
		t.Errorf("expected 1 starved callback, got %+v", st)
	}
}

func TestProcessInputStreamRecords(t *testing.T) {
	pool := newTestPool(t)
	e := newTestEngine(t, pool, discardSink{pool})

	path := filepath.Join(t.TempDir(), "engine.wav")
	if err := e.StartRecording(path); err != nil {
		t.Fatal(err)
	}
	rec := e.rec.Load()

	in := make([]float32, testFrameSize*testChannels)
	for range 4 {
		e.processInputStream(in)
	}
	if got := rec.Frames(); got != 4*testFrameSize {
		t.Errorf("recorded %d frames, want %d", got, 4*testFrameSize)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if e.IsRecording() {
		t.Error("Stop should close the recording")
	}
}

// TestCaptureHotPathZeroAllocs verifies the callback path does not allocate
// once the pool is warm.
func TestCaptureHotPathZeroAllocs(t *testing.T) {
	pool := newTestPool(t)
	e := newTestEngine(t, pool, discardSink{pool})
	in := make([]float32, testFrameSize*testChannels)

	e.processInputStream(in)
	allocs := testing.AllocsPerRun(100, func() {
		e.deliver(in)
	})
	if allocs > 0 {
		t.Errorf("Expected zero allocations in capture hot path, got %.1f", allocs)
	}
}

func BenchmarkCaptureHotPath(b *testing.B) {
	pool := newTestPool(b)
	e := newTestEngine(b, pool, discardSink{pool})
	in := utils.GenerateComplexWave(testFrameSize*testChannels, testSampleRate)

	b.ReportAllocs()
	for b.Loop() {
		e.deliver(in)
	}
}
