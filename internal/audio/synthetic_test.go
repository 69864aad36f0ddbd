// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"testing"
	"time"
)

func TestNewSyntheticSource(t *testing.T) {
	pool := newTestPool(t)
	s, err := NewSyntheticSource(testAudioConfig(), 16, 0, pool, &sinkCapture{pool: pool})
	if err != nil {
		t.Fatalf("NewSyntheticSource: %v", err)
	}

	want := time.Duration(float64(testFrameSize) / testSampleRate * float64(time.Second))
	if s.Period() != want {
		t.Errorf("Period() = %s, want %s", s.Period(), want)
	}
	if s.sweep != DefaultSweepPeriod {
		t.Errorf("sweep = %s, want default %s", s.sweep, DefaultSweepPeriod)
	}

	if _, err := NewSyntheticSource(testAudioConfig(), 16, 0, nil, nil); err == nil {
		t.Error("expected error without pool and sink")
	}
}

func TestSyntheticGenerate(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool}
	s, err := NewSyntheticSource(testAudioConfig(), 16, time.Second, pool, sink)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Unix(1700000000, 0)
	s.started = start
	s.now = func() time.Time { return start.Add(250 * time.Millisecond) }
	s.generate()

	if sink.count() != 1 {
		t.Fatalf("expected 1 buffer, got %d", sink.count())
	}
	got := sink.samples[0]
	if len(got) != testFrameSize*testChannels {
		t.Fatalf("buffer has %d samples, want %d", len(got), testFrameSize*testChannels)
	}

	var energy float64
	for i := 0; i < len(got); i += testChannels {
		if got[i] != got[i+1] {
			t.Fatalf("frame %d: channels differ", i/testChannels)
		}
		energy += float64(got[i]) * float64(got[i])
	}
	if energy == 0 {
		t.Error("generated buffer is silent")
	}

	wantSweep := SweepLowHz * math.Pow(SweepHighHz/SweepLowHz, 0.25)
	if math.Abs(s.tones[0].Freq-wantSweep) > 1e-6 {
		t.Errorf("sweep tone = %.2f Hz, want %.2f Hz", s.tones[0].Freq, wantSweep)
	}
}

func TestSyntheticStartStop(t *testing.T) {
	pool := newTestPool(t)
	sink := &sinkCapture{pool: pool}
	s, err := NewSyntheticSource(testAudioConfig(), 16, time.Second, pool, sink)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	if sink.count() < 3 {
		t.Errorf("expected at least 3 buffers, got %d", sink.count())
	}
	if st := s.Stats(); st.Captured != uint64(sink.count()) {
		t.Errorf("Captured = %d, sink saw %d", st.Captured, sink.count())
	}
}
