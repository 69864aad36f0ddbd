// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"spectra/pkg/utils"
)

func TestRecordingPath(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	got := RecordingPath("rec", now)
	want := filepath.Join("rec", "spectra-20240305-140709.wav")
	if got != want {
		t.Errorf("RecordingPath() = %q, want %q", got, want)
	}
}

func TestWAVRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tone.wav")
	rec, err := NewWAVRecorder(path, testSampleRate, 2, 16)
	if err != nil {
		t.Fatalf("NewWAVRecorder: %v", err)
	}

	wave := utils.GenerateSineWave(2*testFrameSize, testSampleRate, 440)
	for range 3 {
		if err := rec.Write(wave); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := rec.Frames(); got != 3*testFrameSize {
		t.Errorf("Frames() = %d, want %d", got, 3*testFrameSize)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if err := rec.Write(wave); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Close = %v, want os.ErrClosed", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("recording is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}
	if buf.Format.NumChannels != 2 || buf.Format.SampleRate != testSampleRate {
		t.Errorf("format = %+v", buf.Format)
	}
	if len(buf.Data) != 3*len(wave) {
		t.Errorf("decoded %d samples, want %d", len(buf.Data), 3*len(wave))
	}

	var peak int
	for _, v := range buf.Data {
		peak = max(peak, v)
	}
	if peak < 29000 || peak > 32767 {
		t.Errorf("peak sample %d not near 0.9 of 16-bit full scale", peak)
	}
}

func TestRecordingErrorCases(t *testing.T) {
	dir := t.TempDir()

	t.Run("Already recording", func(t *testing.T) {
		r := &recording{sampleRate: testSampleRate, channels: 1}
		if err := r.StartRecording(filepath.Join(dir, "a.wav")); err != nil {
			t.Fatal(err)
		}
		defer r.StopRecording()
		if err := r.StartRecording(filepath.Join(dir, "b.wav")); !errors.Is(err, ErrAlreadyRecording) {
			t.Errorf("expected ErrAlreadyRecording, got %v", err)
		}
	})

	t.Run("Invalid path", func(t *testing.T) {
		blocker := filepath.Join(dir, "file")
		if err := os.WriteFile(blocker, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		r := &recording{sampleRate: testSampleRate, channels: 1}
		if err := r.StartRecording(filepath.Join(blocker, "x.wav")); err == nil {
			t.Error("expected error for path below a regular file")
		}
		if r.IsRecording() {
			t.Error("failed start must not leave a recorder behind")
		}
	})

	t.Run("Stop when not recording", func(t *testing.T) {
		r := &recording{}
		if err := r.StopRecording(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestRecordTeesSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tee.wav")
	r := &recording{sampleRate: testSampleRate, channels: 1, bitDepth: 24}

	r.record(make([]float32, 16)) // not recording, ignored
	if err := r.StartRecording(path); err != nil {
		t.Fatal(err)
	}
	r.record(make([]float32, 16))
	rec := r.rec.Load()
	if rec.Frames() != 16 {
		t.Errorf("Frames() = %d, want 16", rec.Frames())
	}
	if err := r.StopRecording(); err != nil {
		t.Fatal(err)
	}
	if r.IsRecording() {
		t.Error("still recording after StopRecording")
	}
}

func BenchmarkWAVRecorderWrite(b *testing.B) {
	rec, err := NewWAVRecorder(filepath.Join(b.TempDir(), "bench.wav"), testSampleRate, 2, 16)
	if err != nil {
		b.Fatal(err)
	}
	defer rec.Close()
	wave := utils.GenerateComplexWave(2*testFrameSize, testSampleRate)

	b.ReportAllocs()
	for b.Loop() {
		_ = rec.Write(wave)
	}
}
