// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	applog "spectra/internal/log"
)

// ErrAlreadyRecording is returned by StartRecording while a file is open.
var ErrAlreadyRecording = errors.New("audio: already recording")

// RecordingPath returns a timestamped file name inside dir.
func RecordingPath(dir string, now time.Time) string {
	return filepath.Join(dir, "spectra-"+now.Format("20060102-150405")+".wav")
}

// WAVRecorder writes interleaved float32 samples to a PCM WAV file.
type WAVRecorder struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	enc    *wav.Encoder
	buf    *audio.IntBuffer // Reusable buffer for format conversion
	scale  float64
	frames int64
	closed bool
}

// NewWAVRecorder creates the file and writes the WAV header.
func NewWAVRecorder(path string, sampleRate, channels, bitDepth int) (*WAVRecorder, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	return &WAVRecorder{
		path: path,
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, bitDepth, channels, 1),
		buf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: bitDepth,
		},
		scale: float64(int64(1)<<(bitDepth-1) - 1),
	}, nil
}

// Path returns the file being written.
func (r *WAVRecorder) Path() string { return r.path }

// Frames returns the number of sample frames written so far.
func (r *WAVRecorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Write converts and appends samples. The conversion buffer only grows.
func (r *WAVRecorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return os.ErrClosed
	}

	if cap(r.buf.Data) < len(samples) {
		r.buf.Data = make([]int, len(samples))
	}
	r.buf.Data = r.buf.Data[:len(samples)]
	for i, s := range samples {
		r.buf.Data[i] = int(float64(max(-1, min(1, s))) * r.scale)
	}

	if err := r.enc.Write(r.buf); err != nil {
		return err
	}
	r.frames += int64(len(samples) / r.buf.Format.NumChannels)
	return nil
}

// Close finalises the header and closes the file.
func (r *WAVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	encErr := r.enc.Close()
	fileErr := r.file.Close()
	return errors.Join(encErr, fileErr)
}

// recording adds StartRecording/StopRecording to a capture source.
type recording struct {
	sampleRate int
	channels   int
	bitDepth   int

	mu  sync.Mutex // serialises Start/Stop
	rec atomic.Pointer[WAVRecorder]
}

// StartRecording opens filename and tees every captured buffer into it.
func (r *recording) StartRecording(filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Load() != nil {
		return ErrAlreadyRecording
	}

	bitDepth := r.bitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	rec, err := NewWAVRecorder(filename, r.sampleRate, r.channels, bitDepth)
	if err != nil {
		return err
	}
	r.rec.Store(rec)
	applog.Infof("Recording: writing %s (%d Hz, %d ch, %d bit)", filename, r.sampleRate, r.channels, bitDepth)
	return nil
}

// StopRecording closes the current file, if any.
func (r *recording) StopRecording() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.rec.Swap(nil)
	if rec == nil {
		return nil
	}
	applog.Infof("Recording: closed %s after %d frames", rec.Path(), rec.Frames())
	return rec.Close()
}

// IsRecording reports whether a file is open.
func (r *recording) IsRecording() bool {
	return r.rec.Load() != nil
}

// record is called from the capture path.
func (r *recording) record(samples []float32) {
	rec := r.rec.Load()
	if rec == nil {
		return
	}
	if err := rec.Write(samples); err != nil && !errors.Is(err, os.ErrClosed) {
		applog.Errorf("Recording: write failed: %v", err)
	}
}
