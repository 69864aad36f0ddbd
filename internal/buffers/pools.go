// SPDX-License-Identifier: MIT
/*
Package buffers provides the fixed-shape pools that recycle sample buffers and
spectrum frames between the capture callback, the analysis worker and the
display surfaces.

Both pools wrap pkg/pool and add a shape contract: every item handed out has
exactly Size() elements, and returning an item of any other length is a
programmer error reported as ErrSizeMismatch.
*/
package buffers

import (
	"errors"
	"fmt"

	"spectra/pkg/pool"
)

// ErrSizeMismatch is matched by every SizeMismatchError.
var ErrSizeMismatch = errors.New("buffer size mismatch")

// SizeMismatchError reports a buffer returned to a pool of a different shape.
type SizeMismatchError struct {
	Pool string
	Want int
	Got  int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s pool: buffer has %d elements, pool holds %d", e.Pool, e.Got, e.Want)
}

func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// SamplePool recycles SampleBuffers of a fixed length.
type SamplePool struct {
	size  int
	items *pool.Pool[SampleBuffer]
}

// NewSamplePool creates a sample pool shaped by s.
func NewSamplePool(s Sizing) (*SamplePool, error) {
	if s.ElementSize < 1 {
		return nil, fmt.Errorf("sample pool: element size must be positive, got %d", s.ElementSize)
	}

	size := s.ElementSize
	items, err := pool.New(pool.Config[SampleBuffer]{
		Name: "samples",
		Factory: func() *SampleBuffer {
			return &SampleBuffer{Samples: make([]float32, size)}
		},
		Reset: func(b *SampleBuffer) error {
			clear(b.Samples)
			return nil
		},
		MaxCapacity: s.MaxCapacity,
		Preload:     s.Preload,
	})
	if err != nil {
		return nil, err
	}

	return &SamplePool{size: size, items: items}, nil
}

// Get returns a zeroed buffer of Size() samples.
func (p *SamplePool) Get() (*SampleBuffer, error) {
	return p.items.Get()
}

// Return recycles b. A buffer of the wrong length is rejected and the pool
// is left untouched.
func (p *SamplePool) Return(b *SampleBuffer) error {
	if b == nil {
		return pool.ErrNilItem
	}
	if len(b.Samples) != p.size {
		return &SizeMismatchError{Pool: "samples", Want: p.size, Got: len(b.Samples)}
	}
	return p.items.Return(b)
}

func (p *SamplePool) Size() int         { return p.size }
func (p *SamplePool) Count() int        { return p.items.Count() }
func (p *SamplePool) MaxCapacity() int  { return p.items.MaxCapacity() }
func (p *SamplePool) Stats() pool.Stats { return p.items.Stats() }
func (p *SamplePool) Clear()            { p.items.Clear() }
func (p *SamplePool) Dispose() error    { return p.items.Dispose() }

// FramePool recycles SpectrumFrames with a fixed band count.
type FramePool struct {
	bands int
	items *pool.Pool[SpectrumFrame]
}

// NewFramePool creates a frame pool shaped by s. ElementSize is the band count.
func NewFramePool(s Sizing) (*FramePool, error) {
	if s.ElementSize < 1 {
		return nil, fmt.Errorf("frame pool: band count must be positive, got %d", s.ElementSize)
	}

	fp := &FramePool{bands: s.ElementSize}
	items, err := pool.New(pool.Config[SpectrumFrame]{
		Name: "frames",
		Factory: func() *SpectrumFrame {
			return &SpectrumFrame{
				Magnitudes: make([]float64, fp.bands),
				owner:      fp,
			}
		},
		Reset: func(f *SpectrumFrame) error {
			f.reset()
			return nil
		},
		MaxCapacity: s.MaxCapacity,
		Preload:     s.Preload,
	})
	if err != nil {
		return nil, err
	}
	fp.items = items

	return fp, nil
}

// Get returns a zeroed frame holding one reference.
func (p *FramePool) Get() (*SpectrumFrame, error) {
	f, err := p.items.Get()
	if err != nil {
		return nil, err
	}
	f.refs.Store(1)
	return f, nil
}

// Return recycles f directly. Most callers should use f.Release instead.
func (p *FramePool) Return(f *SpectrumFrame) error {
	if f == nil {
		return pool.ErrNilItem
	}
	if len(f.Magnitudes) != p.bands {
		return &SizeMismatchError{Pool: "frames", Want: p.bands, Got: len(f.Magnitudes)}
	}
	return p.items.Return(f)
}

func (p *FramePool) Size() int         { return p.bands }
func (p *FramePool) Count() int        { return p.items.Count() }
func (p *FramePool) MaxCapacity() int  { return p.items.MaxCapacity() }
func (p *FramePool) Stats() pool.Stats { return p.items.Stats() }
func (p *FramePool) Clear()            { p.items.Clear() }
func (p *FramePool) Dispose() error    { return p.items.Dispose() }
