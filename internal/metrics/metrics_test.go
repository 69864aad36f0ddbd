// SPDX-License-Identifier: MIT
package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spectra/internal/display"
	"spectra/pkg/pool"
)

func TestPipelineMetricsRecordEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)

	m.BufferSubmitted()
	m.BufferSubmitted()
	m.BufferDropped()
	m.FrameAnalyzed(2*time.Millisecond, false)
	m.FrameAnalyzed(3*time.Millisecond, true)
	m.AnalysisFailed()
	m.ConsumerFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BuffersSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuffersDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesAnalyzed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesGated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalysisErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FrameLatency))
}

func TestPipelineMetricsRegisterOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPipelineMetrics(reg)
	assert.Panics(t, func() { NewPipelineMetrics(reg) }, "duplicate registration")
}

type fakePool struct {
	count, capacity int
	stats           pool.Stats
}

func (p fakePool) Count() int        { return p.count }
func (p fakePool) MaxCapacity() int  { return p.capacity }
func (p fakePool) Stats() pool.Stats { return p.stats }

type fakeSurface struct {
	name  string
	stats display.Stats
}

func (s fakeSurface) Name() string         { return s.name }
func (s fakeSurface) Stats() display.Stats { return s.stats }

func TestCollector(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	c.AddPool("samples", fakePool{count: 3, capacity: 8, stats: pool.Stats{Hits: 5, Misses: 2}})
	c.AddSurface(fakeSurface{name: "web", stats: display.Stats{Received: 10, Superseded: 4, Rendered: 6}})

	expected := `
# HELP spectra_pool_available Items waiting in the pool
# TYPE spectra_pool_available gauge
spectra_pool_available{pool="samples"} 3
# HELP spectra_pool_capacity Maximum number of items the pool retains
# TYPE spectra_pool_capacity gauge
spectra_pool_capacity{pool="samples"} 8
# HELP spectra_surface_frames_total Frames delivered to a surface mailbox by outcome
# TYPE spectra_surface_frames_total counter
spectra_surface_frames_total{outcome="received",surface="web"} 10
spectra_surface_frames_total{outcome="superseded",surface="web"} 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"spectra_pool_available", "spectra_pool_capacity", "spectra_surface_frames_total"))

	// 2 pool gauges + 5 pool ops + 4 surface counters
	assert.Equal(t, 11, testutil.CollectAndCount(c))

	c.Reset()
	assert.Zero(t, testutil.CollectAndCount(c))
}
