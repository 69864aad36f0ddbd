// SPDX-License-Identifier: MIT
/*
Package metrics exports pipeline, pool and surface counters to Prometheus.

PipelineMetrics implements pipeline.Recorder and is driven from the capture
and worker goroutines. Collector reads pool and surface snapshots at scrape
time so the hot path pays nothing for them.
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"spectra/internal/pipeline"
)

// Namespace prefixes every metric name.
const Namespace = "spectra"

// PipelineMetrics records pipeline events.
type PipelineMetrics struct {
	BuffersSubmitted prometheus.Counter
	BuffersDropped   prometheus.Counter
	FramesAnalyzed   prometheus.Counter
	FramesGated      prometheus.Counter
	AnalysisErrors   prometheus.Counter
	ConsumerErrors   prometheus.Counter
	FrameLatency     prometheus.Histogram
}

var _ pipeline.Recorder = (*PipelineMetrics)(nil)

// NewPipelineMetrics registers the pipeline metrics with reg.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		BuffersSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "buffers_submitted_total",
			Help:      "Captured buffers accepted by the pipeline",
		}),
		BuffersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "buffers_dropped_total",
			Help:      "Captured buffers dropped because the pipeline was busy or stopped",
		}),
		FramesAnalyzed: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_analyzed_total",
			Help:      "Spectrum frames produced",
		}),
		FramesGated: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_gated_total",
			Help:      "Spectrum frames silenced by the volume gate",
		}),
		AnalysisErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "analysis_errors_total",
			Help:      "Buffers the analyzer failed on",
		}),
		ConsumerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "consumer_errors_total",
			Help:      "Consumer deliveries that returned an error or panicked",
		}),
		FrameLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "frame_latency_seconds",
			Help:      "Capture to publish latency of spectrum frames",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
	}
}

func (m *PipelineMetrics) BufferSubmitted() { m.BuffersSubmitted.Inc() }
func (m *PipelineMetrics) BufferDropped()   { m.BuffersDropped.Inc() }
func (m *PipelineMetrics) AnalysisFailed()  { m.AnalysisErrors.Inc() }
func (m *PipelineMetrics) ConsumerFailed()  { m.ConsumerErrors.Inc() }

func (m *PipelineMetrics) FrameAnalyzed(latency time.Duration, gated bool) {
	m.FramesAnalyzed.Inc()
	m.FrameLatency.Observe(latency.Seconds())
	if gated {
		m.FramesGated.Inc()
	}
}
