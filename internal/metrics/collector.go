// SPDX-License-Identifier: MIT
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"spectra/internal/display"
	"spectra/pkg/pool"
)

// PoolSource is anything that reports pool occupancy.
type PoolSource interface {
	Count() int
	MaxCapacity() int
	Stats() pool.Stats
}

// SurfaceSource is anything that reports surface counters.
type SurfaceSource interface {
	Name() string
	Stats() display.Stats
}

type namedPool struct {
	name string
	src  PoolSource
}

// Collector exposes pool and surface snapshots on scrape.
type Collector struct {
	mu       sync.RWMutex
	pools    []namedPool
	surfaces []SurfaceSource

	poolAvailable *prometheus.Desc
	poolCapacity  *prometheus.Desc
	poolOps       *prometheus.Desc
	surfaceFrames *prometheus.Desc
	surfaceViews  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates an empty collector; register it once and add sources
// as they are built.
func NewCollector() *Collector {
	return &Collector{
		poolAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "available"),
			"Items waiting in the pool",
			[]string{"pool"}, nil),
		poolCapacity: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "capacity"),
			"Maximum number of items the pool retains",
			[]string{"pool"}, nil),
		poolOps: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "pool", "operations_total"),
			"Pool operations by outcome",
			[]string{"pool", "op"}, nil),
		surfaceFrames: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "surface", "frames_total"),
			"Frames delivered to a surface mailbox by outcome",
			[]string{"surface", "outcome"}, nil),
		surfaceViews: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "surface", "views_total"),
			"Views handed to a surface renderer by result",
			[]string{"surface", "result"}, nil),
	}
}

// AddPool starts reporting src under name.
func (c *Collector) AddPool(name string, src PoolSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools = append(c.pools, namedPool{name: name, src: src})
}

// AddSurface starts reporting s.
func (c *Collector) AddSurface(s SurfaceSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surfaces = append(c.surfaces, s)
}

// Reset forgets every source.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools = nil
	c.surfaces = nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolAvailable
	ch <- c.poolCapacity
	ch <- c.poolOps
	ch <- c.surfaceFrames
	ch <- c.surfaceViews
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.pools {
		st := p.src.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolAvailable, prometheus.GaugeValue, float64(p.src.Count()), p.name)
		ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(p.src.MaxCapacity()), p.name)
		for op, v := range map[string]uint64{
			"hit":      st.Hits,
			"miss":     st.Misses,
			"returned": st.Returned,
			"dropped":  st.Dropped,
			"rejected": st.Rejected,
		} {
			ch <- prometheus.MustNewConstMetric(c.poolOps, prometheus.CounterValue, float64(v), p.name, op)
		}
	}

	for _, s := range c.surfaces {
		st := s.Stats()
		name := s.Name()
		ch <- prometheus.MustNewConstMetric(c.surfaceFrames, prometheus.CounterValue, float64(st.Received), name, "received")
		ch <- prometheus.MustNewConstMetric(c.surfaceFrames, prometheus.CounterValue, float64(st.Superseded), name, "superseded")
		ch <- prometheus.MustNewConstMetric(c.surfaceViews, prometheus.CounterValue, float64(st.Rendered), name, "rendered")
		ch <- prometheus.MustNewConstMetric(c.surfaceViews, prometheus.CounterValue, float64(st.RenderErrors), name, "error")
	}
}
