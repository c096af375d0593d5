// Package latchmon wraps a latch with Prometheus instrumentation:
// acquisition counters, holder and waiter gauges, and wait-duration
// histograms, labeled by access mode.
package latchmon

import (
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"gitlab.com/slon/rwlatch/latch"
)

const (
	modeRead  = "read"
	modeWrite = "write"
)

// Metrics holds the collectors shared by Monitored latches. One Metrics
// may back several latches; their samples are then aggregated.
type Metrics struct {
	acquisitions *prometheus.CounterVec
	blocked      *prometheus.GaugeVec
	waitSeconds  *prometheus.HistogramVec
	readersHeld  prometheus.Gauge
	writerHeld   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		acquisitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rwlatch_acquisitions_total",
			Help: "Completed latch acquisitions by access mode.",
		}, []string{"mode"}),
		blocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rwlatch_blocked_goroutines",
			Help: "Goroutines currently blocked in an acquire call.",
		}, []string{"mode"}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rwlatch_wait_seconds",
			Help:    "Time spent waiting to acquire the latch.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 10, 8),
		}, []string{"mode"}),
		readersHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rwlatch_readers_held",
			Help: "Readers currently holding the latch.",
		}),
		writerHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rwlatch_writer_held",
			Help: "Whether a writer currently holds the latch.",
		}),
	}
	reg.MustRegister(m.acquisitions, m.blocked, m.waitSeconds, m.readersHeld, m.writerHeld)
	return m
}

// Monitored is a latch with the same four operations and the same
// blocking contract as latch.Latch; every call additionally moves the
// Metrics it was built with. Instrumentation never reorders or delays
// the underlying acquisitions.
type Monitored struct {
	l     *latch.Latch
	m     *Metrics
	clock clockwork.Clock
}

// New wraps l with metrics using the real clock.
func New(l *latch.Latch, m *Metrics) *Monitored {
	return NewWithClock(l, m, clockwork.NewRealClock())
}

// NewWithClock wraps l with metrics, timing waits on clock.
func NewWithClock(l *latch.Latch, m *Metrics, clock clockwork.Clock) *Monitored {
	return &Monitored{l: l, m: m, clock: clock}
}

// Latch returns the underlying latch.
func (ml *Monitored) Latch() *latch.Latch { return ml.l }

func (ml *Monitored) AcquireRead() {
	start := ml.clock.Now()
	ml.m.blocked.WithLabelValues(modeRead).Inc()
	ml.l.AcquireRead()
	ml.m.blocked.WithLabelValues(modeRead).Dec()
	ml.m.waitSeconds.WithLabelValues(modeRead).Observe(ml.clock.Since(start).Seconds())
	ml.m.acquisitions.WithLabelValues(modeRead).Inc()
	ml.m.readersHeld.Inc()
}

func (ml *Monitored) ReleaseRead() {
	ml.m.readersHeld.Dec()
	ml.l.ReleaseRead()
}

func (ml *Monitored) AcquireWrite() {
	start := ml.clock.Now()
	ml.m.blocked.WithLabelValues(modeWrite).Inc()
	ml.l.AcquireWrite()
	ml.m.blocked.WithLabelValues(modeWrite).Dec()
	ml.m.waitSeconds.WithLabelValues(modeWrite).Observe(ml.clock.Since(start).Seconds())
	ml.m.acquisitions.WithLabelValues(modeWrite).Inc()
	ml.m.writerHeld.Set(1)
}

func (ml *Monitored) ReleaseWrite() {
	ml.m.writerHeld.Set(0)
	ml.l.ReleaseWrite()
}
