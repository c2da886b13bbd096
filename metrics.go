package reactor

import "github.com/prometheus/client_golang/prometheus"

// serverMetrics bundles the Prometheus collectors a Server exposes, per
// SPEC_FULL.md §4.10. All fields are always populated; when a Server is
// given no WithMetricsRegisterer option they are registered with
// prometheus.DefaultRegisterer.
type serverMetrics struct {
	connectionsTotal   *prometheus.CounterVec
	connectionsActive  prometheus.Gauge
	bytesReadTotal     prometheus.Counter
	bytesWrittenTotal  prometheus.Counter
	highWaterMarkTotal prometheus.Counter
	acceptErrorsTotal  *prometheus.CounterVec
	loopTickDuration   *prometheus.HistogramVec
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_connections_total",
			Help: "Total connections accepted, labelled by the I/O loop that owns them.",
		}, []string{"loop"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reactor_connections_active",
			Help: "Currently open connections.",
		}),
		bytesReadTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reactor_bytes_read_total",
			Help: "Total bytes read from peers across all connections.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reactor_bytes_written_total",
			Help: "Total bytes written to peers across all connections.",
		}),
		highWaterMarkTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reactor_high_watermark_total",
			Help: "Number of upward high-watermark crossings across all connections.",
		}),
		acceptErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reactor_accept_errors_total",
			Help: "Accept() failures, labelled by kind (e.g. emfile).",
		}, []string{"kind"}),
		loopTickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reactor_loop_tick_duration_seconds",
			Help:    "Wall-clock duration of one poll-dispatch-drain iteration, per loop.",
			Buckets: prometheus.DefBuckets,
		}, []string{"loop"}),
	}
}

// collectors returns every collector for Registerer.Register.
func (m *serverMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionsTotal,
		m.connectionsActive,
		m.bytesReadTotal,
		m.bytesWrittenTotal,
		m.highWaterMarkTotal,
		m.acceptErrorsTotal,
		m.loopTickDuration,
	}
}

// register registers every collector against r, tolerating
// AlreadyRegisteredError so multiple Servers sharing a registerer don't
// panic.
func (m *serverMetrics) register(r prometheus.Registerer) {
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
