package flatstate

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects engine and blob I/O counters. Optional; a nil *Metrics
// disables collection.
type Metrics struct {
	recordsAdded *prometheus.CounterVec
	cycles       prometheus.Counter
	blobBytes    *prometheus.CounterVec
	loadSeconds  *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flatstate_records_added_total",
			Help: "Records submitted to the write engine",
		}, []string{"type"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flatstate_cycles_completed_total",
			Help: "Producer cycles completed",
		}),
		blobBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flatstate_blob_bytes_written_total",
			Help: "Blob bytes written, by blob kind",
		}, []string{"kind"}),
		loadSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flatstate_blob_load_seconds",
			Help:    "Snapshot and delta load durations",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.recordsAdded, m.cycles, m.blobBytes, m.loadSeconds)
	}
	return m
}

func (m *Metrics) recordAdded(typeName string) {
	m.recordsAdded.WithLabelValues(typeName).Inc()
}

func (m *Metrics) cycleCompleted() {
	m.cycles.Inc()
}

func (m *Metrics) blobWritten(kind string, n int) {
	m.blobBytes.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) observeLoad(kind string, seconds float64) {
	m.loadSeconds.WithLabelValues(kind).Observe(seconds)
}
