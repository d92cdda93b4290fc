package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PublishCounter tracks mirror events published to the bus.
	PublishCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqcell_mirror_publish_total",
		Help: "Total number of mirror events published",
	})
	// ApplyCounter tracks remote events applied to the local cache.
	ApplyCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqcell_mirror_apply_total",
		Help: "Total number of remote events applied",
	})
	// StaleCounter tracks remote events dropped by the sequence gate.
	StaleCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "seqcell_mirror_stale_total",
		Help: "Total number of remote events dropped as stale",
	})
	// StreamGauge reports the number of active event streams.
	StreamGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "seqcell_streams",
		Help: "Current number of active event streams",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers seqcell core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(PublishCounter, ApplyCounter, StaleCounter, StreamGauge)
}
