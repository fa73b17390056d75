package ha

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type metrics struct {
	swaps       prometheus.Counter
	fallbacks   *prometheus.CounterVec
	replFailed  prometheus.Counter
	replPending prometheus.GaugeFunc
}

// newMetrics labels every metric with name,
// so that several stores can share a registry.
func newMetrics(s *Store, name string) *metrics {
	labels := prometheus.Labels{"store": name}
	return &metrics{
		swaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "habs",
			Subsystem:   "ha",
			Name:        "swaps_total",
			Help:        "Role swaps between the primary and secondary stores.",
			ConstLabels: labels,
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "habs",
			Subsystem:   "ha",
			Name:        "fallbacks_total",
			Help:        "Calls answered by the secondary store after a primary failure.",
			ConstLabels: labels,
		}, []string{"op"}),
		replFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "habs",
			Subsystem:   "ha",
			Name:        "replication_failures_total",
			Help:        "Background copies that failed.",
			ConstLabels: labels,
		}),
		replPending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "habs",
			Subsystem:   "ha",
			Name:        "replication_pending",
			Help:        "Background copies queued or running.",
			ConstLabels: labels,
		}, func() float64 {
			return float64(s.Pending())
		}),
	}
}

func (m *metrics) register(reg prometheus.Registerer, logger *zap.Logger) {
	for _, c := range []prometheus.Collector{m.swaps, m.fallbacks, m.replFailed, m.replPending} {
		if err := reg.Register(c); err != nil {
			logger.Warn("cannot register metric", zap.Error(err))
		}
	}
}
