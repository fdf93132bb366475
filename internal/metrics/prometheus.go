package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30}

// PrometheusSink exports events as Prometheus series.
type PrometheusSink struct {
	events    *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// NewPrometheusSink registers the walletload collectors with reg.
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Number of counter events emitted by simulated wallets",
			},
			[]string{"name"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Stage and test durations observed by simulated wallets",
				Buckets:   durationBuckets,
			},
			[]string{"name"},
		),
	}
	if err := reg.Register(s.events); err != nil {
		return nil, err
	}
	if err := reg.Register(s.durations); err != nil {
		reg.Unregister(s.events)
		return nil, err
	}
	return s, nil
}

func (s *PrometheusSink) Emit(e Event) {
	switch e.Kind {
	case Counter:
		if e.Value < 0 {
			return
		}
		s.events.WithLabelValues(e.Name).Add(e.Value)
	case Histogram:
		s.durations.WithLabelValues(e.Name).Observe(e.Value / 1000)
	}
}
