package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	accepted   prometheus.Counter
	duplicate  prometheus.Counter
	rejected   prometheus.Counter
	identities prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	votes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wapoll",
		Subsystem: "ledger",
		Name:      "votes_total",
		Help:      "Votes offered to the ledger, by outcome",
	}, []string{"outcome"})
	identities := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wapoll",
		Subsystem: "ledger",
		Name:      "identities",
		Help:      "Number of vote identities remembered for deduplication",
	})

	if reg != nil {
		if err := reg.Register(votes); err != nil {
			return nil, err
		}
		if err := reg.Register(identities); err != nil {
			return nil, err
		}
	}

	return &metrics{
		accepted:   votes.WithLabelValues(Accepted.String()),
		duplicate:  votes.WithLabelValues(Duplicate.String()),
		rejected:   votes.WithLabelValues("rejected"),
		identities: identities,
	}, nil
}
