package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	sourceHistory = "history"
	sourceLive    = "live"

	resultVotes        = "votes"
	resultAnnouncement = "announcement"
	resultMalformed    = "malformed"
	resultEmpty        = "empty"
)

type metrics struct {
	envelopes       *prometheus.CounterVec
	historyTimeouts prometheus.Counter
	state           prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wapoll",
			Subsystem: "reconcile",
			Name:      "envelopes_total",
			Help:      "Envelopes handled by the reconciliation engine, by source and result",
		}, []string{"source", "result"}),
		historyTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wapoll",
			Subsystem: "reconcile",
			Name:      "history_timeouts_total",
			Help:      "History replays cut short by the history timeout",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wapoll",
			Subsystem: "reconcile",
			Name:      "state",
			Help:      "Engine state: 0 cold, 1 replaying, 2 live, 3 stopped",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.envelopes, m.historyTimeouts, m.state} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) envelope(source, result string) {
	m.envelopes.WithLabelValues(source, result).Inc()
}
