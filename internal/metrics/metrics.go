package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the dashboard client's own counters. The caller owns the
// registry, so tests can register on a throwaway one.
type Metrics struct {
	RefreshTotal   *prometheus.CounterVec
	StaleDiscards  prometheus.Counter
	PushEvents     prometheus.Counter
	PushDropped    prometheus.Counter
	PushReconnects prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_refresh_total",
				Help: "Dashboard refresh cycles by outcome.",
			},
			[]string{"result"}),
		StaleDiscards: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_stale_discards_total",
				Help: "Fetch results discarded because the selected farm changed in flight.",
			}),
		PushEvents: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_push_events_total",
				Help: "Notification events delivered by the push channel.",
			}),
		PushDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_push_dropped_total",
				Help: "Push frames dropped because they were malformed or the consumer was full.",
			}),
		PushReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dashboard_push_reconnects_total",
				Help: "Push transport connection losses.",
			}),
	}
	reg.MustRegister(m.RefreshTotal, m.StaleDiscards, m.PushEvents, m.PushDropped, m.PushReconnects)
	return m
}

// NewNop returns metrics bound to a private registry; used where the
// caller does not care about exposition.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
