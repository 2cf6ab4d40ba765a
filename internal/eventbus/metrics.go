package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "deployd_events_emitted_total",
		Help: "Events appended to the run event log, by type.",
	},
	[]string{"type"},
)
