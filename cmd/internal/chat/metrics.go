package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "brandlink",
		Subsystem: "chat",
		Name:      "connections",
		Help:      "Currently open websocket connections.",
	})

	metricMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "brandlink",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Messages persisted via the gateway.",
	})

	// outcome: sent | failed | skipped | contended
	metricAutoReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brandlink",
		Subsystem: "chat",
		Name:      "autoreplies_total",
		Help:      "Simulated-reply trigger outcomes.",
	}, []string{"outcome"})
)
