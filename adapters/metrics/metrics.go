package metrics

import (
	"net/http"

	"github.com/layer-3/onerecurr/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onerecurr",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle transitions.",
		},
		[]string{"event", "reason"},
	)

	relayStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "onerecurr",
			Subsystem: "relay",
			Name:      "connected",
			Help:      "1 while the relay connection is open.",
		},
	)

	relayReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "onerecurr",
			Subsystem: "relay",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnection attempts.",
		},
	)

	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onerecurr",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Relay messages by direction.",
		},
		[]string{"direction"},
	)

	channelOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "onerecurr",
			Subsystem: "channel",
			Name:      "operations_total",
			Help:      "Channel operations by outcome.",
		},
		[]string{"op", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		sessionEvents,
		relayStatus,
		relayReconnects,
		relayMessages,
		channelOps,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func SessionCreated() { sessionEvents.WithLabelValues("created", "").Inc() }

func SessionCleared(reason core.ClearReason) {
	sessionEvents.WithLabelValues("cleared", string(reason)).Inc()
}

func RelayStatus(status core.ConnectionStatus) {
	if status == core.StatusConnected {
		relayStatus.Set(1)
		return
	}
	relayStatus.Set(0)
}

func RelayReconnectScheduled() { relayReconnects.Inc() }

// RelayMessage counts a frame; direction is sent, queued or received.
func RelayMessage(direction string) { relayMessages.WithLabelValues(direction).Inc() }

func ChannelOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	channelOps.WithLabelValues(op, outcome).Inc()
}
