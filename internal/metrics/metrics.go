// Package metrics holds the Prometheus collectors of the daemon.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "connection_attempts_total",
			Help:      "Connection attempts by realm and result.",
		},
		[]string{"realm", "result"},
	)

	ConnectionsConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mpp",
			Name:      "connections_connected",
			Help:      "Connections currently in the connected state.",
		},
		[]string{"realm"},
	)

	MessagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "messages_ingested_total",
			Help:      "Inbound messages persisted by realm.",
		},
		[]string{"realm"},
	)

	NormalizationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "normalization_errors_total",
			Help:      "Inbound payloads or units dropped as malformed.",
		},
		[]string{"realm"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "messages_sent_total",
			Help:      "Outbound sends by realm and result.",
		},
		[]string{"realm", "result"},
	)

	SendDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mpp",
			Name:      "send_duration_seconds",
			Help:      "Duration of realm send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"realm"},
	)

	BusEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "bus_events_dropped_total",
			Help:      "Notifier events a full subscriber missed, by kind.",
		},
		[]string{"kind"},
	)

	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpp",
			Name:      "control_requests_total",
			Help:      "Control API calls by method and status code.",
		},
		[]string{"method", "code"},
	)
)

// MustRegister registers every collector with reg, or with the default
// registerer when reg is nil.
func MustRegister(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		ConnectionAttemptsTotal,
		ConnectionsConnected,
		MessagesIngestedTotal,
		NormalizationErrorsTotal,
		MessagesSentTotal,
		SendDurationSeconds,
		BusEventsDroppedTotal,
		ControlRequestsTotal,
	)
}
