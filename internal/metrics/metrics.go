// Package metrics holds the Prometheus collectors of the call bridge.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session store
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_sessions_active",
		Help: "Sessions currently held in the in-process store.",
	})
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_sessions_created_total",
		Help: "Sessions created.",
	})
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_sessions_ended_total",
		Help: "Sessions ended, by cause.",
	}, []string{"cause"})
	CacheFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_cache_failures_total",
		Help: "Best-effort cache operations that failed, by operation.",
	}, []string{"op"})
	CacheRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_cache_recoveries_total",
		Help: "Sessions lazily recovered from the cache into the process.",
	})

	// Relay
	ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "callbridge_channels_active",
		Help: "Connected real-time channels.",
	})
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_messages_relayed_total",
		Help: "Negotiation messages delivered to a peer channel, by type.",
	}, []string{"type"})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_messages_dropped_total",
		Help: "Frames that could not be queued to a channel, by type.",
	}, []string{"type"})
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_auth_failures_total",
		Help: "Rejected authenticate attempts.",
	})

	// Conference bridge
	LegsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_legs_total",
		Help: "Outbound leg creation attempts, by outcome.",
	}, []string{"outcome"})
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callbridge_webhook_events_total",
		Help: "Telephony status callbacks received, by kind and status.",
	}, []string{"kind", "status"})

	// Supervisor
	SweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callbridge_sweep_deleted_total",
		Help: "Sessions removed by the expiry sweep.",
	})
)
