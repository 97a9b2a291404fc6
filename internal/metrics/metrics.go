// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	Connections          prometheus.Gauge
	EventsConsumed       *prometheus.CounterVec
	EventsDeduplicated   prometheus.Counter
	NotificationsCreated prometheus.Counter
	FramesDelivered      prometheus.Counter
	FramesDropped        prometheus.Counter
	OutboxPending        prometheus.Gauge
	ChatMessages         prometheus.Counter
	MonitorsActive       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_ws_connections",
			Help: "Current WebSocket connections on this instance.",
		}),
		EventsConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_events_consumed_total",
			Help: "Bus envelopes handled, by routing key and outcome.",
		}, []string{"routing_key", "outcome"}),
		EventsDeduplicated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_events_deduplicated_total",
			Help: "Envelopes discarded as duplicates.",
		}),
		NotificationsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_notifications_created_total",
			Help: "Notification rows written.",
		}),
		FramesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_frames_delivered_total",
			Help: "Frames enqueued to local send queues.",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_frames_dropped_total",
			Help: "Frames dropped because a send queue was full.",
		}),
		OutboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_outbox_pending",
			Help: "Outbox rows awaiting dispatch at last poll.",
		}),
		ChatMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "pulse_chat_messages_total",
			Help: "Chat frames broadcast to rooms.",
		}),
		MonitorsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pulse_monitors_active",
			Help: "Livestream monitors currently running.",
		}),
	}
}
