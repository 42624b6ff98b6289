// Package telemetry exposes the co-pilot's Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the co-pilot records into. A single
// instance is created in main and threaded to the packages that need it.
type Metrics struct {
	EventsHandled    *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	DispatchBacklog  prometheus.Gauge
	ActionsExecuted  *prometheus.CounterVec
	LlmCalls         prometheus.Counter
	LlmFailures      prometheus.Counter
	Redemptions      *prometheus.CounterVec
	MusicQueueDepth  prometheus.Gauge
	CapabilityUp     *prometheus.GaugeVec
	ChatMessagesSeen prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_events_handled_total",
			Help: "Number of dispatcher events handled, by event type.",
		}, []string{"type"}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "copilot_events_dropped_total",
			Help: "Number of tick events dropped under backpressure.",
		}),
		DispatchBacklog: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_dispatch_backlog",
			Help: "Number of events waiting in the dispatcher queue.",
		}),
		ActionsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_actions_executed_total",
			Help: "Number of actions executed, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		LlmCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "copilot_llm_calls_total",
			Help: "Number of LLM completion calls issued.",
		}),
		LlmFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "copilot_llm_failures_total",
			Help: "Number of LLM completion calls that failed.",
		}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_redemptions_total",
			Help: "Number of channel point redemptions settled, by status.",
		}, []string{"status"}),
		MusicQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_music_queue_depth",
			Help: "Number of tracks waiting in the music queue.",
		}),
		CapabilityUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "copilot_capability_up",
			Help: "Whether each capability connection is currently up.",
		}, []string{"name"}),
		ChatMessagesSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "copilot_chat_messages_total",
			Help: "Number of chat messages appended to the history buffer.",
		}),
	}
}
