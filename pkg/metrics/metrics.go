// Package metrics registers the Prometheus collectors shared by the bus,
// swarm, and pipeline packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BusSends counts successful queue sends, labelled by queue name.
	BusSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_bus_sends_total",
		Help: "Messages accepted onto a queue.",
	}, []string{"queue"})

	// BusReceives counts delivered queue items.
	BusReceives = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_bus_receives_total",
		Help: "Messages delivered from a queue.",
	}, []string{"queue"})

	// BusDeadLetters counts messages moved to a dead-letter queue.
	BusDeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_bus_dlq_total",
		Help: "Messages moved to a dead-letter queue after retry exhaustion.",
	}, []string{"queue"})

	// BusExpired counts messages skipped at receive because their TTL passed.
	BusExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_bus_expired_total",
		Help: "Expired messages skipped at receive.",
	}, []string{"queue"})

	// QueueDepth tracks the current number of waiting messages per queue.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "maestro_bus_queue_depth",
		Help: "Messages currently waiting in a queue.",
	}, []string{"queue"})

	// SwarmSpawns counts agent spawns admitted by the policy.
	SwarmSpawns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "maestro_swarm_spawns_total",
		Help: "Agent spawns admitted by the swarm policy.",
	}, []string{"agent_type"})

	// ActiveCodeUnits tracks code units currently being fanned out.
	ActiveCodeUnits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "maestro_swarm_active_units",
		Help: "Code units with in-flight method workers.",
	})

	// BuilderNotifications counts drain notifications published to the builder.
	BuilderNotifications = promauto.NewCounter(prometheus.CounterOpts{
		Name: "maestro_builder_notifications_total",
		Help: "Builder notifications published at code-unit drain.",
	})

	// LLMDuration observes LLM gateway call latency per model and stage.
	LLMDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maestro_llm_duration_seconds",
		Help:    "LLM gateway call latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model", "stage"})

	// StageDuration observes pipeline stage wall time.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "maestro_stage_duration_seconds",
		Help:    "Pipeline stage wall time.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"stage"})
)
