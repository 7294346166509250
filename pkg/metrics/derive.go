package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ShuffledCounter documents routed to a ring member
	ShuffledCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "shuffle",
			Name:      "documents_total",
			Help:      "Total number of documents routed to ring members.",
		}, []string{"journal", "shard"})

	// AppliedCounter documents applied by a transform
	AppliedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "derive",
			Name:      "documents_total",
			Help:      "Total number of source documents applied by transforms.",
		}, []string{"derivation", "transform", "status"})

	// LambdaDurationHistogram lambda invocation duration
	LambdaDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sluice",
			Subsystem: "derive",
			Name:      "lambda_duration_seconds",
			Help:      "Bucketed histogram of lambda invocation duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		}, []string{"derivation", "transform", "kind"})

	// HaltedGauge halted transforms waiting for an operator action
	HaltedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sluice",
			Subsystem: "derive",
			Name:      "halted_total",
			Help:      "Total number of halted transforms.",
		}, []string{"derivation"})

	// CombinedCounter documents combined into a derived collection
	CombinedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "derive",
			Name:      "combined_total",
			Help:      "Total number of documents combined into derived collections.",
		}, []string{"collection"})

	// RegistersGauge registers held by a shard
	RegistersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sluice",
			Subsystem: "derive",
			Name:      "registers_total",
			Help:      "Total number of registers of a shard.",
		}, []string{"shard"})
)
