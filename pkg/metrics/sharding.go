package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ShardGauge shard count by role
	ShardGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sluice",
			Subsystem: "sharding",
			Name:      "shard_total",
			Help:      "Total number of shards.",
		}, []string{"role"})

	// ShardPeersGauge replica count per shard
	ShardPeersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "sluice",
			Subsystem: "sharding",
			Name:      "shard_peers_total",
			Help:      "Total number of peers of a shard.",
		}, []string{"shard"})

	// SplitCounter shard splits
	SplitCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "sharding",
			Name:      "split_total",
			Help:      "Total number of shard splits.",
		}, []string{"derivation"})
)
