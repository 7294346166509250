package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	prometheus.Register(ShuffledCounter)
	prometheus.Register(AppliedCounter)
	prometheus.Register(LambdaDurationHistogram)
	prometheus.Register(HaltedGauge)
	prometheus.Register(CombinedCounter)
	prometheus.Register(RegistersGauge)

	prometheus.Register(ShardGauge)
	prometheus.Register(ShardPeersGauge)
	prometheus.Register(SplitCounter)

	prometheus.Register(AppendCounter)
	prometheus.Register(ReadCounter)
}
