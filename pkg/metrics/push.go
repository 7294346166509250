package metrics

import (
	"time"

	"github.com/fagongzi/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// MetricConfig is the metric push configuration. Servers usually
// expose /metrics for scraping, the pushgateway covers short lived
// tools and firewalled stores.
type MetricConfig struct {
	PushJob      string        `toml:"job" json:"job"`
	PushAddress  string        `toml:"address" json:"address"`
	PushInterval time.Duration `toml:"interval" json:"interval"`
}

func prometheusPushClient(job, addr string, interval time.Duration) {
	for {
		err := push.FromGatherer(
			job, push.HostnameGroupingKey(),
			addr,
			prometheus.DefaultGatherer,
		)
		if err != nil {
			log.Errorf("push metrics to prometheus pushgateway failed with %+v", err)
		}

		time.Sleep(interval)
	}
}

// Push metrics in background.
func Push(cfg *MetricConfig) {
	if cfg.PushInterval == 0 || len(cfg.PushAddress) == 0 {
		log.Infof("disable prometheus push client")
		return
	}

	log.Info("start prometheus push client")

	go prometheusPushClient(cfg.PushJob, cfg.PushAddress, cfg.PushInterval)
}
