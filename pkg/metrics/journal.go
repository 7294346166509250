package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AppendCounter documents appended to journals
	AppendCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "journal",
			Name:      "append_total",
			Help:      "Total number of documents appended to journals.",
		}, []string{"journal"})

	// ReadCounter documents read from journals
	ReadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sluice",
			Subsystem: "journal",
			Name:      "read_total",
			Help:      "Total number of documents read from journals.",
		}, []string{"journal"})
)
