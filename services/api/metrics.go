package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "autolog",
		Subsystem: "collector",
		Name:      "runs_recorded_total",
		Help:      "Run records accepted and persisted, by run status.",
	}, []string{"status"})

	appendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "autolog",
		Subsystem: "collector",
		Name:      "append_failures_total",
		Help:      "Run records that could not be written to the log store.",
	})
)
