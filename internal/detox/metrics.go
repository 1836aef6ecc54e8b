package detox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detox",
		Name:      "runs_total",
		Help:      "Detox runs by outcome.",
	}, []string{"outcome"})

	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "detox",
		Name:      "active_runs",
		Help:      "Detox runs currently in progress.",
	})

	videosWatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "detox",
		Name:      "videos_watched_total",
		Help:      "Videos opened by the watch loop.",
	})

	watchSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "detox",
		Name:      "watch_seconds_total",
		Help:      "Seconds spent holding video pages open.",
	})
)
