// Package monitoring exposes Prometheus instrumentation for the backtest
// service. Metrics register on the default registry at init; the server
// mounts promhttp alongside the API.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_sessions_started_total",
		Help: "Total number of backtest sessions started",
	})

	SessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_sessions_finished_total",
		Help: "Total number of backtest sessions finished, by terminal status",
	}, []string{"status"})

	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backtest_session_duration_seconds",
		Help:    "Wall-clock duration of backtest session runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	TradesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backtest_trades_recorded_total",
		Help: "Total number of trade rows produced across all sessions",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_queue_depth",
		Help: "Number of sessions waiting in the execution queue",
	})
)
