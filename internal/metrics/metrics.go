// Package metrics 注册运行与下单相关的 prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OrdersAttempted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_attempted_total", Help: "Buy orders the engine tried to place"})
	OrdersPlaced     = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_placed_total", Help: "Buy orders confirmed filled (or simulated)"})
	OrdersFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_failed_total", Help: "Buy orders that errored or did not fill"})
	OrdersSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "riskbot_orders_suppressed_total", Help: "Candidates blocked before submission"}, []string{"reason"})
	ClosesTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "riskbot_closes_total", Help: "Position close attempts by reason and result"}, []string{"reason", "result"})
	RiskPercentUsed  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "riskbot_risk_percent_used", Help: "Portfolio percent currently at risk"})
	OpenPositions    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "riskbot_open_positions", Help: "Positions held in the ledger"})
	RunsTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "riskbot_runs_total", Help: "Engine runs by outcome"}, []string{"outcome"})
	RunDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskbot_run_duration_seconds",
		Help:    "Wall time of one engine run",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "riskbot_breaker_state", Help: "0=closed, 1=half_open, 2=open"}, []string{"name"})
)

func init() {
	prometheus.MustRegister(
		OrdersAttempted, OrdersPlaced, OrdersFailed, OrdersSuppressed,
		ClosesTotal, RiskPercentUsed, OpenPositions, RunsTotal, RunDuration, BreakerState,
	)
}
