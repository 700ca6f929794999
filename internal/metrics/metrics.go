// Package metrics defines Prometheus metrics and serves them over HTTP.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the trading system.
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "robotrader",
		Name:      "orders_total",
		Help:      "Total orders created, by symbol, type, side and terminal status.",
	}, []string{"symbol", "type", "side", "status"})

	TradesAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "robotrader",
		Name:      "trades_applied_total",
		Help:      "Trades applied to portfolio state, by symbol and side.",
	}, []string{"symbol", "side"})

	PortfolioCash = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "robotrader",
		Name:      "portfolio_cash",
		Help:      "Current portfolio cash balance.",
	})

	PortfolioValuation = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "robotrader",
		Name:      "portfolio_valuation",
		Help:      "Current total portfolio valuation (cash plus holdings).",
	})

	PositionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "robotrader",
		Name:      "positions_open",
		Help:      "Open positions by symbol.",
	}, []string{"symbol"})

	TrailingStopLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "robotrader",
		Name:      "trailing_stop_level",
		Help:      "Current trailing stop level by symbol.",
	}, []string{"symbol"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "robotrader",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of portfolio reconciliation passes.",
		Buckets:   prometheus.DefBuckets,
	})

	BrokerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "robotrader",
		Name:      "broker_errors_total",
		Help:      "Broker call failures by operation.",
	}, []string{"operation"})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "robotrader",
		Name:      "heartbeat_timestamp_seconds",
		Help:      "Unix timestamp of the last trading loop iteration.",
	})
)
