package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording metrics. A nil *Recorder is
// valid and records nothing, so callers can leave metrics unwired.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordOrder records an order reaching a status.
func (r *Recorder) RecordOrder(symbol, orderType, side, status string) {
	if r == nil {
		return
	}
	OrdersTotal.WithLabelValues(symbol, orderType, side, status).Inc()
}

// RecordTradeApplied records a trade applied to portfolio state.
func (r *Recorder) RecordTradeApplied(symbol, side string) {
	if r == nil {
		return
	}
	TradesAppliedTotal.WithLabelValues(symbol, side).Inc()
}

// RecordCash records the current cash balance.
func (r *Recorder) RecordCash(cash decimal.Decimal) {
	if r == nil {
		return
	}
	PortfolioCash.Set(cash.InexactFloat64())
}

// RecordValuation records the current portfolio valuation.
func (r *Recorder) RecordValuation(valuation decimal.Decimal) {
	if r == nil {
		return
	}
	PortfolioValuation.Set(valuation.InexactFloat64())
}

// RecordPositionOpened records a position being opened.
func (r *Recorder) RecordPositionOpened(symbol string) {
	if r == nil {
		return
	}
	PositionsOpen.WithLabelValues(symbol).Inc()
}

// RecordPositionClosed records a position being closed.
func (r *Recorder) RecordPositionClosed(symbol string) {
	if r == nil {
		return
	}
	PositionsOpen.WithLabelValues(symbol).Dec()
}

// RecordTrailingStop records the current trailing stop level.
func (r *Recorder) RecordTrailingStop(symbol string, stop decimal.Decimal) {
	if r == nil {
		return
	}
	TrailingStopLevel.WithLabelValues(symbol).Set(stop.InexactFloat64())
}

// RecordReconcile records the duration of a reconciliation pass.
func (r *Recorder) RecordReconcile(duration time.Duration) {
	if r == nil {
		return
	}
	ReconcileDuration.Observe(duration.Seconds())
}

// RecordBrokerError records a broker call failure.
func (r *Recorder) RecordBrokerError(operation string) {
	if r == nil {
		return
	}
	BrokerErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordHeartbeat records a trading loop iteration.
func (r *Recorder) RecordHeartbeat() {
	if r == nil {
		return
	}
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}
