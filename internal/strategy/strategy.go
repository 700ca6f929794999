// Package strategy implements trading strategies.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"robotrader/internal/portfolio"
	"robotrader/internal/types"
)

// Executor is the slice of the portfolio a strategy acts on.
// Strategies decide when to enter and exit; sizing and protection are
// expressed through the exit config, the portfolio does the rest.
type Executor interface {
	OpenLong(ctx context.Context, symbol string, cashPercentage decimal.Decimal, exit portfolio.ExitConfig) error
	CloseLong(ctx context.Context, symbol string) error
	IsLong(symbol string) bool
}

// Strategy evaluates the market for one symbol on every tick.
// candles are oldest first and include the current tick.
type Strategy interface {
	EvaluateMarket(ctx context.Context, symbol string, candles []types.Candle, exec Executor) error

	// Name returns the strategy identifier.
	Name() string
}

var _ Executor = (*portfolio.Portfolio)(nil)

// closes extracts close prices as floats for indicator input.
func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		out[i] = candles[i].Close.InexactFloat64()
	}
	return out
}
