package strategy

import (
	"context"

	talib "github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"robotrader/internal/portfolio"
	"robotrader/internal/types"
)

// ReversalConfig holds configuration for the simple reversal strategy.
type ReversalConfig struct {
	SMAPeriod     int
	RSIPeriod     int
	RSIOverbought float64

	// PositionSize is the fraction of cash invested per entry.
	PositionSize decimal.Decimal

	// TrailingStop is the trail fraction of the protective stop.
	TrailingStop decimal.Decimal
}

// DefaultReversalConfig returns sensible defaults.
func DefaultReversalConfig() ReversalConfig {
	return ReversalConfig{
		SMAPeriod:     20,
		RSIPeriod:     14,
		RSIOverbought: 60,
		PositionSize:  decimal.RequireFromString("0.25"),
		TrailingStop:  decimal.RequireFromString("0.02"),
	}
}

// Reversal enters long when price trades above its SMA while RSI is
// not yet overbought, riding the move with a trailing stop. It never
// exits explicitly; the trailing stop does.
type Reversal struct {
	cfg ReversalConfig
}

// NewReversal creates a simple reversal strategy.
func NewReversal(cfg ReversalConfig) *Reversal {
	return &Reversal{cfg: cfg}
}

// EvaluateMarket checks the entry condition on the latest candle.
func (r *Reversal) EvaluateMarket(ctx context.Context, symbol string, candles []types.Candle, exec Executor) error {
	if len(candles) < r.cfg.SMAPeriod || len(candles) <= r.cfg.RSIPeriod {
		return nil
	}

	prices := closes(candles)
	sma := talib.Sma(prices, r.cfg.SMAPeriod)
	rsi := talib.Rsi(prices, r.cfg.RSIPeriod)

	last := len(prices) - 1
	if prices[last] > sma[last] && rsi[last] < r.cfg.RSIOverbought {
		return exec.OpenLong(ctx, symbol, r.cfg.PositionSize, portfolio.ExitConfig{
			TrailPercent: r.cfg.TrailingStop,
		})
	}
	return nil
}

// Name returns the strategy name.
func (r *Reversal) Name() string {
	return "reversal"
}

var _ Strategy = (*Reversal)(nil)
