// Package trader drives a strategy against a portfolio, either by
// replaying historical candles or by polling live market data.
package trader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"robotrader/internal/broker/backtest"
	"robotrader/internal/feed"
	"robotrader/internal/metrics"
	"robotrader/internal/persistence"
	"robotrader/internal/portfolio"
	"robotrader/internal/report"
	"robotrader/internal/strategy"
	"robotrader/internal/types"
)

// BacktestConfig holds backtest run configuration.
type BacktestConfig struct {
	Identity    string
	Symbol      string
	InitialCash decimal.Decimal

	// Warmup is the number of candles consumed before the strategy is
	// first evaluated.
	Warmup int

	Engine backtest.Config
}

// BacktestResult holds the outcome of a replay.
type BacktestResult struct {
	Summary    report.Summary
	Valuations []persistence.ValuationRecord
	Positions  []*portfolio.Position
	Orders     []*types.Order
}

// Backtest replays a historical candle series bar by bar.
type Backtest struct {
	cfg      BacktestConfig
	source   feed.Source
	strategy strategy.Strategy
	recorder *metrics.Recorder
	logger   *slog.Logger
}

// NewBacktest creates a backtest driver.
func NewBacktest(cfg BacktestConfig, source feed.Source, strat strategy.Strategy, recorder *metrics.Recorder, logger *slog.Logger) *Backtest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backtest{
		cfg:      cfg,
		source:   source,
		strategy: strat,
		recorder: recorder,
		logger:   logger,
	}
}

// Run replays all candles from the source and returns the performance
// summary.
func (b *Backtest) Run(ctx context.Context) (*BacktestResult, error) {
	candles, err := b.source.GetHistoricalData(ctx, b.cfg.Symbol, 0)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", b.cfg.Symbol, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", types.ErrValidation, b.cfg.Symbol)
	}

	engine := backtest.New(b.cfg.Engine, b.logger)
	pf := portfolio.New(portfolio.DefaultConfig(b.cfg.Identity, b.cfg.InitialCash), engine, nil, b.recorder, b.logger)

	b.logger.Info("backtest started",
		"symbol", b.cfg.Symbol,
		"candles", len(candles),
		"initial_cash", b.cfg.InitialCash,
		"strategy", b.strategy.Name(),
	)

	for i, candle := range candles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		prices := map[string]decimal.Decimal{b.cfg.Symbol: candle.Close}
		engine.Update(candle.Timestamp, prices)

		if i+1 >= b.cfg.Warmup {
			if err := b.strategy.EvaluateMarket(ctx, b.cfg.Symbol, candles[:i+1], pf); err != nil {
				return nil, fmt.Errorf("evaluate %s at %s: %w", b.cfg.Symbol, candle.Timestamp, err)
			}
		}

		if err := pf.Update(ctx, candle.Timestamp, prices); err != nil {
			return nil, fmt.Errorf("update portfolio at %s: %w", candle.Timestamp, err)
		}
	}

	result := &BacktestResult{
		Summary:    report.Summarize(b.cfg.InitialCash, pf.ValuationHistory(), pf.Positions()),
		Valuations: pf.ValuationHistory(),
		Positions:  pf.Positions(),
		Orders:     pf.Orders(),
	}

	b.logger.Info("backtest finished",
		"symbol", b.cfg.Symbol,
		"end_valuation", result.Summary.EndValuation,
		"return", result.Summary.TotalReturn,
		"max_drawdown", result.Summary.MaxDrawdown,
		"trades", result.Summary.TotalTrades,
	)
	return result, nil
}
