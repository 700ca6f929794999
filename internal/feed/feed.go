// Package feed provides market data sources for backtesting and live
// trading.
package feed

import (
	"context"

	"robotrader/internal/types"
)

// Source defines the interface for market data providers.
type Source interface {
	// GetHistoricalData returns up to limit candles for a symbol,
	// oldest first. A limit of zero returns everything available.
	GetHistoricalData(ctx context.Context, symbol string, limit int) ([]types.Candle, error)

	// GetLiveData returns the most recent candle for a symbol.
	GetLiveData(ctx context.Context, symbol string) (types.Candle, error)

	// Name returns the source identifier (e.g. "csv", "binance").
	Name() string
}
