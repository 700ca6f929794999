package feed

import (
	"context"
	"fmt"

	"robotrader/internal/types"
)

// MemorySource provides candles from an in-memory slice.
// Useful for testing.
type MemorySource struct {
	candles []types.Candle
	symbol  string
}

// NewMemorySource creates a source from pre-loaded candles.
func NewMemorySource(symbol string, candles []types.Candle) *MemorySource {
	return &MemorySource{
		candles: candles,
		symbol:  symbol,
	}
}

// Add appends a candle to the source.
func (s *MemorySource) Add(candle types.Candle) {
	s.candles = append(s.candles, candle)
}

// GetHistoricalData returns up to limit candles, oldest first.
func (s *MemorySource) GetHistoricalData(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	if symbol != s.symbol {
		return nil, fmt.Errorf("%w: source holds %s, not %s", types.ErrValidation, s.symbol, symbol)
	}

	candles := s.candles
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}

	out := make([]types.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

// GetLiveData returns the most recent candle.
func (s *MemorySource) GetLiveData(ctx context.Context, symbol string) (types.Candle, error) {
	candles, err := s.GetHistoricalData(ctx, symbol, 1)
	if err != nil {
		return types.Candle{}, err
	}
	if len(candles) == 0 {
		return types.Candle{}, fmt.Errorf("%w: no data for %s", types.ErrPricing, symbol)
	}
	return candles[0], nil
}

// Name returns the source identifier.
func (s *MemorySource) Name() string {
	return "memory"
}

var _ Source = (*MemorySource)(nil)
var _ Source = (*CSVSource)(nil)
