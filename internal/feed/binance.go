package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

const maxKlineLimit = 1000

// BinanceSource provides candles from the Binance spot REST API.
type BinanceSource struct {
	client   *binance.Client
	interval string
}

// NewBinanceSource creates a source over a Binance client. Market data
// endpoints need no credentials. interval is a Binance kline interval
// such as "1h" or "1d".
func NewBinanceSource(client *binance.Client, interval string) *BinanceSource {
	if interval == "" {
		interval = "1h"
	}
	return &BinanceSource{
		client:   client,
		interval: interval,
	}
}

// GetHistoricalData returns up to limit closed candles, oldest first.
func (s *BinanceSource) GetHistoricalData(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	klines, err := s.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(s.interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: klines for %s: %v", types.ErrExternalBroker, symbol, err)
	}

	candles := make([]types.Candle, 0, len(klines))
	for _, kl := range klines {
		if kl == nil {
			continue
		}
		candle, err := convertKline(symbol, kl)
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetLiveData returns the most recent candle.
func (s *BinanceSource) GetLiveData(ctx context.Context, symbol string) (types.Candle, error) {
	candles, err := s.GetHistoricalData(ctx, symbol, 1)
	if err != nil {
		return types.Candle{}, err
	}
	if len(candles) == 0 {
		return types.Candle{}, fmt.Errorf("%w: no data for %s", types.ErrPricing, symbol)
	}
	return candles[len(candles)-1], nil
}

// Name returns the source identifier.
func (s *BinanceSource) Name() string {
	return "binance"
}

func convertKline(symbol string, kl *binance.Kline) (types.Candle, error) {
	open, err := decimal.NewFromString(kl.Open)
	if err != nil {
		return types.Candle{}, fmt.Errorf("%w: bad open %q: %v", types.ErrPricing, kl.Open, err)
	}
	high, err := decimal.NewFromString(kl.High)
	if err != nil {
		return types.Candle{}, fmt.Errorf("%w: bad high %q: %v", types.ErrPricing, kl.High, err)
	}
	low, err := decimal.NewFromString(kl.Low)
	if err != nil {
		return types.Candle{}, fmt.Errorf("%w: bad low %q: %v", types.ErrPricing, kl.Low, err)
	}
	closePrice, err := decimal.NewFromString(kl.Close)
	if err != nil {
		return types.Candle{}, fmt.Errorf("%w: bad close %q: %v", types.ErrPricing, kl.Close, err)
	}
	volume, err := decimal.NewFromString(kl.Volume)
	if err != nil {
		return types.Candle{}, fmt.Errorf("%w: bad volume %q: %v", types.ErrPricing, kl.Volume, err)
	}

	return types.Candle{
		Symbol:    symbol,
		Timestamp: millisToTime(kl.OpenTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Source = (*BinanceSource)(nil)
