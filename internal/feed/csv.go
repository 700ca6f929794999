package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

// CSVSource provides market data from a CSV file.
// CSV format: timestamp,open,high,low,close,volume
// Timestamp format: 2006-01-02 15:04:05 or Unix timestamp.
type CSVSource struct {
	filePath string
	symbol   string
	candles  []types.Candle
	loaded   bool
}

// NewCSVSource creates a source backed by a CSV file.
func NewCSVSource(filePath, symbol string) *CSVSource {
	return &CSVSource{
		filePath: filePath,
		symbol:   symbol,
	}
}

// GetHistoricalData returns up to limit candles, oldest first.
func (s *CSVSource) GetHistoricalData(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
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

// GetLiveData returns the last candle in the file.
func (s *CSVSource) GetLiveData(ctx context.Context, symbol string) (types.Candle, error) {
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
func (s *CSVSource) Name() string {
	return "csv"
}

// Count returns the number of loaded candles.
func (s *CSVSource) Count() int {
	return len(s.candles)
}

func (s *CSVSource) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	file, err := os.Open(s.filePath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	candles, err := ParseCSV(file, s.symbol)
	if err != nil {
		return fmt.Errorf("parse csv: %w", err)
	}

	s.candles = candles
	s.loaded = true
	return nil
}

// ParseCSV parses candles from a CSV reader. A header row is skipped;
// malformed rows are dropped rather than failing the whole file.
func ParseCSV(r io.Reader, symbol string) ([]types.Candle, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true

	var candles []types.Candle
	lineNum := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		lineNum++

		if lineNum == 1 && isHeader(record) {
			continue
		}
		if len(record) < 5 {
			continue
		}

		candle, err := parseRecord(record, symbol)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

func parseRecord(record []string, symbol string) (types.Candle, error) {
	var candle types.Candle
	candle.Symbol = symbol

	ts, err := parseTimestamp(record[0])
	if err != nil {
		return candle, fmt.Errorf("parse timestamp: %w", err)
	}
	candle.Timestamp = ts

	candle.Open, err = decimal.NewFromString(record[1])
	if err != nil {
		return candle, fmt.Errorf("parse open: %w", err)
	}
	candle.High, err = decimal.NewFromString(record[2])
	if err != nil {
		return candle, fmt.Errorf("parse high: %w", err)
	}
	candle.Low, err = decimal.NewFromString(record[3])
	if err != nil {
		return candle, fmt.Errorf("parse low: %w", err)
	}
	candle.Close, err = decimal.NewFromString(record[4])
	if err != nil {
		return candle, fmt.Errorf("parse close: %w", err)
	}

	if len(record) > 5 {
		if vol, err := decimal.NewFromString(record[5]); err == nil {
			candle.Volume = vol
		}
	}

	return candle, nil
}

// parseTimestamp tries Unix seconds first, then common date formats.
func parseTimestamp(s string) (time.Time, error) {
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}

	formats := []string{
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	headers := []string{"timestamp", "time", "date", "datetime", "open", "high", "low", "close"}
	for _, h := range headers {
		if record[0] == h {
			return true
		}
	}
	return false
}
