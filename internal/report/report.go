// Package report computes performance summaries over a portfolio's
// valuation history and closed positions.
package report

import (
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/persistence"
	"robotrader/internal/portfolio"
	"robotrader/internal/types"
)

// Summary holds the headline performance numbers of a run.
type Summary struct {
	StartValuation decimal.Decimal
	EndValuation   decimal.Decimal
	TotalReturn    decimal.Decimal // As ratio (0.15 = 15%)
	MaxDrawdown    decimal.Decimal // As ratio
	TotalTrades    int             // Closed round trips
	WinningTrades  int
	LosingTrades   int
	WinRate        decimal.Decimal // As ratio
	ProfitFactor   decimal.Decimal // Gross profit / gross loss
	StartTime      time.Time
	EndTime        time.Time
}

// Summarize computes a Summary from the valuation curve and the
// position history. Open positions are ignored for trade statistics;
// their unrealized result is already in the valuation curve.
func Summarize(initialCash decimal.Decimal, valuations []persistence.ValuationRecord, positions []*portfolio.Position) Summary {
	s := Summary{
		StartValuation: initialCash,
		EndValuation:   initialCash,
	}

	if len(valuations) > 0 {
		s.StartTime = valuations[0].Timestamp
		s.EndTime = valuations[len(valuations)-1].Timestamp
		s.EndValuation = valuations[len(valuations)-1].Valuation
	}

	if initialCash.IsPositive() {
		s.TotalReturn = s.EndValuation.Sub(initialCash).Div(initialCash)
	}

	hwm := initialCash
	for _, point := range valuations {
		if point.Valuation.GreaterThan(hwm) {
			hwm = point.Valuation
		}
		if hwm.IsPositive() {
			dd := hwm.Sub(point.Valuation).Div(hwm)
			if dd.GreaterThan(s.MaxDrawdown) {
				s.MaxDrawdown = dd
			}
		}
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, pos := range positions {
		if pos.State != types.PositionFlat || pos.ClosePrice.IsZero() {
			continue
		}
		s.TotalTrades++
		pnl := pos.ClosePrice.Sub(pos.OpenPrice).Mul(pos.Quantity)
		if pnl.IsPositive() {
			s.WinningTrades++
			grossProfit = grossProfit.Add(pnl)
		} else if pnl.IsNegative() {
			s.LosingTrades++
			grossLoss = grossLoss.Add(pnl.Abs())
		}
	}

	if s.TotalTrades > 0 {
		s.WinRate = decimal.NewFromInt(int64(s.WinningTrades)).Div(decimal.NewFromInt(int64(s.TotalTrades)))
	}
	if grossLoss.IsPositive() {
		s.ProfitFactor = grossProfit.Div(grossLoss)
	}

	return s
}
