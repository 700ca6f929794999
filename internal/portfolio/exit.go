package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

// ExitConfig describes the protective orders guarding a long position:
// either a single trailing stop, or a take-profit/stop-loss pair that
// forms a one-cancels-other unit.
type ExitConfig struct {
	TrailPercent    decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPrice   decimal.Decimal
}

// Validate checks the exit configuration shape.
func (e ExitConfig) Validate() error {
	hasTrail := e.TrailPercent.IsPositive()
	hasPair := e.TakeProfitPrice.IsPositive() || e.StopLossPrice.IsPositive()

	if hasTrail && hasPair {
		return fmt.Errorf("%w: trailing stop and take-profit/stop-loss pair are mutually exclusive", types.ErrValidation)
	}
	if !hasTrail && !hasPair {
		return fmt.Errorf("%w: exit config needs a trailing stop or a take-profit/stop-loss pair", types.ErrValidation)
	}
	if hasTrail && e.TrailPercent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: trail percent must be in (0, 1)", types.ErrValidation)
	}
	if hasPair && (!e.TakeProfitPrice.IsPositive() || !e.StopLossPrice.IsPositive()) {
		return fmt.Errorf("%w: take-profit and stop-loss must both be set", types.ErrValidation)
	}
	if hasPair && e.StopLossPrice.GreaterThanOrEqual(e.TakeProfitPrice) {
		return fmt.Errorf("%w: stop-loss must be below take-profit", types.ErrValidation)
	}
	return nil
}

// IsTrailing reports whether the exit uses a trailing stop.
func (e ExitConfig) IsTrailing() bool {
	return e.TrailPercent.IsPositive()
}
