package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

// Position tracks one long position from submission to close.
// Quantity stays zero until the entry fill is reconciled.
type Position struct {
	ID             string
	Symbol         string
	State          types.PositionState
	AmountInvested decimal.Decimal
	Quantity       decimal.Decimal
	OpenPrice      decimal.Decimal
	ClosePrice     decimal.Decimal
	OpenedAt       time.Time
	ClosedAt       time.Time
	EntryOrderID   string
	CloseOrderID   string
	ExitOrderIDs   []string
	Exit           ExitConfig
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.State == types.PositionOpening || p.State == types.PositionLong || p.State == types.PositionClosing
}

// clone returns a copy safe for callers to hold.
func (p *Position) clone() *Position {
	cp := *p
	cp.ExitOrderIDs = make([]string, len(p.ExitOrderIDs))
	copy(cp.ExitOrderIDs, p.ExitOrderIDs)
	return &cp
}
