// Package persistence provides portfolio state persistence.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

// Store persists portfolio snapshots keyed by portfolio identity.
// Save replaces any previous snapshot for the same identity atomically;
// a crash mid-save leaves the previous snapshot intact.
type Store interface {
	Save(ctx context.Context, snapshot Snapshot) error

	// Load returns the snapshot for an identity, or ErrNotFound.
	Load(ctx context.Context, identity string) (*Snapshot, error)

	Close() error
}

// Snapshot is the full persisted state of one portfolio. A portfolio
// restored from its snapshot behaves identically to one that never
// stopped.
type Snapshot struct {
	Identity          string                     `json:"identity"`
	InceptionDate     time.Time                  `json:"inception_date"`
	InitialCash       decimal.Decimal            `json:"initial_cash"`
	Cash              decimal.Decimal            `json:"cash"`
	Holdings          map[string]decimal.Decimal `json:"holdings"`
	Orders            []types.Order              `json:"orders"`
	ProcessedTradeIDs []string                   `json:"processed_trade_ids"`
	Positions         []PositionRecord           `json:"positions"`
	Valuations        []ValuationRecord          `json:"valuations"`
	SavedAt           time.Time                  `json:"saved_at"`
}

// PositionRecord is the persisted form of a position.
type PositionRecord struct {
	ID             string              `json:"id"`
	Symbol         string              `json:"symbol"`
	State          types.PositionState `json:"state"`
	AmountInvested decimal.Decimal     `json:"amount_invested"`
	Quantity       decimal.Decimal     `json:"quantity"`
	OpenPrice      decimal.Decimal     `json:"open_price"`
	ClosePrice     decimal.Decimal     `json:"close_price"`
	OpenedAt       time.Time           `json:"opened_at"`
	ClosedAt       time.Time           `json:"closed_at"`
	EntryOrderID   string              `json:"entry_order_id"`
	CloseOrderID   string              `json:"close_order_id"`
	ExitOrderIDs   []string            `json:"exit_order_ids"`

	// Exit parameters so a restored position keeps its protection.
	TrailPercent    decimal.Decimal `json:"trail_percent"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
}

// ValuationRecord is one point of the portfolio valuation history.
// Cash and holdings are carried so point-in-time valuations can be
// reconstructed without replaying trades.
type ValuationRecord struct {
	Timestamp time.Time                  `json:"timestamp"`
	Valuation decimal.Decimal            `json:"valuation"`
	Cash      decimal.Decimal            `json:"cash"`
	Prices    map[string]decimal.Decimal `json:"prices"`
	Holdings  map[string]decimal.Decimal `json:"holdings"`
}
