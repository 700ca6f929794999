// Package types defines shared types used across the trading system.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order or trade.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType represents the kind of order.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStopLoss
	OrderTypeTrailingStop
	OrderTypeTakeProfit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopLoss:
		return "STOP_LOSS"
	case OrderTypeTrailingStop:
		return "TRAILING_STOP"
	case OrderTypeTakeProfit:
		return "TAKE_PROFIT"
	default:
		return "UNKNOWN"
	}
}

// IsProtective returns true for order types used as position exits.
func (t OrderType) IsProtective() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeTrailingStop, OrderTypeTakeProfit:
		return true
	default:
		return false
	}
}

// OrderStatus represents the state of an order.
type OrderStatus int

const (
	OrderStatusPending OrderStatus = iota
	OrderStatusPartialFill
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusPartialFill:
		return "PARTIAL_FILL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the order is in a terminal state.
// A terminal order and its trades are immutable.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Trade represents a single execution against an order.
// A trade is immutable once appended to its order.
type Trade struct {
	ID               string          `json:"id"`
	OrderID          string          `json:"order_id"`
	Symbol           string          `json:"symbol"`
	Type             OrderType       `json:"order_type"`
	Side             Side            `json:"side"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Timestamp        time.Time       `json:"timestamp"`
	TransactionCosts decimal.Decimal `json:"transaction_costs"`
}

// Order represents a requested transaction and its executions.
// The broker owns the canonical copy; callers receive clones from
// FetchOrder and must not rely on aliasing.
type Order struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Type     OrderType       `json:"order_type"`
	Side     Side            `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`

	// TrailPercent is the trailing distance as a fraction of price
	// (0.01 = 1%). Only meaningful for TRAILING_STOP orders.
	TrailPercent decimal.Decimal `json:"trail_percent"`

	// LimitPrice is the limit for LIMIT orders and the target level
	// for TAKE_PROFIT orders.
	LimitPrice decimal.Decimal `json:"limit_price"`

	// StopPrice is the trigger level for STOP_LOSS orders and the
	// current ratcheted level for TRAILING_STOP orders.
	StopPrice decimal.Decimal `json:"stop_price"`

	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	Trades    []Trade     `json:"trades"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Trades = make([]Trade, len(o.Trades))
	copy(cp.Trades, o.Trades)
	return &cp
}

// FilledQuantity returns the total quantity executed so far.
func (o *Order) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, t := range o.Trades {
		total = total.Add(t.Quantity)
	}
	return total
}

// AvgFillPrice returns the quantity-weighted average execution price,
// or zero when nothing has filled.
func (o *Order) AvgFillPrice() decimal.Decimal {
	qty := o.FilledQuantity()
	if qty.IsZero() {
		return decimal.Zero
	}
	notional := decimal.Zero
	for _, t := range o.Trades {
		notional = notional.Add(t.Price.Mul(t.Quantity))
	}
	return notional.Div(qty)
}

// PositionState tracks the lifecycle of a per-symbol position.
type PositionState int

const (
	PositionFlat PositionState = iota
	PositionOpening
	PositionLong
	PositionClosing
)

func (s PositionState) String() string {
	switch s {
	case PositionFlat:
		return "FLAT"
	case PositionOpening:
		return "OPENING"
	case PositionLong:
		return "LONG"
	case PositionClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Candle represents one bar of market data.
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}
