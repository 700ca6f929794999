// Package broker defines the broker capability used by the portfolio
// and its concrete implementations (backtest, binance).
package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

// Broker is the execution capability the portfolio depends on.
// Implementations own the canonical order state; FetchOrder returns
// copies that reflect all fills up to the broker's current clock.
type Broker interface {
	// CreateOrder validates and accepts a new order. MARKET orders
	// (and LIMIT orders already at-or-better) may fill before returning.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*types.Order, error)

	// EditOrder replaces the stop level of a pending stop-family order.
	// The new level may only tighten the protection.
	EditOrder(ctx context.Context, orderID string, stopPrice decimal.Decimal) error

	// CancelOrder cancels a pending order. Cancelling a terminal order
	// is an error.
	CancelOrder(ctx context.Context, orderID string) error

	// FetchOrder returns the current state of an order by id.
	FetchOrder(ctx context.Context, orderID string) (*types.Order, error)

	// GetPrice returns the current price for a symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CreateOrderRequest carries the parameters for a new order.
// Exactly one of Quantity and CashAmount must be positive; cash-sized
// requests are converted to a quantity at the current price with
// transaction costs reserved out of the cash.
type CreateOrderRequest struct {
	Symbol     string
	Type       types.OrderType
	Side       types.Side
	Quantity   decimal.Decimal
	CashAmount decimal.Decimal

	// TrailPercent is required for TRAILING_STOP orders (fraction of
	// price, 0.01 = 1%) and rejected for every other type.
	TrailPercent decimal.Decimal

	// LimitPrice is required for LIMIT and TAKE_PROFIT orders.
	LimitPrice decimal.Decimal

	// StopPrice is required for STOP_LOSS orders. TRAILING_STOP orders
	// may seed it; otherwise the first tick seeds the stop.
	StopPrice decimal.Decimal
}

// Validate checks the request shape. Price-dependent checks (sizing,
// trigger sanity against the market) are left to the implementation.
func (r CreateOrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", types.ErrValidation)
	}

	hasQty := r.Quantity.IsPositive()
	hasCash := r.CashAmount.IsPositive()
	if hasQty == hasCash {
		return fmt.Errorf("%w: exactly one of quantity and cash amount must be positive", types.ErrValidation)
	}
	if r.Quantity.IsNegative() || r.CashAmount.IsNegative() {
		return fmt.Errorf("%w: sizes must not be negative", types.ErrValidation)
	}

	switch r.Type {
	case types.OrderTypeMarket:
		if !r.TrailPercent.IsZero() || !r.LimitPrice.IsZero() || !r.StopPrice.IsZero() {
			return fmt.Errorf("%w: market order takes no price parameters", types.ErrValidation)
		}
	case types.OrderTypeLimit:
		if !r.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit order requires a positive limit price", types.ErrValidation)
		}
		if !r.TrailPercent.IsZero() || !r.StopPrice.IsZero() {
			return fmt.Errorf("%w: limit order takes only a limit price", types.ErrValidation)
		}
	case types.OrderTypeStopLoss:
		if !r.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop loss requires a positive stop price", types.ErrValidation)
		}
		if !r.TrailPercent.IsZero() || !r.LimitPrice.IsZero() {
			return fmt.Errorf("%w: stop loss takes only a stop price", types.ErrValidation)
		}
	case types.OrderTypeTrailingStop:
		if !r.TrailPercent.IsPositive() || r.TrailPercent.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: trail percent must be in (0, 1)", types.ErrValidation)
		}
		if !r.LimitPrice.IsZero() {
			return fmt.Errorf("%w: trailing stop takes no limit price", types.ErrValidation)
		}
	case types.OrderTypeTakeProfit:
		if !r.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: take profit requires a positive target price", types.ErrValidation)
		}
		if !r.TrailPercent.IsZero() || !r.StopPrice.IsZero() {
			return fmt.Errorf("%w: take profit takes only a target price", types.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order type %d", types.ErrValidation, r.Type)
	}

	return nil
}
