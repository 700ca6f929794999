// Package backtest provides a simulated broker that replays historical
// prices and matches orders against them.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"robotrader/internal/broker"
	"robotrader/internal/types"
)

// Config holds matching engine configuration.
type Config struct {
	// CostRate is the proportional transaction cost per execution
	// (0.001 = 10 bps of notional).
	CostRate decimal.Decimal

	// PenaltyRelief interpolates trailing stop fills between the stop
	// level (0) and the triggering price (1).
	PenaltyRelief decimal.Decimal

	// BackdateOffset is subtracted from the engine clock on trailing
	// stop fills, modelling that the stop was hit between ticks.
	BackdateOffset time.Duration
}

// DefaultConfig returns the default matching configuration.
func DefaultConfig() Config {
	return Config{
		CostRate:       decimal.RequireFromString("0.002"),
		PenaltyRelief:  decimal.RequireFromString("0.75"),
		BackdateOffset: time.Second,
	}
}

// Broker implements broker.Broker against replayed historical prices.
// The driver advances it one tick at a time with Update; all pending
// orders are re-evaluated against the new prices in creation order.
type Broker struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	orders    map[string]*types.Order
	orderSeq  []string
	prices    map[string]decimal.Decimal
	timestamp time.Time
}

// New creates a backtest broker.
func New(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		cfg:    cfg,
		logger: logger,
		orders: make(map[string]*types.Order),
		prices: make(map[string]decimal.Decimal),
	}
}

// SetPrice sets the current price for a symbol without advancing the
// clock or re-evaluating pending orders.
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SetTimestamp sets the engine clock.
func (b *Broker) SetTimestamp(ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timestamp = ts
}

// Now returns the engine clock.
func (b *Broker) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timestamp
}

// Update advances the clock, applies the new prices and re-evaluates
// every pending order in creation order.
func (b *Broker) Update(ts time.Time, prices map[string]decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timestamp = ts
	for sym, p := range prices {
		b.prices[sym] = p
	}

	for _, id := range b.orderSeq {
		order := b.orders[id]
		if order.Status != types.OrderStatusPending {
			continue
		}
		price, ok := b.prices[order.Symbol]
		if !ok {
			continue
		}
		b.evaluate(order, price)
	}
}

// evaluate matches one pending order against the current price.
// Caller holds the lock.
func (b *Broker) evaluate(order *types.Order, price decimal.Decimal) {
	switch order.Type {
	case types.OrderTypeStopLoss:
		triggered := (order.Side == types.SideBuy && price.GreaterThanOrEqual(order.StopPrice)) ||
			(order.Side == types.SideSell && price.LessThanOrEqual(order.StopPrice))
		if triggered {
			b.fill(order, price, b.timestamp)
		}

	case types.OrderTypeTrailingStop:
		b.evaluateTrailing(order, price)

	case types.OrderTypeTakeProfit:
		reached := (order.Side == types.SideSell && price.GreaterThanOrEqual(order.LimitPrice)) ||
			(order.Side == types.SideBuy && price.LessThanOrEqual(order.LimitPrice))
		if reached {
			b.fill(order, price, b.timestamp)
		}

	case types.OrderTypeLimit:
		if limitSatisfied(order.Side, price, order.LimitPrice) {
			b.fill(order, price, b.timestamp)
		}
	}
}

// evaluateTrailing ratchets or fills a trailing stop. On any tick the
// stop either tightens or the order fills, never both.
func (b *Broker) evaluateTrailing(order *types.Order, price decimal.Decimal) {
	one := decimal.NewFromInt(1)

	if order.Side == types.SideSell {
		candidate := price.Mul(one.Sub(order.TrailPercent))
		if candidate.GreaterThan(order.StopPrice) {
			order.StopPrice = candidate
		} else if price.LessThanOrEqual(order.StopPrice) {
			b.fillTrailing(order, price)
		}
		return
	}

	candidate := price.Mul(one.Add(order.TrailPercent))
	if candidate.LessThan(order.StopPrice) {
		order.StopPrice = candidate
	} else if price.GreaterThanOrEqual(order.StopPrice) {
		b.fillTrailing(order, price)
	}
}

// fillTrailing executes a triggered trailing stop. The fill price is
// interpolated between the stop level and the triggering price, and
// the trade timestamp is backdated by the configured offset.
func (b *Broker) fillTrailing(order *types.Order, price decimal.Decimal) {
	fillPrice := order.StopPrice.Add(price.Sub(order.StopPrice).Mul(b.cfg.PenaltyRelief))
	b.fill(order, fillPrice, b.timestamp.Add(-b.cfg.BackdateOffset))
}

// fill appends one trade covering the full remaining quantity and
// transitions the order to FILLED. No-op for terminal orders.
func (b *Broker) fill(order *types.Order, price decimal.Decimal, ts time.Time) {
	if order.Status.IsFinal() {
		return
	}

	costs := price.Mul(order.Quantity).Mul(b.cfg.CostRate)
	trade := types.Trade{
		ID:               uuid.NewString(),
		OrderID:          order.ID,
		Symbol:           order.Symbol,
		Type:             order.Type,
		Side:             order.Side,
		Price:            price,
		Quantity:         order.Quantity,
		Timestamp:        ts,
		TransactionCosts: costs,
	}
	order.Trades = append(order.Trades, trade)
	order.Status = types.OrderStatusFilled

	b.logger.Debug("order filled",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"type", order.Type.String(),
		"side", order.Side.String(),
		"price", price,
		"quantity", order.Quantity,
		"costs", costs,
	)
}

// CreateOrder validates and accepts a new order. MARKET orders and
// LIMIT orders already at-or-better fill before returning.
func (b *Broker) CreateOrder(ctx context.Context, req broker.CreateOrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[req.Symbol]
	if !ok || !price.IsPositive() {
		return nil, fmt.Errorf("%w: %s has no positive price", types.ErrPricing, req.Symbol)
	}

	quantity := req.Quantity
	if req.CashAmount.IsPositive() {
		// Reserve the proportional cost out of the cash, then size at
		// the current price.
		one := decimal.NewFromInt(1)
		quantity = req.CashAmount.Mul(one.Sub(b.cfg.CostRate)).Div(price)
		if !quantity.IsPositive() {
			return nil, fmt.Errorf("%w: cash amount %s buys no quantity at %s", types.ErrValidation, req.CashAmount, price)
		}
	}

	order := &types.Order{
		ID:           uuid.NewString(),
		Symbol:       req.Symbol,
		Type:         req.Type,
		Side:         req.Side,
		Quantity:     quantity,
		TrailPercent: req.TrailPercent,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		Status:       types.OrderStatusPending,
		CreatedAt:    b.timestamp,
	}

	switch req.Type {
	case types.OrderTypeMarket:
		b.fill(order, price, b.timestamp)
	case types.OrderTypeLimit:
		if limitSatisfied(order.Side, price, order.LimitPrice) {
			b.fill(order, price, b.timestamp)
		}
	case types.OrderTypeTrailingStop:
		if order.StopPrice.IsZero() {
			order.StopPrice = trailingSeed(order.Side, price, order.TrailPercent)
		}
	}

	b.orders[order.ID] = order
	b.orderSeq = append(b.orderSeq, order.ID)

	b.logger.Debug("order created",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"type", order.Type.String(),
		"side", order.Side.String(),
		"quantity", order.Quantity,
		"status", order.Status.String(),
	)

	return order.Clone(), nil
}

// EditOrder replaces the stop level of a pending stop-family order.
// Loosening the protection is rejected.
func (b *Broker) EditOrder(ctx context.Context, orderID string, stopPrice decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", types.ErrNotFound, orderID)
	}
	if order.Status.IsFinal() {
		return fmt.Errorf("%w: order %s is %s", types.ErrValidation, orderID, order.Status)
	}
	if order.Type != types.OrderTypeStopLoss && order.Type != types.OrderTypeTrailingStop {
		return fmt.Errorf("%w: order %s is a %s, not a stop", types.ErrValidation, orderID, order.Type)
	}
	if !stopPrice.IsPositive() {
		return fmt.Errorf("%w: stop price must be positive", types.ErrValidation)
	}

	loosens := (order.Side == types.SideSell && stopPrice.LessThan(order.StopPrice)) ||
		(order.Side == types.SideBuy && stopPrice.GreaterThan(order.StopPrice))
	if loosens {
		return fmt.Errorf("%w: stop %s would loosen order %s at %s", types.ErrInvariant, stopPrice, orderID, order.StopPrice)
	}

	order.StopPrice = stopPrice
	return nil
}

// CancelOrder cancels a pending order. Cancelling an order that is
// already terminal is a no-op.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", types.ErrNotFound, orderID)
	}
	if order.Status.IsFinal() {
		return nil
	}

	order.Status = types.OrderStatusCancelled
	return nil
}

// FetchOrder returns a copy of the order's current state.
func (b *Broker) FetchOrder(ctx context.Context, orderID string) (*types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", types.ErrNotFound, orderID)
	}
	return order.Clone(), nil
}

// GetPrice returns the current price for a symbol.
func (b *Broker) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[symbol]
	if !ok || !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s has no positive price", types.ErrPricing, symbol)
	}
	return price, nil
}

// Orders returns copies of all orders sorted by creation order.
// Used by drivers and reports.
func (b *Broker) Orders() []*types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*types.Order, 0, len(b.orderSeq))
	for _, id := range b.orderSeq {
		out = append(out, b.orders[id].Clone())
	}
	return out
}

// limitSatisfied reports whether a limit order fills at the price:
// at-or-below for buys, at-or-above for sells.
func limitSatisfied(side types.Side, price, limit decimal.Decimal) bool {
	if side == types.SideBuy {
		return price.LessThanOrEqual(limit)
	}
	return price.GreaterThanOrEqual(limit)
}

// trailingSeed returns the initial stop for a fresh trailing stop.
func trailingSeed(side types.Side, price, trail decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == types.SideSell {
		return price.Mul(one.Sub(trail))
	}
	return price.Mul(one.Add(trail))
}

var _ broker.Broker = (*Broker)(nil)
