// Package binance implements the broker interface against the Binance
// spot exchange.
package binance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"robotrader/internal/broker"
	"robotrader/internal/types"
)

// Broker places and tracks orders on Binance spot. Trailing stops are
// submitted as plain stop orders; the portfolio's ratchet pass tightens
// them as the price rises.
type Broker struct {
	client *binance.Client
	logger *slog.Logger

	mu sync.Mutex
	// aliases maps a retired order id to its replacement after an edit.
	aliases map[string]string
	// trails remembers the trail fraction of orders submitted as
	// trailing stops so FetchOrder can report it back.
	trails map[string]decimal.Decimal
}

// New creates a Binance spot broker.
func New(apiKey, apiSecret string, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		client:  binance.NewClient(apiKey, apiSecret),
		logger:  logger,
		aliases: make(map[string]string),
		trails:  make(map[string]decimal.Decimal),
	}
}

// CreateOrder submits an order to the exchange.
func (b *Broker) CreateOrder(ctx context.Context, req broker.CreateOrderRequest) (*types.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(sideType(req.Side))

	switch req.Type {
	case types.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
		if req.CashAmount.IsPositive() {
			svc = svc.QuoteOrderQty(req.CashAmount.String())
		} else {
			svc = svc.Quantity(req.Quantity.String())
		}

	case types.OrderTypeLimit:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(req.LimitPrice.String()).
			Quantity(req.Quantity.String())

	case types.OrderTypeStopLoss:
		svc = svc.Type(binance.OrderTypeStopLoss).
			StopPrice(req.StopPrice.String()).
			Quantity(req.Quantity.String())

	case types.OrderTypeTakeProfit:
		svc = svc.Type(binance.OrderTypeTakeProfit).
			StopPrice(req.LimitPrice.String()).
			Quantity(req.Quantity.String())

	case types.OrderTypeTrailingStop:
		stop := req.StopPrice
		if stop.IsZero() {
			price, err := b.GetPrice(ctx, req.Symbol)
			if err != nil {
				return nil, err
			}
			one := decimal.NewFromInt(1)
			if req.Side == types.SideSell {
				stop = price.Mul(one.Sub(req.TrailPercent))
			} else {
				stop = price.Mul(one.Add(req.TrailPercent))
			}
		}
		svc = svc.Type(binance.OrderTypeStopLoss).
			StopPrice(stop.String()).
			Quantity(req.Quantity.String())
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s %s %s: %v", types.ErrExternalBroker, req.Type, req.Side, req.Symbol, err)
	}

	id := orderID(req.Symbol, res.OrderID)
	if req.Type == types.OrderTypeTrailingStop {
		b.mu.Lock()
		b.trails[id] = req.TrailPercent
		b.mu.Unlock()
	}

	b.logger.Info("order submitted",
		"order_id", id,
		"symbol", req.Symbol,
		"type", req.Type.String(),
		"side", req.Side.String(),
	)
	return b.FetchOrder(ctx, id)
}

// EditOrder replaces the stop level of a pending stop order. Binance
// has no in-place amend, so the order is cancelled and resubmitted;
// the original id keeps resolving to the replacement.
func (b *Broker) EditOrder(ctx context.Context, id string, stopPrice decimal.Decimal) error {
	if !stopPrice.IsPositive() {
		return fmt.Errorf("%w: stop price must be positive", types.ErrValidation)
	}

	current, err := b.FetchOrder(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsFinal() {
		return fmt.Errorf("%w: order %s is %s", types.ErrValidation, id, current.Status)
	}
	if current.Type != types.OrderTypeStopLoss && current.Type != types.OrderTypeTrailingStop {
		return fmt.Errorf("%w: order %s is a %s, not a stop", types.ErrValidation, id, current.Type)
	}

	loosens := (current.Side == types.SideSell && stopPrice.LessThan(current.StopPrice)) ||
		(current.Side == types.SideBuy && stopPrice.GreaterThan(current.StopPrice))
	if loosens {
		return fmt.Errorf("%w: stop %s would loosen order %s at %s", types.ErrInvariant, stopPrice, id, current.StopPrice)
	}

	if err := b.CancelOrder(ctx, id); err != nil {
		return err
	}

	res, err := b.client.NewCreateOrderService().
		Symbol(current.Symbol).
		Side(sideType(current.Side)).
		Type(binance.OrderTypeStopLoss).
		StopPrice(stopPrice.String()).
		Quantity(current.Quantity.String()).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: replace stop %s: %v", types.ErrExternalBroker, id, err)
	}

	b.mu.Lock()
	replacement := orderID(current.Symbol, res.OrderID)
	b.aliases[id] = replacement
	if trail, ok := b.trails[id]; ok {
		b.trails[replacement] = trail
	}
	b.mu.Unlock()

	b.logger.Info("stop replaced", "order_id", id, "replacement", replacement, "stop", stopPrice)
	return nil
}

// CancelOrder cancels a pending order.
func (b *Broker) CancelOrder(ctx context.Context, id string) error {
	symbol, exchangeID, err := b.resolve(id)
	if err != nil {
		return err
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(exchangeID).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: cancel order %s: %v", types.ErrExternalBroker, id, err)
	}
	return nil
}

// FetchOrder returns the current exchange state of an order, including
// its fills.
func (b *Broker) FetchOrder(ctx context.Context, id string) (*types.Order, error) {
	symbol, exchangeID, err := b.resolve(id)
	if err != nil {
		return nil, err
	}

	res, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(exchangeID).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch order %s: %v", types.ErrExternalBroker, id, err)
	}

	order, err := b.convertOrder(id, res)
	if err != nil {
		return nil, err
	}

	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: bad executed quantity %q on order %s", types.ErrPricing, res.ExecutedQuantity, id)
	}
	if executed.IsPositive() {
		trades, err := b.client.NewListTradesService().
			Symbol(symbol).
			OrderId(exchangeID).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch trades for %s: %v", types.ErrExternalBroker, id, err)
		}
		order.Trades, err = convertTrades(id, order, trades)
		if err != nil {
			return nil, err
		}
	}
	return order, nil
}

// GetPrice returns the last traded price for a symbol.
func (b *Broker) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price for %s: %v", types.ErrExternalBroker, symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", types.ErrPricing, symbol)
	}
	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad price %q for %s", types.ErrPricing, prices[0].Price, symbol)
	}
	return price, nil
}

// resolve follows edit aliases and splits an id into symbol and
// exchange order id.
func (b *Broker) resolve(id string) (string, int64, error) {
	b.mu.Lock()
	for {
		next, ok := b.aliases[id]
		if !ok {
			break
		}
		id = next
	}
	b.mu.Unlock()

	symbol, raw, ok := strings.Cut(id, ":")
	if !ok {
		return "", 0, fmt.Errorf("%w: malformed order id %q", types.ErrValidation, id)
	}
	exchangeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: malformed order id %q", types.ErrValidation, id)
	}
	return symbol, exchangeID, nil
}

func (b *Broker) convertOrder(id string, res *binance.Order) (*types.Order, error) {
	quantity, err := decimal.NewFromString(res.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("%w: bad quantity %q on order %s", types.ErrPricing, res.OrigQuantity, id)
	}

	order := &types.Order{
		ID:        id,
		Symbol:    res.Symbol,
		Type:      convertType(res.Type),
		Side:      convertSide(res.Side),
		Quantity:  quantity,
		Status:    convertStatus(res.Status),
		CreatedAt: time.UnixMilli(res.Time).UTC(),
	}
	if res.Price != "" {
		if p, err := decimal.NewFromString(res.Price); err == nil && p.IsPositive() {
			order.LimitPrice = p
		}
	}
	if res.StopPrice != "" {
		if p, err := decimal.NewFromString(res.StopPrice); err == nil && p.IsPositive() {
			order.StopPrice = p
		}
	}

	b.mu.Lock()
	if trail, ok := b.trails[id]; ok {
		order.Type = types.OrderTypeTrailingStop
		order.TrailPercent = trail
	}
	b.mu.Unlock()

	return order, nil
}

func convertTrades(id string, order *types.Order, raw []*binance.TradeV3) ([]types.Trade, error) {
	trades := make([]types.Trade, 0, len(raw))
	for _, t := range raw {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade price %q on order %s", types.ErrPricing, t.Price, id)
		}
		quantity, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: bad trade quantity %q on order %s", types.ErrPricing, t.Quantity, id)
		}
		commission, err := decimal.NewFromString(t.Commission)
		if err != nil {
			return nil, fmt.Errorf("%w: bad commission %q on order %s", types.ErrPricing, t.Commission, id)
		}
		trades = append(trades, types.Trade{
			ID:               fmt.Sprintf("%s:%d", order.Symbol, t.ID),
			OrderID:          id,
			Symbol:           order.Symbol,
			Type:             order.Type,
			Side:             order.Side,
			Price:            price,
			Quantity:         quantity,
			Timestamp:        time.UnixMilli(t.Time).UTC(),
			TransactionCosts: commission,
		})
	}
	return trades, nil
}

func orderID(symbol string, exchangeID int64) string {
	return fmt.Sprintf("%s:%d", symbol, exchangeID)
}

func sideType(side types.Side) binance.SideType {
	if side == types.SideBuy {
		return binance.SideTypeBuy
	}
	return binance.SideTypeSell
}

func convertSide(side binance.SideType) types.Side {
	if side == binance.SideTypeBuy {
		return types.SideBuy
	}
	return types.SideSell
}

func convertType(t binance.OrderType) types.OrderType {
	switch t {
	case binance.OrderTypeLimit, binance.OrderTypeLimitMaker:
		return types.OrderTypeLimit
	case binance.OrderTypeStopLoss, binance.OrderTypeStopLossLimit:
		return types.OrderTypeStopLoss
	case binance.OrderTypeTakeProfit, binance.OrderTypeTakeProfitLimit:
		return types.OrderTypeTakeProfit
	default:
		return types.OrderTypeMarket
	}
}

func convertStatus(s binance.OrderStatusType) types.OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPartialFill
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return types.OrderStatusCancelled
	default:
		return types.OrderStatusPending
	}
}

var _ broker.Broker = (*Broker)(nil)
