package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/broker"
	"robotrader/internal/types"
)

func setupBroker(t *testing.T) *Broker {
	t.Helper()

	b := New(DefaultConfig(), nil)
	b.SetTimestamp(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	b.SetPrice("BTCGBP", decimal.NewFromInt(100))
	return b
}

func tick(b *Broker, t time.Time, price int64) {
	b.Update(t, map[string]decimal.Decimal{"BTCGBP": decimal.NewFromInt(price)})
}

func tickStr(b *Broker, t time.Time, price string) {
	b.Update(t, map[string]decimal.Decimal{"BTCGBP": decimal.RequireFromString(price)})
}

func TestCreateOrder_MarketFillsImmediately(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:   "BTCGBP",
		Type:     types.OrderTypeMarket,
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if order.Status != types.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", order.Status)
	}
	if len(order.Trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(order.Trades))
	}

	trade := order.Trades[0]
	if !trade.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %s, want 100", trade.Price)
	}
	// costs = 100 * 2 * 0.002
	wantCosts := decimal.RequireFromString("0.4")
	if !trade.TransactionCosts.Equal(wantCosts) {
		t.Errorf("costs = %s, want %s", trade.TransactionCosts, wantCosts)
	}
}

func TestCreateOrder_CashSizing(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:     "BTCGBP",
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		CashAmount: decimal.NewFromInt(250),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// 250 * (1 - 0.002) / 100 = 2.495
	want := decimal.RequireFromString("2.495")
	if !order.Quantity.Equal(want) {
		t.Errorf("quantity = %s, want %s", order.Quantity, want)
	}

	// Cash spent on the fill never exceeds the cash amount.
	trade := order.Trades[0]
	spent := trade.Price.Mul(trade.Quantity).Add(trade.TransactionCosts)
	if spent.GreaterThan(decimal.NewFromInt(250)) {
		t.Errorf("spent %s exceeds cash amount 250", spent)
	}
}

func TestCreateOrder_NoPriceIsPricingError(t *testing.T) {
	b := New(DefaultConfig(), nil)
	ctx := context.Background()

	_, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:   "ETHGBP",
		Type:     types.OrderTypeMarket,
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, types.ErrPricing) {
		t.Fatalf("error = %v, want ErrPricing", err)
	}

	b.SetPrice("ETHGBP", decimal.Zero)
	_, err = b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:   "ETHGBP",
		Type:     types.OrderTypeMarket,
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(1),
	})
	if !errors.Is(err, types.ErrPricing) {
		t.Fatalf("error with zero price = %v, want ErrPricing", err)
	}
}

func TestCreateOrder_LimitAtOrBetterFillsSynchronously(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	// Buy limit above the market fills immediately at the market price.
	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:     "BTCGBP",
		Type:       types.OrderTypeLimit,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.NewFromInt(105),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", order.Status)
	}
	if !order.Trades[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fill price = %s, want market price 100", order.Trades[0].Price)
	}

	// Buy limit below the market stays pending, then fills when the
	// price comes down to it.
	order, err = b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:     "BTCGBP",
		Type:       types.OrderTypeLimit,
		Side:       types.SideBuy,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.NewFromInt(95),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != types.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING", order.Status)
	}

	tick(b, b.Now().Add(time.Minute), 94)

	got, err := b.FetchOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("status after tick = %s, want FILLED", got.Status)
	}
	if !got.Trades[0].Price.Equal(decimal.NewFromInt(94)) {
		t.Errorf("fill price = %s, want 94", got.Trades[0].Price)
	}
}

func TestUpdate_StopLossTriggers(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	sell, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatalf("create sell stop: %v", err)
	}

	// Above the stop: stays pending.
	tick(b, b.Now().Add(time.Minute), 95)
	got, _ := b.FetchOrder(ctx, sell.ID)
	if got.Status != types.OrderStatusPending {
		t.Fatalf("status at 95 = %s, want PENDING", got.Status)
	}

	// Gap through the stop: fills at the current price, not the stop.
	tick(b, b.Now().Add(2*time.Minute), 85)
	got, _ = b.FetchOrder(ctx, sell.ID)
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("status at 85 = %s, want FILLED", got.Status)
	}
	if !got.Trades[0].Price.Equal(decimal.NewFromInt(85)) {
		t.Errorf("fill price = %s, want 85", got.Trades[0].Price)
	}
}

func TestUpdate_BuyStopTriggersAtOrAbove(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	buy, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideBuy,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(110),
	})
	if err != nil {
		t.Fatalf("create buy stop: %v", err)
	}

	tick(b, b.Now().Add(time.Minute), 110)
	got, _ := b.FetchOrder(ctx, buy.ID)
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("status at 110 = %s, want FILLED", got.Status)
	}
}

func TestUpdate_TakeProfitTriggers(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	tp, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:     "BTCGBP",
		Type:       types.OrderTypeTakeProfit,
		Side:       types.SideSell,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: decimal.NewFromInt(120),
	})
	if err != nil {
		t.Fatalf("create take profit: %v", err)
	}

	tick(b, b.Now().Add(time.Minute), 119)
	got, _ := b.FetchOrder(ctx, tp.ID)
	if got.Status != types.OrderStatusPending {
		t.Fatalf("status at 119 = %s, want PENDING", got.Status)
	}

	// Past the target fills at the current (better) price.
	tick(b, b.Now().Add(2*time.Minute), 125)
	got, _ = b.FetchOrder(ctx, tp.ID)
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("status at 125 = %s, want FILLED", got.Status)
	}
	if !got.Trades[0].Price.Equal(decimal.NewFromInt(125)) {
		t.Errorf("fill price = %s, want 125", got.Trades[0].Price)
	}
}

func TestTrailingStop_SeedAndRatchet(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:       "BTCGBP",
		Type:         types.OrderTypeTrailingStop,
		Side:         types.SideSell,
		Quantity:     decimal.NewFromInt(1),
		TrailPercent: decimal.RequireFromString("0.01"),
	})
	if err != nil {
		t.Fatalf("create trailing stop: %v", err)
	}

	// Seeded at 100 * (1 - 0.01) = 99.
	if !order.StopPrice.Equal(decimal.NewFromInt(99)) {
		t.Fatalf("seed stop = %s, want 99", order.StopPrice)
	}

	// Price rises: stop ratchets up.
	tick(b, b.Now().Add(time.Minute), 110)
	got, _ := b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusPending {
		t.Fatalf("status at 110 = %s, want PENDING", got.Status)
	}
	if !got.StopPrice.Equal(decimal.RequireFromString("108.9")) {
		t.Errorf("stop after rise = %s, want 108.9", got.StopPrice)
	}

	// Price dips but stays above the stop: stop never loosens.
	tick(b, b.Now().Add(2*time.Minute), 109)
	got, _ = b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusPending {
		t.Fatalf("status at 109 = %s, want PENDING", got.Status)
	}
	if !got.StopPrice.Equal(decimal.RequireFromString("108.9")) {
		t.Errorf("stop after dip = %s, want unchanged 108.9", got.StopPrice)
	}
}

func TestTrailingStop_MonotoneOverNoisySeries(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:       "BTCGBP",
		Type:         types.OrderTypeTrailingStop,
		Side:         types.SideSell,
		Quantity:     decimal.NewFromInt(1),
		TrailPercent: decimal.RequireFromString("0.05"),
	})
	if err != nil {
		t.Fatalf("create trailing stop: %v", err)
	}

	prices := []string{"101", "99", "104", "102", "108", "105", "107"}
	prev := order.StopPrice
	ts := b.Now()
	for i, p := range prices {
		ts = ts.Add(time.Duration(i+1) * time.Minute)
		tickStr(b, ts, p)

		got, err := b.FetchOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("fetch order: %v", err)
		}
		if got.Status != types.OrderStatusPending {
			t.Fatalf("filled unexpectedly at %s with stop %s", p, got.StopPrice)
		}
		if got.StopPrice.LessThan(prev) {
			t.Fatalf("stop loosened from %s to %s at price %s", prev, got.StopPrice, p)
		}
		prev = got.StopPrice
	}
}

func TestTrailingStop_FillInterpolatedAndBackdated(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PenaltyRelief = decimal.RequireFromString("0.75")
	cfg.BackdateOffset = time.Second
	b := New(cfg, nil)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	b.SetTimestamp(start)
	b.SetPrice("BTCGBP", decimal.NewFromInt(100))
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:       "BTCGBP",
		Type:         types.OrderTypeTrailingStop,
		Side:         types.SideSell,
		Quantity:     decimal.NewFromInt(1),
		TrailPercent: decimal.RequireFromString("0.05"),
	})
	if err != nil {
		t.Fatalf("create trailing stop: %v", err)
	}
	// Stop seeded at 95.

	fillTime := start.Add(time.Minute)
	tick(b, fillTime, 90)

	got, _ := b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", got.Status)
	}

	trade := got.Trades[0]
	// 95 + (90 - 95) * 0.75 = 91.25
	want := decimal.RequireFromString("91.25")
	if !trade.Price.Equal(want) {
		t.Errorf("fill price = %s, want %s", trade.Price, want)
	}
	if !trade.Timestamp.Equal(fillTime.Add(-time.Second)) {
		t.Errorf("trade timestamp = %s, want backdated %s", trade.Timestamp, fillTime.Add(-time.Second))
	}
}

func TestTrailingStop_RatchetXorFillSameTick(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:       "BTCGBP",
		Type:         types.OrderTypeTrailingStop,
		Side:         types.SideSell,
		Quantity:     decimal.NewFromInt(1),
		TrailPercent: decimal.RequireFromString("0.05"),
	})
	if err != nil {
		t.Fatalf("create trailing stop: %v", err)
	}
	// Stop at 95. A tick at 96 computes candidate 91.2, no ratchet,
	// and 96 > 95, so no fill either.
	tick(b, b.Now().Add(time.Minute), 96)

	got, _ := b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusPending {
		t.Fatalf("status = %s, want PENDING", got.Status)
	}
	if !got.StopPrice.Equal(decimal.NewFromInt(95)) {
		t.Errorf("stop = %s, want unchanged 95", got.StopPrice)
	}
}

func TestFill_IdempotentForTerminalOrders(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Trigger repeatedly; exactly one trade must result.
	for i := 1; i <= 3; i++ {
		tick(b, b.Now().Add(time.Duration(i)*time.Minute), 85)
	}

	got, _ := b.FetchOrder(ctx, order.ID)
	if len(got.Trades) != 1 {
		t.Fatalf("trades = %d, want exactly 1", len(got.Trades))
	}
}

func TestEditOrder_TightenOnly(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// Tightening a sell stop means raising it.
	if err := b.EditOrder(ctx, order.ID, decimal.NewFromInt(92)); err != nil {
		t.Fatalf("tighten: %v", err)
	}

	// Loosening is an invariant violation.
	err = b.EditOrder(ctx, order.ID, decimal.NewFromInt(88))
	if !errors.Is(err, types.ErrInvariant) {
		t.Fatalf("loosen error = %v, want ErrInvariant", err)
	}

	got, _ := b.FetchOrder(ctx, order.ID)
	if !got.StopPrice.Equal(decimal.NewFromInt(92)) {
		t.Errorf("stop = %s, want 92", got.StopPrice)
	}
}

func TestCancelOrder(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if err := b.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", got.Status)
	}

	// Cancelled orders never fill.
	tick(b, b.Now().Add(time.Minute), 80)
	got, _ = b.FetchOrder(ctx, order.ID)
	if len(got.Trades) != 0 {
		t.Errorf("cancelled order filled: %d trades", len(got.Trades))
	}

	// Double cancel is a no-op.
	if err := b.CancelOrder(ctx, order.ID); err != nil {
		t.Errorf("double cancel: %v", err)
	}
}

func TestCancelOrder_TerminalIsNoOp(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:   "BTCGBP",
		Type:     types.OrderTypeMarket,
		Side:     types.SideBuy,
		Quantity: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Status != types.OrderStatusFilled {
		t.Fatalf("status = %s, want FILLED", order.Status)
	}

	if err := b.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("cancel filled order: %v", err)
	}
	got, _ := b.FetchOrder(ctx, order.ID)
	if got.Status != types.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED unchanged", got.Status)
	}

	if err := b.CancelOrder(ctx, "no-such-order"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestFetchOrder_UnknownID(t *testing.T) {
	b := setupBroker(t)

	_, err := b.FetchOrder(context.Background(), "no-such-order")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFetchOrder_ReturnsCopy(t *testing.T) {
	b := setupBroker(t)
	ctx := context.Background()

	order, err := b.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:    "BTCGBP",
		Type:      types.OrderTypeStopLoss,
		Side:      types.SideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, _ := b.FetchOrder(ctx, order.ID)
	got.StopPrice = decimal.NewFromInt(50)

	again, _ := b.FetchOrder(ctx, order.ID)
	if !again.StopPrice.Equal(decimal.NewFromInt(90)) {
		t.Errorf("caller mutation leaked into broker state: stop = %s", again.StopPrice)
	}
}
