// Package portfolio owns cash, holdings, orders and positions, and
// reconciles broker fills into portfolio state exactly once.
package portfolio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"robotrader/internal/broker"
	"robotrader/internal/metrics"
	"robotrader/internal/persistence"
	"robotrader/internal/types"
)

// Config holds portfolio configuration.
type Config struct {
	// Identity keys the persisted snapshot.
	Identity string

	InitialCash decimal.Decimal

	// RatchetThreshold is the fractional stop improvement required
	// before a trailing stop is cancelled and resubmitted tighter
	// (0.001 = 0.1%).
	RatchetThreshold decimal.Decimal

	// AutoSave persists a snapshot at the end of every Update.
	AutoSave bool
}

// DefaultConfig returns a portfolio configuration with defaults.
func DefaultConfig(identity string, initialCash decimal.Decimal) Config {
	return Config{
		Identity:         identity,
		InitialCash:      initialCash,
		RatchetThreshold: decimal.RequireFromString("0.001"),
	}
}

// Portfolio orchestrates positions against a broker. All exported
// methods serialize on an internal mutex; callers drive it strictly
// sequentially, one tick at a time.
type Portfolio struct {
	cfg      Config
	broker   broker.Broker
	store    persistence.Store
	recorder *metrics.Recorder
	logger   *slog.Logger

	mu           sync.Mutex
	inception    time.Time
	cash         decimal.Decimal
	holdings     map[string]decimal.Decimal
	orders       map[string]*types.Order
	orderSeq     []string
	processed    map[string]struct{}
	processedSeq []string
	positions    []*Position
	active       map[string]*Position
	valuations   []persistence.ValuationRecord
}

// New creates a portfolio. store may be nil when persistence is not
// wanted; recorder may be nil when metrics are not wanted.
func New(cfg Config, b broker.Broker, store persistence.Store, recorder *metrics.Recorder, logger *slog.Logger) *Portfolio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Portfolio{
		cfg:       cfg,
		broker:    b,
		store:     store,
		recorder:  recorder,
		logger:    logger,
		inception: time.Now().UTC(),
		cash:      cfg.InitialCash,
		holdings:  make(map[string]decimal.Decimal),
		orders:    make(map[string]*types.Order),
		processed: make(map[string]struct{}),
		active:    make(map[string]*Position),
	}
}

// OpenLong invests cashPercentage of current cash into symbol with a
// market buy, guarded by the exit config. No-op when a position for
// the symbol is already open.
func (p *Portfolio) OpenLong(ctx context.Context, symbol string, cashPercentage decimal.Decimal, exit ExitConfig) error {
	if !cashPercentage.IsPositive() || cashPercentage.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: cash percentage %s must be in (0, 1]", types.ErrValidation, cashPercentage)
	}
	if err := exit.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pos, ok := p.active[symbol]; ok {
		p.logger.Debug("open skipped, position already open",
			"symbol", symbol, "state", pos.State.String())
		return nil
	}

	amount := p.cash.Mul(cashPercentage)
	order, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:     symbol,
		Type:       types.OrderTypeMarket,
		Side:       types.SideBuy,
		CashAmount: amount,
	})
	if err != nil {
		p.recorder.RecordBrokerError("create_order")
		return err
	}
	p.trackOrderLocked(order)

	pos := &Position{
		ID:             uuid.NewString(),
		Symbol:         symbol,
		State:          types.PositionOpening,
		AmountInvested: amount,
		OpenedAt:       order.CreatedAt,
		EntryOrderID:   order.ID,
		Exit:           exit,
	}
	p.positions = append(p.positions, pos)
	p.active[symbol] = pos
	p.recorder.RecordPositionOpened(symbol)

	p.logger.Info("opening long",
		"symbol", symbol,
		"amount", amount,
		"order_id", order.ID,
	)

	return p.reconcileLocked(ctx)
}

// CloseLong liquidates the full holding for symbol with a market sell.
// No-op when the symbol is not in a long position.
func (p *Portfolio) CloseLong(ctx context.Context, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Pick up any protective fill that happened since the last update,
	// so a freshly stopped-out position is not closed twice.
	if err := p.reconcileLocked(ctx); err != nil {
		return err
	}

	pos, ok := p.active[symbol]
	if !ok || pos.State != types.PositionLong {
		p.logger.Debug("close skipped, not long", "symbol", symbol)
		return nil
	}

	if err := p.cancelPendingExitsLocked(ctx, pos); err != nil {
		return err
	}

	qty := p.holdings[symbol]
	if !qty.IsPositive() {
		return fmt.Errorf("%w: long position %s with no holdings for %s", types.ErrInvariant, pos.ID, symbol)
	}

	order, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
		Symbol:   symbol,
		Type:     types.OrderTypeMarket,
		Side:     types.SideSell,
		Quantity: qty,
	})
	if err != nil {
		p.recorder.RecordBrokerError("create_order")
		return err
	}
	p.trackOrderLocked(order)
	pos.CloseOrderID = order.ID
	pos.State = types.PositionClosing

	p.logger.Info("closing long",
		"symbol", symbol,
		"quantity", qty,
		"order_id", order.ID,
	)

	return p.reconcileLocked(ctx)
}

// Update advances the portfolio one tick: reconcile fills, place
// missing protective orders, tighten trailing stops, record the
// valuation, and autosave if configured. prices must cover every held
// symbol.
func (p *Portfolio) Update(ctx context.Context, ts time.Time, prices map[string]decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.reconcileLocked(ctx); err != nil {
		return err
	}
	if err := p.protectLocked(ctx); err != nil {
		return err
	}
	if err := p.ratchetLocked(ctx, prices); err != nil {
		return err
	}

	valuation, err := p.valuationLocked(prices)
	if err != nil {
		return err
	}

	record := persistence.ValuationRecord{
		Timestamp: ts,
		Valuation: valuation,
		Cash:      p.cash,
		Prices:    copyDecimalMap(prices),
		Holdings:  copyDecimalMap(p.holdings),
	}
	p.valuations = append(p.valuations, record)

	p.recorder.RecordCash(p.cash)
	p.recorder.RecordValuation(valuation)

	if p.cfg.AutoSave && p.store != nil {
		return p.saveLocked(ctx)
	}
	return nil
}

// reconcileLocked polls the broker for all non-terminal orders and
// applies unseen trades exactly once.
func (p *Portfolio) reconcileLocked(ctx context.Context) error {
	start := time.Now()

	for _, id := range p.orderSeq {
		order := p.orders[id]
		if !order.Status.IsFinal() {
			fresh, err := p.broker.FetchOrder(ctx, id)
			if err != nil {
				p.recorder.RecordBrokerError("fetch_order")
				return fmt.Errorf("reconcile order %s: %w", id, err)
			}
			p.orders[id] = fresh
			order = fresh
		}

		for _, trade := range order.Trades {
			if _, seen := p.processed[trade.ID]; seen {
				continue
			}
			if err := p.applyTradeLocked(ctx, order, trade); err != nil {
				return err
			}
			p.processed[trade.ID] = struct{}{}
			p.processedSeq = append(p.processedSeq, trade.ID)
		}
	}

	p.recorder.RecordReconcile(time.Since(start))
	return nil
}

// applyTradeLocked applies one trade to cash, holdings and positions.
func (p *Portfolio) applyTradeLocked(ctx context.Context, order *types.Order, trade types.Trade) error {
	notional := trade.Price.Mul(trade.Quantity)

	switch trade.Side {
	case types.SideBuy:
		total := notional.Add(trade.TransactionCosts)
		if p.cash.LessThan(total) {
			return fmt.Errorf("%w: trade %s needs %s cash, have %s", types.ErrInvariant, trade.ID, total, p.cash)
		}
		p.cash = p.cash.Sub(total)
		p.holdings[trade.Symbol] = p.holdings[trade.Symbol].Add(trade.Quantity)

		if pos, ok := p.active[trade.Symbol]; ok && pos.State == types.PositionOpening && pos.EntryOrderID == order.ID {
			pos.Quantity = trade.Quantity
			pos.OpenPrice = pos.AmountInvested.Div(trade.Quantity)
			pos.State = types.PositionLong
		}

	case types.SideSell:
		held := p.holdings[trade.Symbol]
		if held.LessThan(trade.Quantity) {
			return fmt.Errorf("%w: trade %s sells %s of %s, hold %s", types.ErrInvariant, trade.ID, trade.Quantity, trade.Symbol, held)
		}
		remaining := held.Sub(trade.Quantity)
		if remaining.IsZero() {
			delete(p.holdings, trade.Symbol)
		} else {
			p.holdings[trade.Symbol] = remaining
		}
		p.cash = p.cash.Add(notional.Sub(trade.TransactionCosts))

		if pos, ok := p.active[trade.Symbol]; ok {
			pos.ClosePrice = trade.Price
			pos.ClosedAt = trade.Timestamp
			pos.State = types.PositionFlat
			delete(p.active, trade.Symbol)
			p.recorder.RecordPositionClosed(trade.Symbol)

			if order.Type == types.OrderTypeTakeProfit || order.Type == types.OrderTypeStopLoss {
				if err := p.cancelOCOSiblingLocked(ctx, pos, order); err != nil {
					return err
				}
			}
		}
	}

	p.recorder.RecordTradeApplied(trade.Symbol, trade.Side.String())
	p.logger.Debug("trade applied",
		"trade_id", trade.ID,
		"order_id", order.ID,
		"symbol", trade.Symbol,
		"side", trade.Side.String(),
		"price", trade.Price,
		"quantity", trade.Quantity,
		"cash", p.cash,
	)
	return nil
}

// cancelOCOSiblingLocked cancels the pending protective order paired
// with the one that just filled.
func (p *Portfolio) cancelOCOSiblingLocked(ctx context.Context, pos *Position, filled *types.Order) error {
	sibling := types.OrderTypeStopLoss
	if filled.Type == types.OrderTypeStopLoss {
		sibling = types.OrderTypeTakeProfit
	}

	for _, id := range pos.ExitOrderIDs {
		order, ok := p.orders[id]
		if !ok || order.Type != sibling || order.Status.IsFinal() {
			continue
		}
		if err := p.broker.CancelOrder(ctx, id); err != nil {
			p.recorder.RecordBrokerError("cancel_order")
			return fmt.Errorf("cancel oco sibling %s: %w", id, err)
		}
		if err := p.refreshOrderLocked(ctx, id); err != nil {
			return err
		}
		p.logger.Info("oco sibling cancelled",
			"symbol", pos.Symbol,
			"filled_order", filled.ID,
			"cancelled_order", id,
		)
	}
	return nil
}

// protectLocked submits protective orders for long positions that have
// a registered fill and no live protection.
func (p *Portfolio) protectLocked(ctx context.Context) error {
	for symbol, pos := range p.active {
		if pos.State != types.PositionLong || !pos.Quantity.IsPositive() {
			continue
		}
		if p.hasPendingExitLocked(pos) {
			continue
		}

		if pos.Exit.IsTrailing() {
			order, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
				Symbol:       symbol,
				Type:         types.OrderTypeTrailingStop,
				Side:         types.SideSell,
				Quantity:     pos.Quantity,
				TrailPercent: pos.Exit.TrailPercent,
			})
			if err != nil {
				p.recorder.RecordBrokerError("create_order")
				return fmt.Errorf("place trailing stop for %s: %w", symbol, err)
			}
			p.trackOrderLocked(order)
			pos.ExitOrderIDs = append(pos.ExitOrderIDs, order.ID)
			p.recorder.RecordTrailingStop(symbol, order.StopPrice)
			p.logger.Info("trailing stop placed",
				"symbol", symbol, "stop", order.StopPrice, "order_id", order.ID)
			continue
		}

		takeProfit, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
			Symbol:     symbol,
			Type:       types.OrderTypeTakeProfit,
			Side:       types.SideSell,
			Quantity:   pos.Quantity,
			LimitPrice: pos.Exit.TakeProfitPrice,
		})
		if err != nil {
			p.recorder.RecordBrokerError("create_order")
			return fmt.Errorf("place take profit for %s: %w", symbol, err)
		}
		p.trackOrderLocked(takeProfit)
		pos.ExitOrderIDs = append(pos.ExitOrderIDs, takeProfit.ID)

		stopLoss, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
			Symbol:    symbol,
			Type:      types.OrderTypeStopLoss,
			Side:      types.SideSell,
			Quantity:  pos.Quantity,
			StopPrice: pos.Exit.StopLossPrice,
		})
		if err != nil {
			p.recorder.RecordBrokerError("create_order")
			return fmt.Errorf("place stop loss for %s: %w", symbol, err)
		}
		p.trackOrderLocked(stopLoss)
		pos.ExitOrderIDs = append(pos.ExitOrderIDs, stopLoss.ID)

		p.logger.Info("oco protection placed",
			"symbol", symbol,
			"take_profit", pos.Exit.TakeProfitPrice,
			"stop_loss", pos.Exit.StopLossPrice,
		)
	}
	return nil
}

// ratchetLocked cancels and resubmits trailing stops whose computed
// level has improved past the configured threshold. Stops only
// tighten.
func (p *Portfolio) ratchetLocked(ctx context.Context, prices map[string]decimal.Decimal) error {
	one := decimal.NewFromInt(1)

	for symbol, pos := range p.active {
		if pos.State != types.PositionLong || !pos.Exit.IsTrailing() {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			continue
		}

		current := p.pendingTrailingLocked(pos)
		if current == nil {
			continue
		}

		desired := price.Mul(one.Sub(pos.Exit.TrailPercent))
		threshold := current.StopPrice.Mul(one.Add(p.cfg.RatchetThreshold))
		if desired.LessThanOrEqual(threshold) {
			continue
		}

		if err := p.broker.CancelOrder(ctx, current.ID); err != nil {
			p.recorder.RecordBrokerError("cancel_order")
			return fmt.Errorf("ratchet cancel %s: %w", current.ID, err)
		}
		if err := p.refreshOrderLocked(ctx, current.ID); err != nil {
			return err
		}

		order, err := p.broker.CreateOrder(ctx, broker.CreateOrderRequest{
			Symbol:       symbol,
			Type:         types.OrderTypeTrailingStop,
			Side:         types.SideSell,
			Quantity:     pos.Quantity,
			TrailPercent: pos.Exit.TrailPercent,
			StopPrice:    desired,
		})
		if err != nil {
			p.recorder.RecordBrokerError("create_order")
			return fmt.Errorf("ratchet resubmit for %s: %w", symbol, err)
		}
		p.trackOrderLocked(order)
		pos.ExitOrderIDs = append(pos.ExitOrderIDs, order.ID)
		p.recorder.RecordTrailingStop(symbol, order.StopPrice)

		p.logger.Info("trailing stop ratcheted",
			"symbol", symbol,
			"old_stop", current.StopPrice,
			"new_stop", order.StopPrice,
		)
	}
	return nil
}

// Valuation returns cash plus holdings at the broker's live prices.
func (p *Portfolio) Valuation(ctx context.Context) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cash
	for symbol, qty := range p.holdings {
		if qty.IsZero() {
			continue
		}
		price, err := p.broker.GetPrice(ctx, symbol)
		if err != nil {
			p.recorder.RecordBrokerError("get_price")
			return decimal.Zero, err
		}
		total = total.Add(qty.Mul(price))
	}
	return total, nil
}

// ValuationAt reconstructs the portfolio valuation at a past time from
// the valuation history and the supplied prices.
func (p *Portfolio) ValuationAt(ts time.Time, prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	if prices == nil {
		return decimal.Zero, fmt.Errorf("%w: prices are required for a point-in-time valuation", types.ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cashAt := p.cfg.InitialCash
	var holdingsAt map[string]decimal.Decimal
	for i := range p.valuations {
		if p.valuations[i].Timestamp.After(ts) {
			break
		}
		cashAt = p.valuations[i].Cash
		holdingsAt = p.valuations[i].Holdings
	}

	total := cashAt
	for symbol, qty := range holdingsAt {
		if qty.IsZero() {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no price for held symbol %s", types.ErrValidation, symbol)
		}
		total = total.Add(qty.Mul(price))
	}
	return total, nil
}

// Save persists the full portfolio snapshot.
func (p *Portfolio) Save(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx)
}

func (p *Portfolio) saveLocked(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("%w: no store configured", types.ErrValidation)
	}
	if err := p.store.Save(ctx, p.snapshotLocked()); err != nil {
		return fmt.Errorf("save portfolio %s: %w", p.cfg.Identity, err)
	}
	return nil
}

func (p *Portfolio) snapshotLocked() persistence.Snapshot {
	snapshot := persistence.Snapshot{
		Identity:          p.cfg.Identity,
		InceptionDate:     p.inception,
		InitialCash:       p.cfg.InitialCash,
		Cash:              p.cash,
		Holdings:          copyDecimalMap(p.holdings),
		ProcessedTradeIDs: append([]string(nil), p.processedSeq...),
		Valuations:        append([]persistence.ValuationRecord(nil), p.valuations...),
		SavedAt:           time.Now().UTC(),
	}

	for _, id := range p.orderSeq {
		snapshot.Orders = append(snapshot.Orders, *p.orders[id].Clone())
	}

	for _, pos := range p.positions {
		snapshot.Positions = append(snapshot.Positions, persistence.PositionRecord{
			ID:              pos.ID,
			Symbol:          pos.Symbol,
			State:           pos.State,
			AmountInvested:  pos.AmountInvested,
			Quantity:        pos.Quantity,
			OpenPrice:       pos.OpenPrice,
			ClosePrice:      pos.ClosePrice,
			OpenedAt:        pos.OpenedAt,
			ClosedAt:        pos.ClosedAt,
			EntryOrderID:    pos.EntryOrderID,
			CloseOrderID:    pos.CloseOrderID,
			ExitOrderIDs:    append([]string(nil), pos.ExitOrderIDs...),
			TrailPercent:    pos.Exit.TrailPercent,
			TakeProfitPrice: pos.Exit.TakeProfitPrice,
			StopLossPrice:   pos.Exit.StopLossPrice,
		})
	}

	return snapshot
}

// Load reconstructs a portfolio from its persisted snapshot. The
// restored portfolio behaves on subsequent Update calls exactly as if
// it had never stopped.
func Load(ctx context.Context, store persistence.Store, cfg Config, b broker.Broker, recorder *metrics.Recorder, logger *slog.Logger) (*Portfolio, error) {
	snapshot, err := store.Load(ctx, cfg.Identity)
	if err != nil {
		return nil, err
	}

	cfg.InitialCash = snapshot.InitialCash
	p := New(cfg, b, store, recorder, logger)
	p.inception = snapshot.InceptionDate
	p.cash = snapshot.Cash
	p.holdings = copyDecimalMap(snapshot.Holdings)

	for i := range snapshot.Orders {
		order := snapshot.Orders[i].Clone()
		p.orders[order.ID] = order
		p.orderSeq = append(p.orderSeq, order.ID)
	}

	for _, id := range snapshot.ProcessedTradeIDs {
		p.processed[id] = struct{}{}
		p.processedSeq = append(p.processedSeq, id)
	}

	for _, rec := range snapshot.Positions {
		pos := &Position{
			ID:             rec.ID,
			Symbol:         rec.Symbol,
			State:          rec.State,
			AmountInvested: rec.AmountInvested,
			Quantity:       rec.Quantity,
			OpenPrice:      rec.OpenPrice,
			ClosePrice:     rec.ClosePrice,
			OpenedAt:       rec.OpenedAt,
			ClosedAt:       rec.ClosedAt,
			EntryOrderID:   rec.EntryOrderID,
			CloseOrderID:   rec.CloseOrderID,
			ExitOrderIDs:   append([]string(nil), rec.ExitOrderIDs...),
			Exit: ExitConfig{
				TrailPercent:    rec.TrailPercent,
				TakeProfitPrice: rec.TakeProfitPrice,
				StopLossPrice:   rec.StopLossPrice,
			},
		}
		p.positions = append(p.positions, pos)
		if pos.IsOpen() {
			p.active[pos.Symbol] = pos
		}
	}

	p.valuations = append(p.valuations, snapshot.Valuations...)

	p.logger.Info("portfolio restored",
		"identity", cfg.Identity,
		"cash", p.cash,
		"open_positions", len(p.active),
	)
	return p, nil
}

// Cash returns the current cash balance.
func (p *Portfolio) Cash() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// InitialCash returns the starting cash balance.
func (p *Portfolio) InitialCash() decimal.Decimal {
	return p.cfg.InitialCash
}

// Identity returns the portfolio identity.
func (p *Portfolio) Identity() string {
	return p.cfg.Identity
}

// Holding returns the held quantity for a symbol.
func (p *Portfolio) Holding(symbol string) decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[symbol]
}

// Holdings returns a copy of all holdings.
func (p *Portfolio) Holdings() map[string]decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyDecimalMap(p.holdings)
}

// IsLong reports whether the symbol has a position with a registered
// fill.
func (p *Portfolio) IsLong(symbol string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.active[symbol]
	return ok && pos.State == types.PositionLong
}

// Positions returns copies of all positions, open and closed.
func (p *Portfolio) Positions() []*Position {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos.clone())
	}
	return out
}

// Orders returns copies of all tracked orders in creation order.
func (p *Portfolio) Orders() []*types.Order {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*types.Order, 0, len(p.orderSeq))
	for _, id := range p.orderSeq {
		out = append(out, p.orders[id].Clone())
	}
	return out
}

// ValuationHistory returns a copy of the valuation records.
func (p *Portfolio) ValuationHistory() []persistence.ValuationRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]persistence.ValuationRecord(nil), p.valuations...)
}

// ProcessedTradeIDs returns the applied trade ids in application order.
func (p *Portfolio) ProcessedTradeIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processedSeq...)
}

func (p *Portfolio) trackOrderLocked(order *types.Order) {
	p.orders[order.ID] = order.Clone()
	p.orderSeq = append(p.orderSeq, order.ID)
	p.recorder.RecordOrder(order.Symbol, order.Type.String(), order.Side.String(), order.Status.String())
}

func (p *Portfolio) refreshOrderLocked(ctx context.Context, id string) error {
	fresh, err := p.broker.FetchOrder(ctx, id)
	if err != nil {
		p.recorder.RecordBrokerError("fetch_order")
		return fmt.Errorf("refresh order %s: %w", id, err)
	}
	p.orders[id] = fresh
	return nil
}

func (p *Portfolio) cancelPendingExitsLocked(ctx context.Context, pos *Position) error {
	for _, id := range pos.ExitOrderIDs {
		order, ok := p.orders[id]
		if !ok || order.Status.IsFinal() {
			continue
		}
		if err := p.broker.CancelOrder(ctx, id); err != nil {
			p.recorder.RecordBrokerError("cancel_order")
			return fmt.Errorf("cancel protective order %s: %w", id, err)
		}
		if err := p.refreshOrderLocked(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Portfolio) hasPendingExitLocked(pos *Position) bool {
	for _, id := range pos.ExitOrderIDs {
		if order, ok := p.orders[id]; ok && !order.Status.IsFinal() {
			return true
		}
	}
	return false
}

func (p *Portfolio) pendingTrailingLocked(pos *Position) *types.Order {
	for _, id := range pos.ExitOrderIDs {
		order, ok := p.orders[id]
		if ok && order.Type == types.OrderTypeTrailingStop && !order.Status.IsFinal() {
			return order
		}
	}
	return nil
}

func (p *Portfolio) valuationLocked(prices map[string]decimal.Decimal) (decimal.Decimal, error) {
	total := p.cash
	for symbol, qty := range p.holdings {
		if qty.IsZero() {
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: no price for held symbol %s", types.ErrValidation, symbol)
		}
		total = total.Add(qty.Mul(price))
	}
	return total, nil
}

func copyDecimalMap(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
