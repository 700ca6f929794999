package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements Store using SQLite. Each Save replaces the
// identity's rows inside one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite snapshot store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS portfolios (
			identity TEXT PRIMARY KEY,
			inception_date DATETIME NOT NULL,
			initial_cash TEXT NOT NULL,
			cash TEXT NOT NULL,
			saved_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS holdings (
			identity TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity TEXT NOT NULL,
			PRIMARY KEY (identity, symbol)
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			identity TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			order_type INTEGER NOT NULL,
			side INTEGER NOT NULL,
			quantity TEXT NOT NULL,
			trail_percent TEXT NOT NULL,
			limit_price TEXT NOT NULL,
			stop_price TEXT NOT NULL,
			status INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			trades TEXT NOT NULL,
			PRIMARY KEY (identity, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS processed_trades (
			identity TEXT NOT NULL,
			seq INTEGER NOT NULL,
			trade_id TEXT NOT NULL,
			PRIMARY KEY (identity, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_trades_id ON processed_trades(identity, trade_id)`,

		`CREATE TABLE IF NOT EXISTS positions (
			identity TEXT NOT NULL,
			seq INTEGER NOT NULL,
			id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			state INTEGER NOT NULL,
			amount_invested TEXT NOT NULL,
			quantity TEXT NOT NULL,
			open_price TEXT NOT NULL,
			close_price TEXT NOT NULL,
			opened_at DATETIME NOT NULL,
			closed_at DATETIME NOT NULL,
			entry_order_id TEXT NOT NULL,
			close_order_id TEXT NOT NULL,
			exit_order_ids TEXT NOT NULL,
			trail_percent TEXT NOT NULL,
			take_profit_price TEXT NOT NULL,
			stop_loss_price TEXT NOT NULL,
			PRIMARY KEY (identity, seq)
		)`,

		`CREATE TABLE IF NOT EXISTS valuations (
			identity TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp DATETIME NOT NULL,
			valuation TEXT NOT NULL,
			cash TEXT NOT NULL,
			prices TEXT NOT NULL,
			holdings TEXT NOT NULL,
			PRIMARY KEY (identity, seq)
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Save replaces the snapshot for the identity transactionally.
func (s *SQLiteStore) Save(ctx context.Context, snapshot Snapshot) error {
	if snapshot.Identity == "" {
		return fmt.Errorf("%w: snapshot has no identity", types.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"portfolios", "holdings", "orders", "processed_trades", "positions", "valuations"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE identity = ?", snapshot.Identity); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO portfolios (identity, inception_date, initial_cash, cash, saved_at) VALUES (?, ?, ?, ?, ?)`,
		snapshot.Identity,
		snapshot.InceptionDate,
		snapshot.InitialCash.String(),
		snapshot.Cash.String(),
		snapshot.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("insert portfolio: %w", err)
	}

	for symbol, qty := range snapshot.Holdings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO holdings (identity, symbol, quantity) VALUES (?, ?, ?)`,
			snapshot.Identity, symbol, qty.String(),
		); err != nil {
			return fmt.Errorf("insert holding %s: %w", symbol, err)
		}
	}

	for i, o := range snapshot.Orders {
		trades, err := json.Marshal(o.Trades)
		if err != nil {
			return fmt.Errorf("marshal trades for order %s: %w", o.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (identity, seq, id, symbol, order_type, side, quantity, trail_percent, limit_price, stop_price, status, created_at, trades)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Identity, i, o.ID, o.Symbol, int(o.Type), int(o.Side),
			o.Quantity.String(), o.TrailPercent.String(), o.LimitPrice.String(), o.StopPrice.String(),
			int(o.Status), o.CreatedAt, string(trades),
		); err != nil {
			return fmt.Errorf("insert order %s: %w", o.ID, err)
		}
	}

	for i, id := range snapshot.ProcessedTradeIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO processed_trades (identity, seq, trade_id) VALUES (?, ?, ?)`,
			snapshot.Identity, i, id,
		); err != nil {
			return fmt.Errorf("insert processed trade id: %w", err)
		}
	}

	for i, p := range snapshot.Positions {
		exitIDs, err := json.Marshal(p.ExitOrderIDs)
		if err != nil {
			return fmt.Errorf("marshal exit order ids: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (identity, seq, id, symbol, state, amount_invested, quantity, open_price, close_price, opened_at, closed_at, entry_order_id, close_order_id, exit_order_ids, trail_percent, take_profit_price, stop_loss_price)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Identity, i, p.ID, p.Symbol, int(p.State),
			p.AmountInvested.String(), p.Quantity.String(), p.OpenPrice.String(), p.ClosePrice.String(),
			p.OpenedAt, p.ClosedAt, p.EntryOrderID, p.CloseOrderID, string(exitIDs),
			p.TrailPercent.String(), p.TakeProfitPrice.String(), p.StopLossPrice.String(),
		); err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}
	}

	for i, v := range snapshot.Valuations {
		prices, err := json.Marshal(decimalMapToStrings(v.Prices))
		if err != nil {
			return fmt.Errorf("marshal prices: %w", err)
		}
		holdings, err := json.Marshal(decimalMapToStrings(v.Holdings))
		if err != nil {
			return fmt.Errorf("marshal holdings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO valuations (identity, seq, timestamp, valuation, cash, prices, holdings)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Identity, i, v.Timestamp, v.Valuation.String(), v.Cash.String(),
			string(prices), string(holdings),
		); err != nil {
			return fmt.Errorf("insert valuation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Load reads the snapshot for an identity.
func (s *SQLiteStore) Load(ctx context.Context, identity string) (*Snapshot, error) {
	snapshot := Snapshot{
		Identity: identity,
		Holdings: make(map[string]decimal.Decimal),
	}

	var initialCash, cash string
	err := s.db.QueryRowContext(ctx,
		`SELECT inception_date, initial_cash, cash, saved_at FROM portfolios WHERE identity = ?`,
		identity,
	).Scan(&snapshot.InceptionDate, &initialCash, &cash, &snapshot.SavedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: snapshot for %s", types.ErrNotFound, identity)
	}
	if err != nil {
		return nil, fmt.Errorf("query portfolio: %w", err)
	}

	if snapshot.InitialCash, err = decimal.NewFromString(initialCash); err != nil {
		return nil, fmt.Errorf("parse initial cash: %w", err)
	}
	if snapshot.Cash, err = decimal.NewFromString(cash); err != nil {
		return nil, fmt.Errorf("parse cash: %w", err)
	}

	if err := s.loadHoldings(ctx, &snapshot); err != nil {
		return nil, err
	}
	if err := s.loadOrders(ctx, &snapshot); err != nil {
		return nil, err
	}
	if snapshot.ProcessedTradeIDs, err = s.loadIDs(ctx, "processed_trades", "trade_id", identity); err != nil {
		return nil, err
	}
	if err := s.loadPositions(ctx, &snapshot); err != nil {
		return nil, err
	}
	if err := s.loadValuations(ctx, &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *SQLiteStore) loadHoldings(ctx context.Context, snapshot *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, quantity FROM holdings WHERE identity = ?`, snapshot.Identity)
	if err != nil {
		return fmt.Errorf("query holdings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var symbol, qty string
		if err := rows.Scan(&symbol, &qty); err != nil {
			return fmt.Errorf("scan holding: %w", err)
		}
		d, err := decimal.NewFromString(qty)
		if err != nil {
			return fmt.Errorf("parse holding %s: %w", symbol, err)
		}
		snapshot.Holdings[symbol] = d
	}
	return rows.Err()
}

func (s *SQLiteStore) loadIDs(ctx context.Context, table, column, identity string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+column+" FROM "+table+" WHERE identity = ? ORDER BY seq", identity)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) loadOrders(ctx context.Context, snapshot *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, order_type, side, quantity, trail_percent, limit_price, stop_price, status, created_at, trades
		FROM orders WHERE identity = ? ORDER BY seq`, snapshot.Identity)
	if err != nil {
		return fmt.Errorf("query orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var o types.Order
		var orderType, side, status int
		var qty, trail, limit, stop, trades string

		if err := rows.Scan(&o.ID, &o.Symbol, &orderType, &side, &qty, &trail, &limit, &stop,
			&status, &o.CreatedAt, &trades); err != nil {
			return fmt.Errorf("scan order: %w", err)
		}

		o.Type = types.OrderType(orderType)
		o.Side = types.Side(side)
		o.Status = types.OrderStatus(status)
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("parse order quantity: %w", err)
		}
		if o.TrailPercent, err = decimal.NewFromString(trail); err != nil {
			return fmt.Errorf("parse trail percent: %w", err)
		}
		if o.LimitPrice, err = decimal.NewFromString(limit); err != nil {
			return fmt.Errorf("parse limit price: %w", err)
		}
		if o.StopPrice, err = decimal.NewFromString(stop); err != nil {
			return fmt.Errorf("parse stop price: %w", err)
		}
		if err := json.Unmarshal([]byte(trades), &o.Trades); err != nil {
			return fmt.Errorf("unmarshal trades: %w", err)
		}

		snapshot.Orders = append(snapshot.Orders, o)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadPositions(ctx context.Context, snapshot *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, state, amount_invested, quantity, open_price, close_price, opened_at, closed_at, entry_order_id, close_order_id, exit_order_ids, trail_percent, take_profit_price, stop_loss_price
		FROM positions WHERE identity = ? ORDER BY seq`, snapshot.Identity)
	if err != nil {
		return fmt.Errorf("query positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p PositionRecord
		var state int
		var amount, qty, openPrice, closePrice, exitIDs, trail, takeProfit, stopLoss string

		if err := rows.Scan(&p.ID, &p.Symbol, &state, &amount, &qty, &openPrice, &closePrice,
			&p.OpenedAt, &p.ClosedAt, &p.EntryOrderID, &p.CloseOrderID, &exitIDs,
			&trail, &takeProfit, &stopLoss); err != nil {
			return fmt.Errorf("scan position: %w", err)
		}

		p.State = types.PositionState(state)
		if p.AmountInvested, err = decimal.NewFromString(amount); err != nil {
			return fmt.Errorf("parse amount invested: %w", err)
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return fmt.Errorf("parse position quantity: %w", err)
		}
		if p.OpenPrice, err = decimal.NewFromString(openPrice); err != nil {
			return fmt.Errorf("parse open price: %w", err)
		}
		if p.ClosePrice, err = decimal.NewFromString(closePrice); err != nil {
			return fmt.Errorf("parse close price: %w", err)
		}
		if err := json.Unmarshal([]byte(exitIDs), &p.ExitOrderIDs); err != nil {
			return fmt.Errorf("unmarshal exit order ids: %w", err)
		}
		if p.TrailPercent, err = decimal.NewFromString(trail); err != nil {
			return fmt.Errorf("parse position trail percent: %w", err)
		}
		if p.TakeProfitPrice, err = decimal.NewFromString(takeProfit); err != nil {
			return fmt.Errorf("parse take profit price: %w", err)
		}
		if p.StopLossPrice, err = decimal.NewFromString(stopLoss); err != nil {
			return fmt.Errorf("parse stop loss price: %w", err)
		}

		snapshot.Positions = append(snapshot.Positions, p)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadValuations(ctx context.Context, snapshot *Snapshot) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, valuation, cash, prices, holdings
		FROM valuations WHERE identity = ? ORDER BY seq`, snapshot.Identity)
	if err != nil {
		return fmt.Errorf("query valuations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v ValuationRecord
		var valuation, cash, prices, holdings string

		if err := rows.Scan(&v.Timestamp, &valuation, &cash, &prices, &holdings); err != nil {
			return fmt.Errorf("scan valuation: %w", err)
		}

		if v.Valuation, err = decimal.NewFromString(valuation); err != nil {
			return fmt.Errorf("parse valuation: %w", err)
		}
		if v.Cash, err = decimal.NewFromString(cash); err != nil {
			return fmt.Errorf("parse valuation cash: %w", err)
		}
		if v.Prices, err = stringMapToDecimals(prices); err != nil {
			return fmt.Errorf("parse valuation prices: %w", err)
		}
		if v.Holdings, err = stringMapToDecimals(holdings); err != nil {
			return fmt.Errorf("parse valuation holdings: %w", err)
		}

		snapshot.Valuations = append(snapshot.Valuations, v)
	}
	return rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decimalMapToStrings(m map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return out
}

func stringMapToDecimals(data string) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[k] = d
	}
	return out, nil
}

var _ Store = (*SQLiteStore)(nil)
