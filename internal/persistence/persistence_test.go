package persistence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"robotrader/internal/types"
)

func setupFileStore(t *testing.T) *FileStore {
	t.Helper()

	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("create file store: %v", err)
	}
	return store
}

func setupSQLiteStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "robotrader-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	store, err := NewSQLiteStore(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(path)
	}
	return store, cleanup
}

func sampleSnapshot() Snapshot {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return Snapshot{
		Identity:      "backtest-BTCGBP",
		InceptionDate: now.Add(-24 * time.Hour),
		InitialCash:   decimal.NewFromInt(1000),
		Cash:          decimal.RequireFromString("750.25"),
		Holdings: map[string]decimal.Decimal{
			"BTCGBP": decimal.RequireFromString("2.4875"),
		},
		Orders: []types.Order{
			{
				ID:        "ord-1",
				Symbol:    "BTCGBP",
				Type:      types.OrderTypeMarket,
				Side:      types.SideBuy,
				Quantity:  decimal.RequireFromString("2.4875"),
				Status:    types.OrderStatusFilled,
				CreatedAt: now.Add(-time.Hour),
				Trades: []types.Trade{
					{
						ID:               "tr-1",
						OrderID:          "ord-1",
						Symbol:           "BTCGBP",
						Side:             types.SideBuy,
						Price:            decimal.NewFromInt(100),
						Quantity:         decimal.RequireFromString("2.4875"),
						Timestamp:        now.Add(-time.Hour),
						TransactionCosts: decimal.RequireFromString("0.995"),
					},
				},
			},
			{
				ID:           "ord-2",
				Symbol:       "BTCGBP",
				Type:         types.OrderTypeTrailingStop,
				Side:         types.SideSell,
				Quantity:     decimal.RequireFromString("2.4875"),
				TrailPercent: decimal.RequireFromString("0.01"),
				StopPrice:    decimal.NewFromInt(99),
				Status:       types.OrderStatusPending,
				CreatedAt:    now.Add(-time.Hour),
			},
		},
		ProcessedTradeIDs: []string{"tr-1", "tr-2", "tr-3"},
		Positions: []PositionRecord{
			{
				ID:             "pos-1",
				Symbol:         "BTCGBP",
				State:          types.PositionLong,
				AmountInvested: decimal.NewFromInt(250),
				Quantity:       decimal.RequireFromString("2.4875"),
				OpenPrice:      decimal.NewFromInt(100),
				OpenedAt:       now.Add(-time.Hour),
				EntryOrderID:   "ord-1",
				ExitOrderIDs:   []string{"ord-2"},
				TrailPercent:   decimal.RequireFromString("0.01"),
			},
		},
		Valuations: []ValuationRecord{
			{
				Timestamp: now,
				Valuation: decimal.RequireFromString("999.0"),
				Cash:      decimal.RequireFromString("750.25"),
				Prices:    map[string]decimal.Decimal{"BTCGBP": decimal.NewFromInt(100)},
				Holdings:  map[string]decimal.Decimal{"BTCGBP": decimal.RequireFromString("2.4875")},
			},
		},
		SavedAt: now,
	}
}

func assertSnapshotsEqual(t *testing.T, got *Snapshot, want Snapshot) {
	t.Helper()

	if got.Identity != want.Identity {
		t.Errorf("identity = %s, want %s", got.Identity, want.Identity)
	}
	if !got.InitialCash.Equal(want.InitialCash) {
		t.Errorf("initial cash = %s, want %s", got.InitialCash, want.InitialCash)
	}
	if !got.Cash.Equal(want.Cash) {
		t.Errorf("cash = %s, want %s", got.Cash, want.Cash)
	}
	if !got.InceptionDate.Equal(want.InceptionDate) {
		t.Errorf("inception = %s, want %s", got.InceptionDate, want.InceptionDate)
	}

	if len(got.Holdings) != len(want.Holdings) {
		t.Fatalf("holdings = %d entries, want %d", len(got.Holdings), len(want.Holdings))
	}
	for sym, qty := range want.Holdings {
		if !got.Holdings[sym].Equal(qty) {
			t.Errorf("holding %s = %s, want %s", sym, got.Holdings[sym], qty)
		}
	}

	if len(got.Orders) != len(want.Orders) {
		t.Fatalf("orders = %d, want %d", len(got.Orders), len(want.Orders))
	}
	for i, o := range want.Orders {
		g := got.Orders[i]
		if g.ID != o.ID || g.Symbol != o.Symbol || g.Type != o.Type || g.Side != o.Side || g.Status != o.Status {
			t.Errorf("order %d = %+v, want %+v", i, g, o)
		}
		if !g.Quantity.Equal(o.Quantity) {
			t.Errorf("order %d quantity = %s, want %s", i, g.Quantity, o.Quantity)
		}
		if !g.StopPrice.Equal(o.StopPrice) {
			t.Errorf("order %d stop = %s, want %s", i, g.StopPrice, o.StopPrice)
		}
		if len(g.Trades) != len(o.Trades) {
			t.Fatalf("order %d trades = %d, want %d", i, len(g.Trades), len(o.Trades))
		}
		for j, tr := range o.Trades {
			gt := g.Trades[j]
			if gt.ID != tr.ID || !gt.Price.Equal(tr.Price) || !gt.Quantity.Equal(tr.Quantity) || !gt.TransactionCosts.Equal(tr.TransactionCosts) {
				t.Errorf("order %d trade %d = %+v, want %+v", i, j, gt, tr)
			}
		}
	}
	if !reflect.DeepEqual(got.ProcessedTradeIDs, want.ProcessedTradeIDs) {
		t.Errorf("processed trade ids = %v, want %v", got.ProcessedTradeIDs, want.ProcessedTradeIDs)
	}

	if len(got.Positions) != len(want.Positions) {
		t.Fatalf("positions = %d, want %d", len(got.Positions), len(want.Positions))
	}
	for i, p := range want.Positions {
		g := got.Positions[i]
		if g.ID != p.ID || g.Symbol != p.Symbol || g.State != p.State {
			t.Errorf("position %d = %+v, want %+v", i, g, p)
		}
		if !g.Quantity.Equal(p.Quantity) {
			t.Errorf("position %d quantity = %s, want %s", i, g.Quantity, p.Quantity)
		}
		if !g.OpenPrice.Equal(p.OpenPrice) {
			t.Errorf("position %d open price = %s, want %s", i, g.OpenPrice, p.OpenPrice)
		}
		if !g.AmountInvested.Equal(p.AmountInvested) {
			t.Errorf("position %d amount invested = %s, want %s", i, g.AmountInvested, p.AmountInvested)
		}
		if !g.TrailPercent.Equal(p.TrailPercent) {
			t.Errorf("position %d trail = %s, want %s", i, g.TrailPercent, p.TrailPercent)
		}
		if !reflect.DeepEqual(g.ExitOrderIDs, p.ExitOrderIDs) {
			t.Errorf("position %d exit order ids = %v, want %v", i, g.ExitOrderIDs, p.ExitOrderIDs)
		}
	}

	if len(got.Valuations) != len(want.Valuations) {
		t.Fatalf("valuations = %d, want %d", len(got.Valuations), len(want.Valuations))
	}
	for i, v := range want.Valuations {
		g := got.Valuations[i]
		if !g.Timestamp.Equal(v.Timestamp) {
			t.Errorf("valuation %d timestamp = %s, want %s", i, g.Timestamp, v.Timestamp)
		}
		if !g.Valuation.Equal(v.Valuation) {
			t.Errorf("valuation %d = %s, want %s", i, g.Valuation, v.Valuation)
		}
		if !g.Cash.Equal(v.Cash) {
			t.Errorf("valuation %d cash = %s, want %s", i, g.Cash, v.Cash)
		}
		for sym, price := range v.Prices {
			if !g.Prices[sym].Equal(price) {
				t.Errorf("valuation %d price %s = %s, want %s", i, sym, g.Prices[sym], price)
			}
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store := setupFileStore(t)
	ctx := context.Background()
	want := sampleSnapshot()

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, want.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotsEqual(t, got, want)
}

func TestFileStore_SaveReplacesAtomically(t *testing.T) {
	store := setupFileStore(t)
	ctx := context.Background()

	snapshot := sampleSnapshot()
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("first save: %v", err)
	}

	snapshot.Cash = decimal.NewFromInt(500)
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.Load(ctx, snapshot.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Cash.Equal(decimal.NewFromInt(500)) {
		t.Errorf("cash = %s, want 500", got.Cash)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestFileStore_LoadUnknownIdentity(t *testing.T) {
	store := setupFileStore(t)

	_, err := store.Load(context.Background(), "no-such-portfolio")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_IdentityWithSlash(t *testing.T) {
	store := setupFileStore(t)
	ctx := context.Background()

	snapshot := sampleSnapshot()
	snapshot.Identity = "live/BTC/GBP"

	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, snapshot.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Identity != snapshot.Identity {
		t.Errorf("identity = %s, want %s", got.Identity, snapshot.Identity)
	}
}

func TestFileStore_SimilarIdentitiesDoNotCollide(t *testing.T) {
	store := setupFileStore(t)
	ctx := context.Background()

	first := sampleSnapshot()
	first.Identity = "BTC/GBP"
	second := sampleSnapshot()
	second.Identity = "BTC_GBP"
	second.Cash = decimal.NewFromInt(42)

	if store.path(first.Identity) == store.path(second.Identity) {
		t.Fatalf("identities %q and %q map to the same file", first.Identity, second.Identity)
	}

	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.Load(ctx, first.Identity)
	if err != nil {
		t.Fatalf("load first: %v", err)
	}
	if !got.Cash.Equal(first.Cash) {
		t.Errorf("first cash = %s, want %s", got.Cash, first.Cash)
	}

	got, err = store.Load(ctx, second.Identity)
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if !got.Cash.Equal(decimal.NewFromInt(42)) {
		t.Errorf("second cash = %s, want 42", got.Cash)
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, cleanup := setupSQLiteStore(t)
	defer cleanup()

	ctx := context.Background()
	want := sampleSnapshot()

	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, want.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSnapshotsEqual(t, got, want)
}

func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store, cleanup := setupSQLiteStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshot := sampleSnapshot()

	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("first save: %v", err)
	}

	snapshot.ProcessedTradeIDs = append(snapshot.ProcessedTradeIDs, "tr-4")
	snapshot.Cash = decimal.NewFromInt(600)
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.Load(ctx, snapshot.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.ProcessedTradeIDs) != 4 {
		t.Errorf("processed trade ids = %d, want 4", len(got.ProcessedTradeIDs))
	}
	if !got.Cash.Equal(decimal.NewFromInt(600)) {
		t.Errorf("cash = %s, want 600", got.Cash)
	}
}

func TestSQLiteStore_MultipleIdentities(t *testing.T) {
	store, cleanup := setupSQLiteStore(t)
	defer cleanup()

	ctx := context.Background()

	first := sampleSnapshot()
	second := sampleSnapshot()
	second.Identity = "backtest-ETHGBP"
	second.Cash = decimal.NewFromInt(123)

	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.Load(ctx, second.Identity)
	if err != nil {
		t.Fatalf("load second: %v", err)
	}
	if !got.Cash.Equal(decimal.NewFromInt(123)) {
		t.Errorf("cash = %s, want 123", got.Cash)
	}

	if _, err := store.Load(ctx, first.Identity); err != nil {
		t.Errorf("first identity lost: %v", err)
	}
}

func TestSQLiteStore_PositionsRestoreInSaveOrder(t *testing.T) {
	store, cleanup := setupSQLiteStore(t)
	defer cleanup()

	ctx := context.Background()
	snapshot := sampleSnapshot()

	// Second position opened at the exact same time as the first.
	second := snapshot.Positions[0]
	second.ID = "pos-2"
	second.Symbol = "ETHGBP"
	second.ExitOrderIDs = []string{"ord-3"}
	snapshot.Positions = append(snapshot.Positions, second)

	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, snapshot.Identity)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(got.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(got.Positions))
	}
	if got.Positions[0].ID != "pos-1" || got.Positions[1].ID != "pos-2" {
		t.Errorf("positions restored as [%s, %s], want [pos-1, pos-2]",
			got.Positions[0].ID, got.Positions[1].ID)
	}
}

func TestSQLiteStore_LoadUnknownIdentity(t *testing.T) {
	store, cleanup := setupSQLiteStore(t)
	defer cleanup()

	_, err := store.Load(context.Background(), "no-such-portfolio")
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}
