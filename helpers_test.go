package tillsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/tillsync/config"
	"github.com/blnkfinance/tillsync/connectivity"
	"github.com/blnkfinance/tillsync/database"
	"github.com/blnkfinance/tillsync/internal/apierror"
	"github.com/blnkfinance/tillsync/model"
	"github.com/blnkfinance/tillsync/wire"
)

// fakeLedger stands in for the remote ledger.
type fakeLedger struct {
	calls  atomic.Int32
	delay  time.Duration
	mu     sync.Mutex
	err    error
	warn   string
	nextID atomic.Int32
	seen   []*model.OrderPayload
}

func (f *fakeLedger) Commit(ctx context.Context, payload *model.OrderPayload) (*wire.CommitResult, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *payload
	f.seen = append(f.seen, &cp)
	if f.err != nil {
		return nil, f.err
	}
	id := f.nextID.Add(1)
	return &wire.CommitResult{
		ServerOrderID: "srv_" + decimal.NewFromInt32(id).String(),
		Warning:       f.warn,
	}, nil
}

func (f *fakeLedger) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeLedger) last() *model.OrderPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seen) == 0 {
		return nil
	}
	return f.seen[len(f.seen)-1]
}

// reachability is a connectivity prober that can be switched off.
type reachability struct {
	down  atomic.Bool
	pings atomic.Int32
}

func (r *reachability) Ping(ctx context.Context) error {
	r.pings.Add(1)
	if r.down.Load() {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

var errLedgerDown = apierror.NewAPIError(apierror.ErrConnectivity, "ledger unreachable", nil)

func testConfig() *config.Configuration {
	return &config.Configuration{
		TerminalID: "till-01",
		Sync: config.SyncConfig{
			IntervalSec:          1,
			StaleAfterSec:        30,
			MaxAttempts:          5,
			RetryInitialSec:      30,
			RetryMaxSec:          600,
			StuckSyncingAfterSec: 300,
			LockTTLSec:           30,
		},
	}
}

type harness struct {
	sync   *TillSync
	ledger *fakeLedger
	net    *reachability
	db     database.IDataSource
	now    time.Time
}

func newHarness(t *testing.T, cfg *config.Configuration, opts ...Option) *harness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	config.MockConfig(cfg)

	conn, err := database.ConnectDB("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	db := &database.Datasource{Conn: conn, Driver: "sqlite3"}

	h := &harness{
		ledger: &fakeLedger{},
		net:    &reachability{},
		db:     db,
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	monitor := connectivity.New(h.net, connectivity.Options{ProbeTimeout: time.Second})
	opts = append([]Option{WithClock(func() time.Time { return h.now })}, opts...)
	s, err := NewTillSync(db, h.ledger, monitor, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	h.sync = s
	return h
}

func twoLineSale(orderID string) wire.BuildInput {
	return wire.BuildInput{
		OrderID: orderID,
		Lines: []wire.CartLine{
			{ProductID: "espresso", Name: "Espresso", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(20), TaxRate: decimal.NewFromInt(15)},
			{ProductID: "croissant", Name: "Croissant", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(20), TaxRate: decimal.NewFromInt(15)},
		},
		Payments: []wire.PaymentEntry{{MethodID: "cash", Name: "Cash", Amount: decimal.NewFromInt(115)}},
		Session:  model.Session{ID: "session-1", TerminalID: "till-01", CashierID: "cashier-7"},
	}
}

// queueSale saves and finalizes a sale so it is ready to sync.
func (h *harness) queueSale(t *testing.T, orderID string) *model.OfflineOrder {
	t.Helper()
	ctx := context.Background()
	saved, err := h.sync.SaveOrder(ctx, twoLineSale(orderID))
	require.NoError(t, err)
	pending, err := h.sync.FinalizeOrder(ctx, saved.LocalID)
	require.NoError(t, err)
	return pending
}
