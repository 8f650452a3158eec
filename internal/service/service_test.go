package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"portfolioledger/internal/ledger"
	"portfolioledger/internal/ledger/ledgertest"
	"portfolioledger/pkg/storage"
	"portfolioledger/pkg/storage/memstore"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOracle struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	symbols []string
	calls   atomic.Int32
}

func newFakeOracle(prices map[string]string) *fakeOracle {
	o := &fakeOracle{prices: map[string]decimal.Decimal{}}
	for sym, p := range prices {
		o.prices[sym] = decimal.RequireFromString(p)
		o.symbols = append(o.symbols, sym)
	}
	return o
}

func (o *fakeOracle) ListSymbols(ctx context.Context) []string {
	return o.symbols
}

func (o *fakeOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	o.calls.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.prices[symbol]
	return p, ok
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestService(store storage.Store, oracle PriceOracle, opts ...Option) *LedgerService {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(store, oracle, zap.NewNop(), opts...)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// go test -v --run TestBuySellSnapshot
func TestBuySellSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, newFakeOracle(map[string]string{"BTC/USDT": "30000"}))

	_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1.5"), d("20000"), ledgertest.Epoch)
	require.NoError(t, err)

	snap, err := svc.Sell(ctx, "acct", "BTC/USDT", d("1.0"), d("25000"), ledgertest.Epoch.Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, snap.Holdings, 1)
	h := snap.Holdings[0]
	assert.True(t, h.Quantity.Equal(d("0.5")))
	assert.True(t, h.PriceAvailable)
	assert.True(t, h.UnrealizedPnL.Equal(d("5000")), "got %s", h.UnrealizedPnL)

	require.Len(t, snap.Transactions, 1)
	assert.True(t, snap.Transactions[0].PnL.Equal(d("5000")))
	assert.True(t, snap.TotalRealizedPnL.Equal(d("5000")))
	assert.True(t, snap.TotalUnrealizedPnL.Equal(d("5000")))
	assert.Equal(t, fixedNow, snap.AsOf)

	// The store holds the committed state.
	stored, err := store.Load(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, stored.Lots, 1)
	assert.Len(t, stored.Transactions, 1)
}

// go test -v --run TestLazyCreationIsPersisted
func TestLazyCreationIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil)

	snap, err := svc.GetSnapshot(ctx, "newcomer")
	require.NoError(t, err)
	assert.Empty(t, snap.Holdings)
	assert.Empty(t, snap.Transactions)
	assert.True(t, snap.TotalRealizedPnL.IsZero())

	_, err = store.Load(ctx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Saves())

	// A second read hits the cache.
	_, err = svc.GetSnapshot(ctx, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, []string{"newcomer"}, svc.Accounts())
}

// go test -v --run TestBlankAccountRejected
func TestBlankAccountRejected(t *testing.T) {
	svc := newTestService(memstore.New(), nil)

	_, err := svc.Buy(context.Background(), "  ", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = svc.GetSnapshot(context.Background(), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

// go test -v --run TestRejectedOperationLeavesState
func TestRejectedOperationLeavesState(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil)

	_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("20000"), ledgertest.Epoch)
	require.NoError(t, err)
	saves := store.Saves()

	_, err = svc.Sell(ctx, "acct", "BTC/USDT", d("2"), d("25000"), ledgertest.Epoch)
	assert.ErrorIs(t, err, ledger.ErrInsufficientHoldings)

	_, err = svc.Buy(ctx, "acct", "BTC/USDT", d("-1"), d("20000"), ledgertest.Epoch)
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	assert.Equal(t, saves, store.Saves(), "rejected operations must not persist")

	snap, err := svc.GetSnapshot(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.True(t, snap.Holdings[0].Quantity.Equal(d("1")))
	assert.Empty(t, snap.Transactions)
}

// go test -v --run TestPersistenceFailureKeepsPriorState
func TestPersistenceFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil)

	_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("20000"), ledgertest.Epoch)
	require.NoError(t, err)

	store.FailSaves(true)
	_, err = svc.Sell(ctx, "acct", "BTC/USDT", d("1"), d("25000"), ledgertest.Epoch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, memstore.ErrInjected)

	_, err = svc.Delete(ctx, "acct", "BTC/USDT")
	assert.ErrorIs(t, err, ErrPersistence)

	store.FailSaves(false)
	snap, err := svc.GetSnapshot(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.Empty(t, snap.Transactions)

	stored, err := store.Load(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, stored.Lots, 1)
	assert.Empty(t, stored.Transactions)
}

// go test -v --run TestLazyCreationFailure
func TestLazyCreationFailure(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	store.FailSaves(true)
	svc := newTestService(store, nil)

	_, err := svc.GetSnapshot(ctx, "acct")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, svc.Accounts())

	store.FailSaves(false)
	_, err = svc.GetSnapshot(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, []string{"acct"}, svc.Accounts())
}

// go test -v --run TestCachedAccountsGaugeCountsLoadedOnly
func TestCachedAccountsGaugeCountsLoadedOnly(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	store := memstore.New()
	svc := newTestService(store, nil, WithMetrics(m))

	store.FailSaves(true)
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.GetSnapshot(ctx, id)
		require.ErrorIs(t, err, ErrPersistence)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CachedAccounts))

	store.FailSaves(false)
	_, err := svc.GetSnapshot(ctx, "a")
	require.NoError(t, err)
	_, err = svc.GetSnapshot(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CachedAccounts))

	require.NoError(t, svc.Import(ctx, map[string]ledger.AccountLedger{
		"a": ledger.New("a"),
		"d": ledger.New("d"),
	}))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CachedAccounts))
	assert.Equal(t, []string{"a", "d"}, svc.Accounts())
}

// go test -v --run TestConcurrentBuysNoLostUpdates
func TestConcurrentBuysNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, newFakeOracle(map[string]string{"BTC/USDT": "1"}))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("100"), ledgertest.Epoch.Add(time.Duration(i)*time.Second))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := svc.GetSnapshot(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, snap.Holdings, n)

	stored, err := store.Load(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, stored.Lots, n)
}

// go test -v --run TestConcurrentSellsOneWins
func TestConcurrentSellsOneWins(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(memstore.New(), nil)

	_, err := svc.Buy(ctx, "acct", "ETH/USDT", d("1"), d("1500"), ledgertest.Epoch)
	require.NoError(t, err)

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Sell(ctx, "acct", "ETH/USDT", d("1"), d("1600"), ledgertest.Epoch)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientHoldings):
				insufficient.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(9), insufficient.Load())
}

// blockingStore delays saves of one account until released.
type blockingStore struct {
	*memstore.MemoryStore
	account string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	if accountID == b.account && len(l.Lots) > 0 {
		close(b.entered)
		<-b.release
	}
	return b.MemoryStore.Save(ctx, accountID, l)
}

// go test -v --run TestAccountsProceedIndependently
func TestAccountsProceedIndependently(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		MemoryStore: memstore.New(),
		account:     "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := newTestService(store, nil)

	slowDone := make(chan error, 1)
	go func() {
		_, err := svc.Buy(ctx, "slow", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
		slowDone <- err
	}()
	<-store.entered

	// "slow" is held inside Save; another account must not wait for it.
	fastDone := make(chan error, 1)
	go func() {
		_, err := svc.Buy(ctx, "fast", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("independent account blocked by another account's save")
	}

	close(store.release)
	require.NoError(t, <-slowDone)
}

// go test -v --run TestAccountsDoesNotStallNewAccounts
func TestAccountsDoesNotStallNewAccounts(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		MemoryStore: memstore.New(),
		account:     "slow",
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := newTestService(store, nil)

	slowDone := make(chan error, 1)
	go func() {
		_, err := svc.Buy(ctx, "slow", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
		slowDone <- err
	}()
	<-store.entered

	// Accounts waits on the busy "slow" entry.
	listed := make(chan []string, 1)
	go func() { listed <- svc.Accounts() }()
	time.Sleep(50 * time.Millisecond)

	// Creating a new account needs the global lock and must not queue behind it.
	newDone := make(chan error, 1)
	go func() {
		_, err := svc.Buy(ctx, "new", "ETH/USDT", d("1"), d("1"), ledgertest.Epoch)
		newDone <- err
	}()
	select {
	case err := <-newDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("account creation blocked behind Accounts")
	}

	close(store.release)
	require.NoError(t, <-slowDone)
	assert.Contains(t, <-listed, "slow")
}

// gatedOracle blocks the first price lookup until released.
type gatedOracle struct {
	first   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedOracle) ListSymbols(ctx context.Context) []string { return nil }

func (g *gatedOracle) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if g.first.CompareAndSwap(false, true) {
		close(g.entered)
		<-g.release
	}
	return d("10"), true
}

// go test -v --run TestOracleNotCalledUnderLock
func TestOracleNotCalledUnderLock(t *testing.T) {
	ctx := context.Background()
	oracle := &gatedOracle{entered: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(memstore.New(), oracle)

	firstDone := make(chan error, 1)
	go func() {
		_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
		firstDone <- err
	}()
	<-oracle.entered

	// The first buy is committed and waiting on the oracle; the same account
	// must still accept mutations.
	snap, err := svc.Buy(ctx, "acct", "ETH/USDT", d("2"), d("1"), ledgertest.Epoch)
	require.NoError(t, err)
	assert.Len(t, snap.Holdings, 2)

	close(oracle.release)
	require.NoError(t, <-firstDone)
}

// go test -v --run TestSnapshotPriceUnavailable
func TestSnapshotPriceUnavailable(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(memstore.New(), newFakeOracle(map[string]string{"BTC/USDT": "30000"}))

	_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("20000"), ledgertest.Epoch)
	require.NoError(t, err)
	_, err = svc.Buy(ctx, "acct", "DOGE/USDT", d("100"), d("0.1"), ledgertest.Epoch)
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 2)

	assert.True(t, snap.Holdings[0].PriceAvailable)
	assert.True(t, snap.Holdings[0].UnrealizedPnL.Equal(d("10000")))

	assert.False(t, snap.Holdings[1].PriceAvailable)
	assert.True(t, snap.Holdings[1].UnrealizedPnL.IsZero())
	assert.True(t, snap.TotalUnrealizedPnL.Equal(d("10000")))
}

// go test -v --run TestSnapshotWithSuppliedPrices
func TestSnapshotWithSuppliedPrices(t *testing.T) {
	ctx := context.Background()
	oracle := newFakeOracle(nil)
	svc := newTestService(memstore.New(), oracle)
	require.NoError(t, svc.Import(ctx, map[string]ledger.AccountLedger{"acct": ledgertest.Sample(t, "acct")}))

	snap, err := svc.Snapshot(ctx, "acct", map[string]decimal.Decimal{"ETH/USDT": d("2000")})
	require.NoError(t, err)
	assert.Equal(t, int32(0), oracle.calls.Load())

	require.Len(t, snap.Holdings, 2)
	assert.False(t, snap.Holdings[0].PriceAvailable) // BTC
	assert.True(t, snap.Holdings[1].UnrealizedPnL.Equal(d("1500")))
	assert.True(t, snap.TotalRealizedPnL.Equal(d("5000")))
}

// go test -v --run TestDeleteRemovesLots
func TestDeleteRemovesLots(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	svc := newTestService(store, nil)
	require.NoError(t, svc.Import(ctx, map[string]ledger.AccountLedger{"acct": ledgertest.Sample(t, "acct")}))

	snap, err := svc.Delete(ctx, "acct", "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "ETH/USDT", snap.Holdings[0].Symbol)
	assert.Len(t, snap.Transactions, 1, "delete never touches history")

	// Unknown symbols are a no-op.
	snap, err = svc.Delete(ctx, "acct", "XRP/USDT")
	require.NoError(t, err)
	assert.Len(t, snap.Holdings, 1)
}

// go test -v --run TestWarmLoadsStoredAccounts
func TestWarmLoadsStoredAccounts(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("acct-%d", i)
		require.NoError(t, store.Save(ctx, id, ledgertest.Sample(t, id)))
	}

	svc := newTestService(store, nil)
	n, err := svc.Warm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"acct-0", "acct-1", "acct-2"}, svc.Accounts())

	snap, err := svc.GetSnapshot(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, snap.Holdings, 2)
}

// go test -v --run TestSymbols
func TestSymbols(t *testing.T) {
	svc := newTestService(memstore.New(), newFakeOracle(map[string]string{"BTC/USDT": "1"}))
	assert.Equal(t, []string{"BTC/USDT"}, svc.Symbols(context.Background()))

	empty := newTestService(memstore.New(), nil)
	assert.NotNil(t, empty.Symbols(context.Background()))
	assert.Empty(t, empty.Symbols(context.Background()))
}

// go test -v --run TestMetricsRecorded
func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics(prometheus.NewRegistry())
	svc := newTestService(memstore.New(), newFakeOracle(map[string]string{"BTC/USDT": "2"}), WithMetrics(m))

	_, err := svc.Buy(ctx, "acct", "BTC/USDT", d("1"), d("1"), ledgertest.Epoch)
	require.NoError(t, err)
	_, err = svc.Sell(ctx, "acct", "BTC/USDT", d("5"), d("1"), ledgertest.Epoch)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("buy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("sell", "rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CachedAccounts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceLookups.WithLabelValues("success")))
}
