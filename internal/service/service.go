package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"portfolioledger/internal/ledger"
	"portfolioledger/pkg/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPersistence is returned when the store fails to load or save a ledger.
// A failed save leaves the account at its previous state.
var ErrPersistence = errors.New("persistence failure")

// PriceOracle is an external market-data source. It never returns errors:
// failures surface as an empty symbol list or an unavailable price.
type PriceOracle interface {
	ListSymbols(ctx context.Context) []string
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

type accountEntry struct {
	mu     sync.RWMutex
	loaded bool
	ledger ledger.AccountLedger
}

// LedgerService owns the in-memory ledgers of all accounts. Operations on the
// same account are serialized; different accounts proceed in parallel.
// The cache is write-through: a mutation is committed to memory only after
// the store has accepted it.
type LedgerService struct {
	store   storage.Store
	oracle  PriceOracle
	logger  *zap.Logger
	metrics *Metrics

	priceConcurrency int
	now              func() time.Time

	globalMu sync.RWMutex
	accounts map[string]*accountEntry
	loaded   atomic.Int64
}

type Option func(*LedgerService)

func WithMetrics(m *Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

// WithPriceConcurrency bounds the parallel oracle lookups of one snapshot.
func WithPriceConcurrency(n int) Option {
	return func(s *LedgerService) {
		if n > 0 {
			s.priceConcurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func New(store storage.Store, oracle PriceOracle, logger *zap.Logger, opts ...Option) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LedgerService{
		store:            store,
		oracle:           oracle,
		logger:           logger,
		priceConcurrency: 5,
		now:              time.Now,
		accounts:         make(map[string]*accountEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// entry returns the cache entry for accountID, creating an unloaded one if needed.
func (s *LedgerService) entry(accountID string) *accountEntry {
	s.globalMu.RLock()
	e, ok := s.accounts[accountID]
	s.globalMu.RUnlock()
	if ok {
		return e
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if e, ok = s.accounts[accountID]; !ok {
		e = &accountEntry{}
		s.accounts[accountID] = e
	}
	return e
}

// ensureLoaded fills e from the store, creating and persisting an empty
// ledger for unknown accounts. The caller must hold e.mu exclusively.
func (s *LedgerService) ensureLoaded(ctx context.Context, e *accountEntry, accountID string) error {
	if e.loaded {
		return nil
	}

	start := time.Now()
	l, err := s.store.Load(ctx, accountID)
	s.metrics.ObserveStore("load", time.Since(start))

	switch {
	case errors.Is(err, storage.ErrNotFound):
		l = ledger.New(accountID)
		if err := s.save(ctx, accountID, l); err != nil {
			return err
		}
		s.logger.Info("account created", zap.String("account", accountID))
	case err != nil:
		s.logger.Error("failed to load account", zap.String("account", accountID), zap.Error(err))
		return fmt.Errorf("%w: load %s: %w", ErrPersistence, accountID, err)
	}

	s.markLoaded(e, l)
	return nil
}

// markLoaded commits l to e. Entries left unloaded by a failed load are not
// counted as cached. The caller must hold e.mu exclusively.
func (s *LedgerService) markLoaded(e *accountEntry, l ledger.AccountLedger) {
	e.ledger = l
	if !e.loaded {
		e.loaded = true
		s.metrics.SetCachedAccounts(int(s.loaded.Add(1)))
	}
}

func (s *LedgerService) save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	start := time.Now()
	err := s.store.Save(ctx, accountID, l)
	s.metrics.ObserveStore("save", time.Since(start))
	if err != nil {
		s.logger.Error("failed to persist account", zap.String("account", accountID), zap.Error(err))
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, accountID, err)
	}
	return nil
}

func validAccount(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: account identifier is required", ledger.ErrInvalidInput)
	}
	return nil
}

// mutate applies fn to the account's ledger under its exclusive lock and
// commits the result to the cache only after a successful save.
func (s *LedgerService) mutate(ctx context.Context, op, accountID string,
	fn func(ledger.AccountLedger) (ledger.AccountLedger, error)) (ledger.AccountLedger, error) {
	if err := validAccount(accountID); err != nil {
		s.metrics.ObserveOperation(op, "rejected")
		return ledger.AccountLedger{}, err
	}

	e := s.entry(accountID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := s.ensureLoaded(ctx, e, accountID); err != nil {
		s.metrics.ObserveOperation(op, "error")
		return ledger.AccountLedger{}, err
	}

	next, err := fn(e.ledger)
	if err != nil {
		s.metrics.ObserveOperation(op, "rejected")
		return ledger.AccountLedger{}, err
	}

	if err := s.save(ctx, accountID, next); err != nil {
		s.metrics.ObserveOperation(op, "error")
		return ledger.AccountLedger{}, err
	}
	e.ledger = next
	s.metrics.ObserveOperation(op, "success")
	return next, nil
}

// read returns the cached ledger of accountID, loading it if needed.
func (s *LedgerService) read(ctx context.Context, accountID string) (ledger.AccountLedger, error) {
	if err := validAccount(accountID); err != nil {
		return ledger.AccountLedger{}, err
	}

	e := s.entry(accountID)
	e.mu.RLock()
	if e.loaded {
		l := e.ledger
		e.mu.RUnlock()
		return l, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.ensureLoaded(ctx, e, accountID); err != nil {
		return ledger.AccountLedger{}, err
	}
	return e.ledger, nil
}

// Buy records a new lot. The returned snapshot is valued after the account
// lock is released, so oracle latency never delays other mutations.
func (s *LedgerService) Buy(ctx context.Context, accountID, symbol string,
	quantity, price decimal.Decimal, at time.Time) (*AccountSnapshot, error) {
	l, err := s.mutate(ctx, "buy", accountID, func(cur ledger.AccountLedger) (ledger.AccountLedger, error) {
		next, _, err := ledger.Buy(cur, symbol, quantity, price, at)
		return next, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lot opened",
		zap.String("account", accountID),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", quantity),
		zap.Stringer("price", price))
	return s.value(ctx, l), nil
}

// Sell closes quantity against the first lot of symbol large enough to cover it.
func (s *LedgerService) Sell(ctx context.Context, accountID, symbol string,
	quantity, price decimal.Decimal, at time.Time) (*AccountSnapshot, error) {
	var tx ledger.ClosedTransaction
	l, err := s.mutate(ctx, "sell", accountID, func(cur ledger.AccountLedger) (ledger.AccountLedger, error) {
		next, closed, err := ledger.Sell(cur, symbol, quantity, price, at)
		tx = closed
		return next, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lot reduced",
		zap.String("account", accountID),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", quantity),
		zap.Stringer("buy_price", tx.BuyPrice),
		zap.Stringer("sell_price", tx.SellPrice),
		zap.Stringer("pnl", tx.PnL))
	return s.value(ctx, l), nil
}

// Delete removes every lot of symbol without recording a transaction.
func (s *LedgerService) Delete(ctx context.Context, accountID, symbol string) (*AccountSnapshot, error) {
	var removed int
	l, err := s.mutate(ctx, "delete", accountID, func(cur ledger.AccountLedger) (ledger.AccountLedger, error) {
		next, n, err := ledger.Delete(cur, symbol)
		removed = n
		return next, err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("lots deleted",
		zap.String("account", accountID),
		zap.String("symbol", symbol),
		zap.Int("removed", removed))
	return s.value(ctx, l), nil
}

// GetSnapshot values the account against fresh oracle prices.
func (s *LedgerService) GetSnapshot(ctx context.Context, accountID string) (*AccountSnapshot, error) {
	l, err := s.read(ctx, accountID)
	if err != nil {
		s.metrics.ObserveOperation("snapshot", "error")
		return nil, err
	}
	s.metrics.ObserveOperation("snapshot", "success")
	return s.value(ctx, l), nil
}

// Snapshot composes the account's state with caller-supplied prices. Symbols
// missing from priceBySymbol are reported with zero unrealized P&L.
func (s *LedgerService) Snapshot(ctx context.Context, accountID string, priceBySymbol map[string]decimal.Decimal) (*AccountSnapshot, error) {
	l, err := s.read(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return composeSnapshot(l, priceBySymbol, s.now()), nil
}

// Symbols returns the oracle's symbol catalog, empty when it is unavailable.
func (s *LedgerService) Symbols(ctx context.Context) []string {
	if s.oracle == nil {
		return []string{}
	}
	symbols := s.oracle.ListSymbols(ctx)
	if symbols == nil {
		return []string{}
	}
	return symbols
}

// Accounts lists the identifiers currently cached, sorted. Entries are
// inspected after the global lock is released so a busy account cannot stall
// lazy creation of others.
func (s *LedgerService) Accounts() []string {
	s.globalMu.RLock()
	entries := make(map[string]*accountEntry, len(s.accounts))
	for id, e := range s.accounts {
		entries[id] = e
	}
	s.globalMu.RUnlock()

	ids := make([]string, 0, len(entries))
	for id, e := range entries {
		e.mu.RLock()
		loaded := e.loaded
		e.mu.RUnlock()
		if loaded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Warm loads every account the store can list into the cache.
func (s *LedgerService) Warm(ctx context.Context) (int, error) {
	lister, ok := s.store.(storage.Lister)
	if !ok {
		return 0, nil
	}
	ids, err := lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list accounts: %w", ErrPersistence, err)
	}
	for _, id := range ids {
		if _, err := s.read(ctx, id); err != nil {
			return 0, err
		}
	}
	s.logger.Info("ledger cache warmed", zap.Int("accounts", len(ids)))
	return len(ids), nil
}

// Import replaces the stored ledger of each account with the given one.
// Accounts are processed in sorted order under their own locks.
func (s *LedgerService) Import(ctx context.Context, ledgers map[string]ledger.AccountLedger) error {
	ids := make([]string, 0, len(ledgers))
	for id := range ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l := ledgers[id]
		l.AccountID = id
		if err := validAccount(id); err != nil {
			return err
		}

		e := s.entry(id)
		e.mu.Lock()
		err := s.save(ctx, id, l)
		if err == nil {
			s.markLoaded(e, l)
		}
		e.mu.Unlock()

		if err != nil {
			s.metrics.ObserveOperation("import", "error")
			return err
		}
		s.metrics.ObserveOperation("import", "success")
	}
	return nil
}

// value fetches current prices for the held symbols and composes a snapshot.
func (s *LedgerService) value(ctx context.Context, l ledger.AccountLedger) *AccountSnapshot {
	return composeSnapshot(l, s.prices(ctx, l.Symbols()), s.now())
}

// prices queries the oracle for each symbol with bounded concurrency. Missing
// entries mean the price is unavailable.
func (s *LedgerService) prices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	if s.oracle == nil || len(symbols) == 0 {
		return out
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.priceConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			price, ok := s.oracle.CurrentPrice(gctx, symbol)
			if !ok {
				s.metrics.IncPriceLookup("unavailable")
				s.logger.Warn("price unavailable", zap.String("symbol", symbol))
				return nil
			}
			s.metrics.IncPriceLookup("success")
			mu.Lock()
			out[symbol] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
