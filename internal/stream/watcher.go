package stream

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"portfolioledger/internal/service"
	"portfolioledger/pkg/bybit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Subscriber is a reconnecting topic stream such as bybit.WSClient.
type Subscriber interface {
	SetMessageHandler(h func([]byte))
	Connect(ctx context.Context, topics []string) error
	Listen(ctx context.Context)
	Close() error
}

// Snapshotter values an account against caller-supplied prices.
type Snapshotter interface {
	Snapshot(ctx context.Context, accountID string, priceBySymbol map[string]decimal.Decimal) (*service.AccountSnapshot, error)
}

// ErrNoHoldings is returned by Run when the account holds nothing to watch.
var ErrNoHoldings = errors.New("account has no open lots")

// Watcher streams ticker prices for the symbols an account holds and reports
// the account's unrealized P&L as prices move.
type Watcher struct {
	Sub      Subscriber
	Ledger   Snapshotter
	Book     *PriceBook
	Logger   *zap.Logger
	Interval time.Duration // minimum time between reports

	// Report receives each fresh snapshot. Defaults to a log line.
	Report func(*service.AccountSnapshot)
}

// Run subscribes to the account's symbols and reports until ctx is done.
func (w *Watcher) Run(ctx context.Context, accountID string) error {
	if w.Book == nil {
		w.Book = NewPriceBook()
	}
	if w.Logger == nil {
		w.Logger = zap.NewNop()
	}
	if w.Interval <= 0 {
		w.Interval = time.Second
	}
	if w.Report == nil {
		w.Report = w.logSnapshot
	}

	initial, err := w.Ledger.Snapshot(ctx, accountID, nil)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	pairs := heldSymbols(initial)
	if len(pairs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoHoldings, accountID)
	}

	topics := make([]string, 0, len(pairs))
	for _, p := range pairs {
		topics = append(topics, bybit.TickerTopic(p))
	}

	var dirty atomic.Bool
	w.Sub.SetMessageHandler(MakeMessageHandler(w.Logger, w.Book, pairs, func(string) {
		dirty.Store(true)
	}))

	if err := w.Sub.Connect(ctx, topics); err != nil {
		return err
	}
	defer w.Sub.Close()

	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		w.Sub.Listen(ctx)
	}()

	w.Logger.Info("watching account",
		zap.String("account", accountID),
		zap.Strings("symbols", pairs))

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-listenDone
			return nil
		case <-ticker.C:
			if !dirty.Swap(false) {
				continue
			}
			snap, err := w.Ledger.Snapshot(ctx, accountID, w.Book.Prices())
			if err != nil {
				w.Logger.Warn("failed to value account", zap.String("account", accountID), zap.Error(err))
				continue
			}
			w.Report(snap)
		}
	}
}

func (w *Watcher) logSnapshot(s *service.AccountSnapshot) {
	priced := 0
	for _, h := range s.Holdings {
		if h.PriceAvailable {
			priced++
		}
	}
	w.Logger.Info("portfolio update",
		zap.String("account", s.AccountID),
		zap.Int("lots", len(s.Holdings)),
		zap.Int("priced", priced),
		zap.Stringer("unrealized_pnl", s.TotalUnrealizedPnL),
		zap.Stringer("realized_pnl", s.TotalRealizedPnL))
}

func heldSymbols(s *service.AccountSnapshot) []string {
	seen := make(map[string]bool)
	var out []string
	for _, h := range s.Holdings {
		if !seen[h.Symbol] {
			seen[h.Symbol] = true
			out = append(out, h.Symbol)
		}
	}
	return out
}
