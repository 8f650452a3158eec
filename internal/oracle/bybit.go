// Package oracle provides market price sources for the ledger service.
package oracle

import (
	"context"
	"time"

	"portfolioledger/pkg/bybit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Bybit answers price queries from the exchange's public REST market data.
// Failures are logged and reported as unavailable, never returned.
type Bybit struct {
	client   *bybit.RESTClient
	category bybit.Category
	timeout  time.Duration
	logger   *zap.Logger
}

func NewBybit(client *bybit.RESTClient, category bybit.Category, timeout time.Duration, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bybit{
		client:   client,
		category: category,
		timeout:  timeout,
		logger:   logger,
	}
}

// ListSymbols returns the tradable "BASE/QUOTE" pairs of the configured
// category, or an empty slice when the exchange cannot be reached.
func (b *Bybit) ListSymbols(ctx context.Context) []string {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	symbols, err := b.client.GetTradingPairs(ctx, b.category)
	if err != nil {
		b.logger.Warn("failed to load symbols", zap.String("category", string(b.category)), zap.Error(err))
		return []string{}
	}
	b.logger.Debug("loaded symbols", zap.Int("count", len(symbols)))
	if symbols == nil {
		return []string{}
	}
	return symbols
}

// CurrentPrice returns the last traded price of symbol ("BTC/USDT").
func (b *Bybit) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	ticker, err := b.client.GetTicker(ctx, b.category, symbol)
	if err != nil {
		b.logger.Warn("failed to fetch ticker", zap.String("symbol", symbol), zap.Error(err))
		return decimal.Zero, false
	}

	price, err := decimal.NewFromString(ticker.LastPrice)
	if err != nil {
		b.logger.Warn("unparsable last price",
			zap.String("symbol", symbol),
			zap.String("last_price", ticker.LastPrice),
			zap.Error(err))
		return decimal.Zero, false
	}
	if !price.IsPositive() {
		b.logger.Warn("non-positive last price", zap.String("symbol", symbol), zap.Stringer("price", price))
		return decimal.Zero, false
	}
	return price, true
}

func (b *Bybit) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}
