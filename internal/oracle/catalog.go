package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source is any price oracle the catalog can wrap.
type Source interface {
	ListSymbols(ctx context.Context) []string
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool)
}

// Catalog caches the symbol list of a Source and refreshes it once at
// startup and then every UTC midnight. Prices are always passed through.
type Catalog struct {
	src    Source
	logger *zap.Logger

	mu       sync.RWMutex
	symbols  []string
	loadedAt time.Time
}

func NewCatalog(src Source, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{src: src, logger: logger}
}

// Refresh reloads the symbol list. An empty answer keeps the previous list.
func (c *Catalog) Refresh(ctx context.Context) int {
	symbols := c.src.ListSymbols(ctx)
	if len(symbols) == 0 {
		c.logger.Warn("symbol refresh returned nothing, keeping previous catalog")
		c.mu.RLock()
		defer c.mu.RUnlock()
		return len(c.symbols)
	}

	c.mu.Lock()
	c.symbols = append([]string(nil), symbols...)
	c.loadedAt = time.Now().UTC()
	c.mu.Unlock()

	c.logger.Info("loaded symbols", zap.Int("count", len(symbols)))
	return len(symbols)
}

// Start refreshes immediately, then at every following UTC midnight until
// ctx is done.
func (c *Catalog) Start(ctx context.Context) {
	go func() {
		c.Refresh(ctx)

		timer := time.NewTimer(time.Until(nextUTCMidnight(time.Now())))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				c.Refresh(ctx)
				timer.Reset(time.Until(nextUTCMidnight(time.Now())))
			}
		}
	}()
}

// LoadedAt reports when the catalog was last refreshed successfully.
func (c *Catalog) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

func (c *Catalog) ListSymbols(ctx context.Context) []string {
	c.mu.RLock()
	if len(c.symbols) > 0 {
		out := make([]string, len(c.symbols))
		copy(out, c.symbols)
		c.mu.RUnlock()
		return out
	}
	c.mu.RUnlock()

	// Nothing cached yet
	c.Refresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.symbols))
	copy(out, c.symbols)
	return out
}

func (c *Catalog) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	return c.src.CurrentPrice(ctx, symbol)
}

func nextUTCMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
}
