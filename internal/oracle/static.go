package oracle

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Static serves prices from an in-memory table. Used offline and in tests.
type Static struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewStatic(prices map[string]decimal.Decimal) *Static {
	s := &Static{prices: make(map[string]decimal.Decimal, len(prices))}
	for sym, p := range prices {
		s.prices[sym] = p
	}
	return s
}

// Set replaces the price of symbol. A non-positive price makes it unavailable.
func (s *Static) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *Static) ListSymbols(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.prices))
	for sym := range s.prices {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *Static) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}
