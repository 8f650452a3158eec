package stream

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is the latest streamed price of one symbol.
type Quote struct {
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// PriceBook keeps the latest price per "BASE/QUOTE" symbol.
type PriceBook struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewPriceBook() *PriceBook {
	return &PriceBook{
		quotes: make(map[string]Quote),
	}
}

// Set stores price unless an update with a later timestamp is already present.
func (b *PriceBook) Set(symbol string, price decimal.Decimal, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cur, ok := b.quotes[symbol]; ok && cur.UpdatedAt.After(at) {
		return false
	}
	b.quotes[symbol] = Quote{Price: price, UpdatedAt: at}
	return true
}

func (b *PriceBook) Get(symbol string) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	return q, ok
}

// Prices returns a copy of the current price table.
func (b *PriceBook) Prices() map[string]decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(b.quotes))
	for sym, q := range b.quotes {
		out[sym] = q.Price
	}
	return out
}

func (b *PriceBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.quotes)
}
