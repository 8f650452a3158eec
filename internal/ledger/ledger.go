package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput is returned before any mutation for a blank symbol,
	// a non-positive quantity or price, or a missing timestamp.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientHoldings is returned when no single lot covers a sell.
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

func validate(symbol string, quantity, price decimal.Decimal, at time.Time) error {
	switch {
	case strings.TrimSpace(symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	case !quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidInput, quantity)
	case !price.IsPositive():
		return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidInput, price)
	case at.IsZero():
		return fmt.Errorf("%w: timestamp is required", ErrInvalidInput)
	}
	return nil
}

// Buy appends a new lot. Lots of the same symbol are never merged, so every
// purchase keeps its own cost basis.
func Buy(l AccountLedger, symbol string, quantity, price decimal.Decimal, at time.Time) (AccountLedger, Lot, error) {
	if err := validate(symbol, quantity, price, at); err != nil {
		return l, Lot{}, err
	}

	lot := Lot{
		Symbol:   symbol,
		Quantity: quantity,
		UnitCost: price,
		OpenedAt: at,
	}
	next := l.Clone()
	next.Lots = append(next.Lots, lot)
	return next, lot, nil
}

// Sell closes quantity against the first lot (in acquisition order) of symbol
// holding at least quantity. Quantity is never split across several lots: if
// no single lot is large enough the sell fails with ErrInsufficientHoldings,
// even when the lots together would cover it.
func Sell(l AccountLedger, symbol string, quantity, price decimal.Decimal, at time.Time) (AccountLedger, ClosedTransaction, error) {
	if err := validate(symbol, quantity, price, at); err != nil {
		return l, ClosedTransaction{}, err
	}

	idx := -1
	for i, lot := range l.Lots {
		if lot.Symbol == symbol && lot.Quantity.GreaterThanOrEqual(quantity) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return l, ClosedTransaction{}, fmt.Errorf("%w: no lot of %s holds %s",
			ErrInsufficientHoldings, symbol, quantity)
	}

	next := l.Clone()
	matched := &next.Lots[idx]

	tx := ClosedTransaction{
		Symbol:    symbol,
		Quantity:  quantity,
		BuyPrice:  matched.UnitCost,
		SellPrice: price,
		PnL:       price.Sub(matched.UnitCost).Mul(quantity),
		ClosedAt:  at,
	}
	next.Transactions = append(next.Transactions, tx)

	matched.Quantity = matched.Quantity.Sub(quantity)
	if matched.Quantity.IsZero() {
		next.Lots = append(next.Lots[:idx], next.Lots[idx+1:]...)
	}
	return next, tx, nil
}

// Delete drops every lot of symbol without recording a transaction. It is a
// corrective edit, not a trade, and returns how many lots were removed.
func Delete(l AccountLedger, symbol string) (AccountLedger, int, error) {
	if strings.TrimSpace(symbol) == "" {
		return l, 0, fmt.Errorf("%w: symbol is required", ErrInvalidInput)
	}

	next := l.Clone()
	kept := next.Lots[:0]
	for _, lot := range next.Lots {
		if lot.Symbol != symbol {
			kept = append(kept, lot)
		}
	}
	removed := len(next.Lots) - len(kept)
	next.Lots = kept
	return next, removed, nil
}

// UnrealizedPnL values each lot against priceBySymbol. A symbol without a
// price yields zero P&L with PriceAvailable unset.
func UnrealizedPnL(lots []Lot, priceBySymbol map[string]decimal.Decimal) []Valuation {
	out := make([]Valuation, 0, len(lots))
	for _, lot := range lots {
		v := Valuation{
			Lot:           lot,
			CurrentPrice:  decimal.Zero,
			UnrealizedPnL: decimal.Zero,
		}
		if price, ok := priceBySymbol[lot.Symbol]; ok && price.IsPositive() {
			v.CurrentPrice = price
			v.PriceAvailable = true
			v.UnrealizedPnL = price.Sub(lot.UnitCost).Mul(lot.Quantity)
		}
		out = append(out, v)
	}
	return out
}

// TotalRealizedPnL sums the P&L of every closed transaction.
func TotalRealizedPnL(txs []ClosedTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.PnL)
	}
	return total
}

// TotalUnrealizedPnL sums the unrealized P&L of valuations.
func TotalUnrealizedPnL(vals []Valuation) decimal.Decimal {
	total := decimal.Zero
	for _, v := range vals {
		total = total.Add(v.UnrealizedPnL)
	}
	return total
}
