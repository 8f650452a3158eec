package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is one open acquisition of a symbol, tracked until fully sold or deleted.
type Lot struct {
	Symbol   string          // Trading pair (e.g., "BTC/USDT")
	Quantity decimal.Decimal // Remaining quantity, always > 0
	UnitCost decimal.Decimal // Price per unit at acquisition
	OpenedAt time.Time
}

// ClosedTransaction records one sale matched against a lot. Never modified once appended.
type ClosedTransaction struct {
	Symbol    string
	Quantity  decimal.Decimal
	BuyPrice  decimal.Decimal // Unit cost of the matched lot
	SellPrice decimal.Decimal
	PnL       decimal.Decimal // (SellPrice - BuyPrice) * Quantity
	ClosedAt  time.Time
}

// AccountLedger holds the open lots (acquisition order) and the closed
// transactions (chronological) of a single account.
type AccountLedger struct {
	AccountID    string
	Lots         []Lot
	Transactions []ClosedTransaction
}

// Valuation is a lot annotated with its market price, if one is known.
type Valuation struct {
	Lot
	CurrentPrice   decimal.Decimal
	PriceAvailable bool
	UnrealizedPnL  decimal.Decimal
}

// New returns an empty ledger for accountID.
func New(accountID string) AccountLedger {
	return AccountLedger{
		AccountID:    accountID,
		Lots:         make([]Lot, 0),
		Transactions: make([]ClosedTransaction, 0),
	}
}

// Clone returns a deep copy so callers can modify the result without
// touching l's backing arrays.
func (l AccountLedger) Clone() AccountLedger {
	out := AccountLedger{
		AccountID:    l.AccountID,
		Lots:         make([]Lot, len(l.Lots)),
		Transactions: make([]ClosedTransaction, len(l.Transactions)),
	}
	copy(out.Lots, l.Lots)
	copy(out.Transactions, l.Transactions)
	return out
}

// Symbols returns the distinct symbols held, in first-acquisition order.
func (l AccountLedger) Symbols() []string {
	seen := make(map[string]bool, len(l.Lots))
	var out []string
	for _, lot := range l.Lots {
		if !seen[lot.Symbol] {
			seen[lot.Symbol] = true
			out = append(out, lot.Symbol)
		}
	}
	return out
}

// QuantityOf sums the open quantity of symbol across all lots.
func (l AccountLedger) QuantityOf(symbol string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range l.Lots {
		if lot.Symbol == symbol {
			total = total.Add(lot.Quantity)
		}
	}
	return total
}
