package service

import (
	"time"

	"portfolioledger/internal/ledger"

	"github.com/shopspring/decimal"
)

// AccountSnapshot is the read model handed to the presentation layer.
type AccountSnapshot struct {
	AccountID          string
	Holdings           []ledger.Valuation
	Transactions       []ledger.ClosedTransaction
	TotalRealizedPnL   decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal
	AsOf               time.Time
}

func composeSnapshot(l ledger.AccountLedger, prices map[string]decimal.Decimal, asOf time.Time) *AccountSnapshot {
	holdings := ledger.UnrealizedPnL(l.Lots, prices)
	txs := make([]ledger.ClosedTransaction, len(l.Transactions))
	copy(txs, l.Transactions)

	return &AccountSnapshot{
		AccountID:          l.AccountID,
		Holdings:           holdings,
		Transactions:       txs,
		TotalRealizedPnL:   ledger.TotalRealizedPnL(txs),
		TotalUnrealizedPnL: ledger.TotalUnrealizedPnL(holdings),
		AsOf:               asOf,
	}
}
