// Package ledgertest holds fixtures and assertions shared by store and service tests.
package ledgertest

import (
	"testing"
	"time"

	"portfolioledger/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Epoch is the base time used by Sample.
var Epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Sample builds a ledger with two BTC lots, one ETH lot and one closed BTC sale.
func Sample(t *testing.T, accountID string) ledger.AccountLedger {
	t.Helper()

	l := ledger.New(accountID)
	steps := []struct {
		sell   bool
		symbol string
		qty    string
		price  string
	}{
		{false, "BTC/USDT", "1.0", "20000"},
		{false, "BTC/USDT", "0.5", "22000.5"},
		{false, "ETH/USDT", "3", "1500"},
		{true, "BTC/USDT", "1.0", "25000"},
	}

	var err error
	for i, s := range steps {
		at := Epoch.Add(time.Duration(i) * time.Hour)
		if s.sell {
			l, _, err = ledger.Sell(l, s.symbol, decimal.RequireFromString(s.qty), decimal.RequireFromString(s.price), at)
		} else {
			l, _, err = ledger.Buy(l, s.symbol, decimal.RequireFromString(s.qty), decimal.RequireFromString(s.price), at)
		}
		require.NoError(t, err)
	}
	return l
}

// AssertEqual compares two ledgers field by field, using decimal and time equality.
func AssertEqual(t *testing.T, want, got ledger.AccountLedger) {
	t.Helper()
	require.Equal(t, want.AccountID, got.AccountID)

	require.Len(t, got.Lots, len(want.Lots))
	for i := range want.Lots {
		w, g := want.Lots[i], got.Lots[i]
		assert.Equal(t, w.Symbol, g.Symbol, "lot %d symbol", i)
		assert.True(t, w.Quantity.Equal(g.Quantity), "lot %d quantity %s != %s", i, w.Quantity, g.Quantity)
		assert.True(t, w.UnitCost.Equal(g.UnitCost), "lot %d unit cost %s != %s", i, w.UnitCost, g.UnitCost)
		assert.True(t, w.OpenedAt.Equal(g.OpenedAt), "lot %d opened %s != %s", i, w.OpenedAt, g.OpenedAt)
	}

	require.Len(t, got.Transactions, len(want.Transactions))
	for i := range want.Transactions {
		w, g := want.Transactions[i], got.Transactions[i]
		assert.Equal(t, w.Symbol, g.Symbol, "tx %d symbol", i)
		assert.True(t, w.Quantity.Equal(g.Quantity), "tx %d quantity", i)
		assert.True(t, w.BuyPrice.Equal(g.BuyPrice), "tx %d buy price", i)
		assert.True(t, w.SellPrice.Equal(g.SellPrice), "tx %d sell price", i)
		assert.True(t, w.PnL.Equal(g.PnL), "tx %d pnl", i)
		assert.True(t, w.ClosedAt.Equal(g.ClosedAt), "tx %d closed at", i)
	}
}
