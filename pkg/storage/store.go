// Package storage defines the durable persistence contract for account ledgers.
//
// Each implementation keeps exactly one record per account identifier and
// replaces it atomically on Save, so a crash mid-write never exposes a
// half-written record to the next Load.
package storage

import (
	"context"
	"errors"

	"portfolioledger/internal/ledger"
)

// ErrNotFound is returned by Load when no record exists for the account.
var ErrNotFound = errors.New("account ledger not found")

type Store interface {
	// Load returns the stored ledger for accountID, or ErrNotFound.
	Load(ctx context.Context, accountID string) (ledger.AccountLedger, error)

	// Save replaces the full record of accountID with l.
	Save(ctx context.Context, accountID string, l ledger.AccountLedger) error

	Close() error
}

// Lister is implemented by stores that can enumerate their accounts.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}
