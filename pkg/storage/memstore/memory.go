package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"portfolioledger/internal/ledger"
	"portfolioledger/pkg/storage"
)

// ErrInjected is returned by Save while FailSaves is set.
var ErrInjected = errors.New("memstore: injected save failure")

// MemoryStore keeps encoded ledger documents in a map. Records go through the
// same codec as the durable stores so tests exercise the real encoding.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	saves   int
	fail    bool
}

func New() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
	}
}

func (m *MemoryStore) Load(ctx context.Context, accountID string) (ledger.AccountLedger, error) {
	m.mu.Lock()
	data, ok := m.records[accountID]
	m.mu.Unlock()

	if !ok {
		return ledger.AccountLedger{}, storage.ErrNotFound
	}
	return ledger.Decode(accountID, data)
}

func (m *MemoryStore) Save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	data, err := ledger.Encode(l)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("save %s: %w", accountID, ErrInjected)
	}
	m.records[accountID] = data
	m.saves++
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// FailSaves makes every following Save fail until called with false.
func (m *MemoryStore) FailSaves(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

// Saves reports the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) Close() error { return nil }
