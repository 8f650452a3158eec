package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"portfolioledger/internal/ledger"
	"portfolioledger/pkg/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Save upserts the account's row in a single statement, so the previous
// document stays visible until the new one is committed.
func (p *SQLClient) Save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	data, err := ledger.Encode(l)
	if err != nil {
		return err
	}

	record := &AccountLedgerRecord{
		AccountID:     accountID,
		SchemaVersion: ledger.SchemaVersion,
		Document:      string(data),
		LotCount:      len(l.Lots),
		TxCount:       len(l.Transactions),
		UpdatedAt:     time.Now().UTC(),
	}

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"schema_version",
			"document",
			"lot_count",
			"tx_count",
			"updated_at",
		}),
	}).Create(record)

	if tx.Error != nil {
		return fmt.Errorf("upsert ledger %s: %w", accountID, tx.Error)
	}
	return nil
}

func (p *SQLClient) Load(ctx context.Context, accountID string) (ledger.AccountLedger, error) {
	var record AccountLedgerRecord
	err := p.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccountLedger{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.AccountLedger{}, fmt.Errorf("select ledger %s: %w", accountID, err)
	}
	return ledger.Decode(accountID, []byte(record.Document))
}

func (p *SQLClient) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := p.DB.WithContext(ctx).
		Model(&AccountLedgerRecord{}).
		Order("account_id").
		Pluck("account_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list ledgers: %w", err)
	}
	return ids, nil
}

// DeleteStale removes ledgers not updated since before. Used for cleaning up
// test fixtures; the service itself never deletes accounts.
func (p *SQLClient) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tx := p.DB.WithContext(ctx).
		Where("updated_at < ?", before).
		Delete(&AccountLedgerRecord{})
	return tx.RowsAffected, tx.Error
}
