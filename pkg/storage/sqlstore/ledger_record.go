package sqlstore

import "time"

// AccountLedgerRecord is one account's full ledger, stored as a versioned
// JSON document in a single row.
type AccountLedgerRecord struct {
	AccountID     string    `gorm:"primaryKey;type:text"`
	SchemaVersion int       `gorm:"not null"`
	Document      string    `gorm:"type:text;not null"`
	LotCount      int       `gorm:"not null"`
	TxCount       int       `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null;index:idx_account_ledger_updated_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (AccountLedgerRecord) TableName() string {
	return "account_ledgers"
}
