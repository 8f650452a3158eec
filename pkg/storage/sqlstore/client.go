package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"portfolioledger/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLClient stores account ledgers through GORM. The same client serves the
// postgres and sqlite dialects.
type SQLClient struct {
	DB *gorm.DB
}

func open(dialector gorm.Dialector) (*SQLClient, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return &SQLClient{DB: db}, nil
}

// NewPostgresClient connects to postgres with the given DSN.
func NewPostgresClient(dsn string) (*SQLClient, error) {
	c, err := open(postgres.Open(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return c, nil
}

// NewSQLiteClient opens (or creates) the sqlite database at path.
func NewSQLiteClient(path string) (*SQLClient, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	c, err := open(sqlite.Open(path + "?_busy_timeout=5000&_journal_mode=WAL"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return c, nil
}

// InitializeAndMigrate connects to Postgres, optionally creates the DB, applies
// pool limits and runs AutoMigrate.
func InitializeAndMigrate(ctx context.Context, cfg config.PostgresConfig, env string, createDB bool) (*SQLClient, error) {
	if createDB {
		if err := CreateDatabase(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	client, err := NewPostgresClient(cfg.DSN(env))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if err := client.ConfigurePool(cfg); err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := client.AutoMigrate(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return client, nil
}

func (p *SQLClient) ConfigurePool(cfg config.PostgresConfig) error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return nil
}

func (p *SQLClient) AutoMigrate() error {
	if err := p.DB.AutoMigrate(&AccountLedgerRecord{}); err != nil {
		return fmt.Errorf("auto-migrate account ledger table: %w", err)
	}
	return nil
}

func (p *SQLClient) IsHealthy(ctx context.Context) bool {
	db, err := p.DB.DB()
	if err != nil {
		return false
	}
	return db.PingContext(ctx) == nil
}

func (p *SQLClient) Close() error {
	db, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to retrieve raw DB: %w", err)
	}
	return db.Close()
}
