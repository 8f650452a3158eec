package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"portfolioledger/internal/ledger"
	"portfolioledger/pkg/storage"

	"go.uber.org/zap"
)

const (
	recordExt = ".json"
	tempGlob  = ".ledger-*.tmp"
)

// FileStore keeps one JSON record per account in a directory.
type FileStore struct {
	dir     string
	logger  *zap.Logger
	syncDir func(dir string) error
}

type Option func(*FileStore)

func WithLogger(logger *zap.Logger) Option {
	return func(s *FileStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates dir if needed and returns a store rooted there.
func New(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s := &FileStore{dir: dir, logger: zap.NewNop(), syncDir: syncDir}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// path maps an opaque account identifier to a safe file name.
func (s *FileStore) path(accountID string) string {
	name := base64.RawURLEncoding.EncodeToString([]byte(accountID))
	return filepath.Join(s.dir, name+recordExt)
}

func (s *FileStore) Load(ctx context.Context, accountID string) (ledger.AccountLedger, error) {
	data, err := os.ReadFile(s.path(accountID))
	if errors.Is(err, fs.ErrNotExist) {
		return ledger.AccountLedger{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.AccountLedger{}, fmt.Errorf("read ledger %s: %w", accountID, err)
	}
	return ledger.Decode(accountID, data)
}

// Save writes the record to a temp file in the same directory, syncs it and
// renames it over the previous record. Once the rename has happened the new
// record is what Load returns, so a failed directory sync is only logged.
func (s *FileStore) Save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := ledger.Encode(l)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, tempGlob)
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpName, s.path(accountID)); err != nil {
		return fmt.Errorf("replace record %s: %w", accountID, err)
	}
	committed = true

	if err := s.syncDir(s.dir); err != nil {
		s.logger.Warn("record replaced but directory sync failed",
			zap.String("account", accountID), zap.Error(err))
	}
	return nil
}

// List decodes the account identifiers of every record in the directory.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, recordExt))
		if err != nil {
			continue // not one of ours
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open store directory: %w", err)
	}
	defer d.Close()
	// Some filesystems do not support fsync on directories.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return fmt.Errorf("sync store directory: %w", err)
	}
	return nil
}
