package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"portfolioledger/internal/ledger"
	"portfolioledger/pkg/storage"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "portfolio:ledger:"

// RedisStore keeps each account's ledger document under its own key. A
// single SET replaces the whole record, so readers never see a partial one.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func New(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + accountID
}

func (s *RedisStore) Load(ctx context.Context, accountID string) (ledger.AccountLedger, error) {
	data, err := s.client.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.AccountLedger{}, storage.ErrNotFound
	}
	if err != nil {
		return ledger.AccountLedger{}, fmt.Errorf("redis get %s: %w", accountID, err)
	}
	return ledger.Decode(accountID, data)
}

func (s *RedisStore) Save(ctx context.Context, accountID string, l ledger.AccountLedger) error {
	data, err := ledger.Encode(l)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(accountID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", accountID, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
