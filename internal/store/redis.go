package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyagent/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for wallets and transaction logs. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Analytics records are not cached: rollups and exports always read
// the full category anyway.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	if err := s.primary.CreateWallet(ctx, w); err != nil {
		return err
	}
	s.cacheWallet(ctx, w)
	return nil
}

func (s *CachedStore) ApplyTransaction(ctx context.Context, txn *model.Transaction) (*model.Wallet, error) {
	w, err := s.primary.ApplyTransaction(ctx, txn)
	if err != nil {
		return nil, err
	}
	// Invalidate both; next read re-populates.
	s.rdb.Del(ctx, walletKey(txn.UserID), txnsKey(txn.UserID))
	return w, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	data, err := s.rdb.Get(ctx, walletKey(userID)).Bytes()
	if err == nil {
		var w model.Wallet
		if json.Unmarshal(data, &w) == nil {
			return &w, nil
		}
	}

	w, err := s.primary.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheWallet(ctx, w)
	return w, nil
}

func (s *CachedStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	data, err := s.rdb.Get(ctx, txnsKey(userID)).Bytes()
	if err == nil {
		var txns []model.Transaction
		if json.Unmarshal(data, &txns) == nil {
			return txns, nil
		}
	}

	txns, err := s.primary.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(txns); err == nil {
		s.rdb.Set(ctx, txnsKey(userID), data, s.ttl)
	}
	return txns, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) AppendRecord(ctx context.Context, rec *model.Record) error {
	return s.primary.AppendRecord(ctx, rec)
}

func (s *CachedStore) ListRecords(ctx context.Context, category string) ([]model.Record, error) {
	return s.primary.ListRecords(ctx, category)
}

func (s *CachedStore) DeleteRecordsBefore(ctx context.Context, category string, cutoff time.Time) (int, error) {
	return s.primary.DeleteRecordsBefore(ctx, category, cutoff)
}

func (s *CachedStore) Close() error {
	return s.primary.Close()
}

// --- Cache helpers ---

func (s *CachedStore) cacheWallet(ctx context.Context, w *model.Wallet) {
	if data, err := json.Marshal(w); err == nil {
		s.rdb.Set(ctx, walletKey(w.UserID), data, s.ttl)
	}
}

func walletKey(uid string) string { return fmt.Sprintf("wallet:%s", uid) }
func txnsKey(uid string) string   { return fmt.Sprintf("txns:%s", uid) }
