package store

import (
	"context"
	"sync"
	"time"

	"github.com/polyagent/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	wallets map[string]*model.Wallet
	txns    map[string][]model.Transaction // userID → append-ordered log
	records map[string][]model.Record      // category → append-ordered records
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*model.Wallet),
		txns:    make(map[string][]model.Transaction),
		records: make(map[string][]model.Record),
	}
}

func (s *MemoryStore) CreateWallet(_ context.Context, w *model.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.wallets[w.UserID]; ok {
		return ErrWalletExists
	}

	// Store a copy to avoid external mutation.
	copy := *w
	s.wallets[w.UserID] = &copy
	return nil
}

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*model.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copy := *w
	return &copy, nil
}

func (s *MemoryStore) ApplyTransaction(_ context.Context, txn *model.Transaction) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[txn.UserID]
	if !ok {
		return nil, ErrWalletNotFound
	}

	newBalance := w.Balance.Add(txn.Amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}

	txn.BalanceAfter = newBalance
	w.Balance = newBalance
	s.txns[txn.UserID] = append(s.txns[txn.UserID], *txn)

	copy := *w
	return &copy, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.wallets[userID]; !ok {
		return nil, ErrWalletNotFound
	}

	log := s.txns[userID]
	result := make([]model.Transaction, len(log))
	copy(result, log)
	return result, nil
}

func (s *MemoryStore) AppendRecord(_ context.Context, rec *model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Category] = append(s.records[rec.Category], *rec)
	return nil
}

func (s *MemoryStore) ListRecords(_ context.Context, category string) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[category]
	result := make([]model.Record, len(recs))
	copy(result, recs)
	return result, nil
}

func (s *MemoryStore) DeleteRecordsBefore(_ context.Context, category string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[category]
	kept := recs[:0:0]
	for _, r := range recs {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	removed := len(recs) - len(kept)
	s.records[category] = kept
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
