// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/polyagent/trading-engine/internal/model"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for a user.
	ErrWalletNotFound = errors.New("store: wallet not found")

	// ErrWalletExists is returned when creating a wallet for a user that
	// already has one.
	ErrWalletExists = errors.New("store: wallet already exists")

	// ErrInsufficientFunds is returned when applying a debit that would
	// drive the balance negative. The wallet and log are left untouched.
	ErrInsufficientFunds = errors.New("store: insufficient funds")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The in-memory implementation
// backs tests and development.
type Store interface {
	// --- Wallet operations ---

	// CreateWallet persists a new wallet. Fails with ErrWalletExists if the
	// user already has one.
	CreateWallet(ctx context.Context, w *model.Wallet) error

	// GetWallet retrieves a wallet by user ID.
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)

	// --- Immutable transaction log ---

	// ApplyTransaction atomically validates that balance + txn.Amount >= 0,
	// fills txn.BalanceAfter, appends the transaction, and updates the
	// wallet balance. Either everything commits or nothing does. Returns
	// the updated wallet.
	ApplyTransaction(ctx context.Context, txn *model.Transaction) (*model.Wallet, error)

	// ListTransactions returns a user's whole transaction log in append
	// order (oldest first).
	ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error)

	// --- Analytics records ---

	// AppendRecord appends an immutable analytics record.
	AppendRecord(ctx context.Context, rec *model.Record) error

	// ListRecords returns all records in a category, oldest first.
	ListRecords(ctx context.Context, category string) ([]model.Record, error)

	// DeleteRecordsBefore removes records in a category older than the
	// cutoff and returns the number removed. The only mutation allowed on
	// analytics records.
	DeleteRecordsBefore(ctx context.Context, category string, cutoff time.Time) (int, error)

	// Close releases any underlying resources.
	Close() error
}
