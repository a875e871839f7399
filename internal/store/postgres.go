package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/model"
)

// Schema is applied idempotently at startup. Monetary columns are NUMERIC
// for exact decimal precision. The transaction log is append-only: rows are
// never updated or deleted.
const Schema = `
CREATE TABLE IF NOT EXISTS wallets (
	user_id    TEXT PRIMARY KEY,
	wallet_id  TEXT NOT NULL,
	balance    NUMERIC NOT NULL CHECK (balance >= 0),
	currency   TEXT NOT NULL DEFAULT 'USD',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL REFERENCES wallets(user_id),
	type          TEXT NOT NULL,
	side          TEXT NOT NULL DEFAULT '',
	market_id     TEXT NOT NULL DEFAULT '',
	outcome       TEXT NOT NULL DEFAULT '',
	price         NUMERIC NOT NULL DEFAULT 0,
	amount        NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	timestamp     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_txns_user ON transactions(user_id, id);

CREATE TABLE IF NOT EXISTS analytics_records (
	id        TEXT PRIMARY KEY,
	category  TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	payload   JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_cat ON analytics_records(category, timestamp);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store and applies the schema.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateWallet(ctx context.Context, w *model.Wallet) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (user_id, wallet_id, balance, currency, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		w.UserID, w.WalletID, w.Balance.String(), w.Currency, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create wallet %s: %w", w.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletExists
	}
	return nil
}

func (s *PostgresStore) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	var w model.Wallet
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, wallet_id, balance::TEXT, currency, created_at
		 FROM wallets WHERE user_id = $1`, userID).
		Scan(&w.UserID, &w.WalletID, &balance, &w.Currency, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get wallet %s: %w", userID, err)
	}

	w.Balance, _ = decimal.NewFromString(balance)
	return &w, nil
}

// ApplyTransaction runs the debit check, balance update, and log append in
// one database transaction with the wallet row locked. A crash at any point
// before commit leaves no partial write.
func (s *PostgresStore) ApplyTransaction(ctx context.Context, txn *model.Transaction) (*model.Wallet, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var w model.Wallet
	var balance string
	err = tx.QueryRow(ctx,
		`SELECT user_id, wallet_id, balance::TEXT, currency, created_at
		 FROM wallets WHERE user_id = $1 FOR UPDATE`, txn.UserID).
		Scan(&w.UserID, &w.WalletID, &balance, &w.Currency, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: lock wallet %s: %w", txn.UserID, err)
	}
	w.Balance, _ = decimal.NewFromString(balance)

	newBalance := w.Balance.Add(txn.Amount)
	if newBalance.IsNegative() {
		return nil, ErrInsufficientFunds
	}
	txn.BalanceAfter = newBalance

	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions
			(id, user_id, type, side, market_id, outcome, price, amount, balance_after, source, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		txn.ID, txn.UserID, txn.Type, txn.Side, txn.MarketID, txn.Outcome,
		txn.Price.String(), txn.Amount.String(), txn.BalanceAfter.String(),
		txn.Source, txn.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("store: append transaction %s: %w", txn.ID, err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = $2::NUMERIC WHERE user_id = $1`,
		txn.UserID, newBalance.String(),
	); err != nil {
		return nil, fmt.Errorf("store: update balance %s: %w", txn.UserID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit transaction %s: %w", txn.ID, err)
	}

	w.Balance = newBalance
	return &w, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	if _, err := s.GetWallet(ctx, userID); err != nil {
		return nil, err
	}

	// ULID ids sort in append order.
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, side, market_id, outcome,
		        price::TEXT, amount::TEXT, balance_after::TEXT, source, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list transactions %s: %w", userID, err)
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var priceS, amountS, afterS string

		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Side, &t.MarketID, &t.Outcome,
			&priceS, &amountS, &afterS, &t.Source, &t.Timestamp); err != nil {
			return nil, err
		}

		t.Price, _ = decimal.NewFromString(priceS)
		t.Amount, _ = decimal.NewFromString(amountS)
		t.BalanceAfter, _ = decimal.NewFromString(afterS)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (s *PostgresStore) AppendRecord(ctx context.Context, rec *model.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO analytics_records (id, category, timestamp, payload)
		 VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Category, rec.Timestamp, payload,
	); err != nil {
		return fmt.Errorf("store: append record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, category string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM analytics_records
		 WHERE category = $1 ORDER BY timestamp`, category)
	if err != nil {
		return nil, fmt.Errorf("store: list records %s: %w", category, err)
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec model.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("store: decode record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) DeleteRecordsBefore(ctx context.Context, category string, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analytics_records WHERE category = $1 AND timestamp < $2`,
		category, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete records %s: %w", category, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
