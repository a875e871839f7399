// Package ledger implements the wallet ledger: a durable, append-only
// transaction log per user plus the derived running balance.
//
// All mutations to a user's wallet go through ApplyTransaction on the store,
// serialized per user, so a balance read, debit check, and append can never
// interleave with another writer for the same user. Cross-user operations
// need no coordination.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/id"
	"github.com/polyagent/trading-engine/internal/model"
	"github.com/polyagent/trading-engine/internal/position"
	"github.com/polyagent/trading-engine/internal/store"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrInvalidPrice is returned when a trade price is outside (0, 1).
	ErrInvalidPrice = errors.New("ledger: price must be between 0 and 1 exclusive")

	// ErrInvalidOutcome is returned for outcomes other than YES/NO.
	ErrInvalidOutcome = errors.New("ledger: outcome must be YES or NO")

	// ErrInvalidSide is returned for sides other than BUY/SELL.
	ErrInvalidSide = errors.New("ledger: side must be BUY or SELL")

	// ErrLedgerCorrupt is returned when replaying the transaction log does
	// not reproduce the stored balance.
	ErrLedgerCorrupt = errors.New("ledger: balance does not match transaction replay")
)

// Balance is the response shape of GetBalance. Available equals the cash
// balance: trades are debited at execution time, so the cost basis locked in
// open positions is informational and never subtracted again.
type Balance struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available_for_trading"`
	Locked    decimal.Decimal `json:"locked_in_trades"`
}

// Service owns all wallet and transaction-log operations.
type Service struct {
	store store.Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-user write serialization
}

// NewService creates a ledger service on top of a store.
func NewService(st store.Store) *Service {
	return &Service{
		store: st,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source. For tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// userLock returns the mutex serializing writes for one user.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// CreateWallet creates a wallet for the user, funding it with an opening
// deposit when initialBalance is positive. Calling it again for the same
// user is a read-through: the existing wallet is returned unchanged and
// created is false.
func (s *Service) CreateWallet(ctx context.Context, userID string, initialBalance decimal.Decimal) (*model.Wallet, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("ledger: user id is required")
	}
	if initialBalance.IsNegative() {
		return nil, false, ErrInvalidAmount
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	w := &model.Wallet{
		UserID:    userID,
		WalletID:  uuid.New().String(),
		Balance:   decimal.Zero,
		Currency:  "USD",
		CreatedAt: s.now().UTC(),
	}

	err := s.store.CreateWallet(ctx, w)
	if errors.Is(err, store.ErrWalletExists) {
		existing, err := s.store.GetWallet(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if initialBalance.IsPositive() {
		// The opening balance is itself a transaction so the whole log
		// replays to the current balance from zero.
		w, err = s.applyLocked(ctx, &model.Transaction{
			UserID: userID,
			Type:   model.TxnDeposit,
			Amount: initialBalance,
			Source: "initial",
		})
		if err != nil {
			return nil, false, err
		}
	}
	return w, true, nil
}

// AddFunds deposits amount into the user's wallet. Source is a free-text
// origin tag ("deposit" when empty).
func (s *Service) AddFunds(ctx context.Context, userID string, amount decimal.Decimal, source string) (*model.Transaction, *model.Wallet, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if source == "" {
		source = "deposit"
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	txn := &model.Transaction{
		UserID: userID,
		Type:   model.TxnDeposit,
		Amount: amount,
		Source: source,
	}
	w, err := s.applyLocked(ctx, txn)
	if err != nil {
		return nil, nil, err
	}
	return txn, w, nil
}

// RecordTrade appends a trade transaction. Buys debit the balance, sells
// credit it. A buy that would drive the balance negative fails with
// store.ErrInsufficientFunds and appends nothing.
func (s *Service) RecordTrade(ctx context.Context, userID, marketID, outcome, side string, amount, price decimal.Decimal) (*model.Transaction, *model.Wallet, error) {
	return s.recordTrade(ctx, model.TxnTrade, userID, marketID, outcome, side, amount, price)
}

// RecordExit appends an exit transaction: a forced sell closing a position,
// submitted by the auto-exit engine. Identical to a sell trade except for
// the transaction type, which keeps forced closures distinguishable in the
// log.
func (s *Service) RecordExit(ctx context.Context, userID, marketID, outcome string, amount, price decimal.Decimal) (*model.Transaction, *model.Wallet, error) {
	return s.recordTrade(ctx, model.TxnExit, userID, marketID, outcome, model.SideSell, amount, price)
}

func (s *Service) recordTrade(ctx context.Context, txnType, userID, marketID, outcome, side string, amount, price decimal.Decimal) (*model.Transaction, *model.Wallet, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, nil, ErrInvalidPrice
	}
	if outcome != model.OutcomeYes && outcome != model.OutcomeNo {
		return nil, nil, ErrInvalidOutcome
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, nil, ErrInvalidSide
	}

	// Signed effect on balance: buys spend cash, sells return it.
	effect := amount
	if side == model.SideBuy {
		effect = amount.Neg()
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	txn := &model.Transaction{
		UserID:   userID,
		Type:     txnType,
		Side:     side,
		MarketID: marketID,
		Outcome:  outcome,
		Price:    price,
		Amount:   effect,
	}
	w, err := s.applyLocked(ctx, txn)
	if err != nil {
		return nil, nil, err
	}
	return txn, w, nil
}

// applyLocked assigns id and timestamp and applies the transaction. The
// caller must hold the user lock. If the store fails, the in-memory view is
// never advanced past the failed write — the transaction simply does not
// exist.
func (s *Service) applyLocked(ctx context.Context, txn *model.Transaction) (*model.Wallet, error) {
	txn.ID = id.New()
	txn.Timestamp = s.now().UTC()
	return s.store.ApplyTransaction(ctx, txn)
}

// GetBalance returns the cash balance plus the cost basis currently locked
// in open positions. The transaction log is replayed on every load to verify
// the balance invariant.
func (s *Service) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := Verify(txns, w.Balance); err != nil {
		return nil, err
	}

	locked := decimal.Zero
	for _, p := range position.Derive(txns) {
		locked = locked.Add(p.Invested)
	}

	return &Balance{
		UserID:    userID,
		Balance:   w.Balance,
		Currency:  w.Currency,
		Available: w.Balance,
		Locked:    locked,
	}, nil
}

// ListTransactions returns up to limit transactions, most recent first, and
// the total number in the log. limit <= 0 means everything.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, int, error) {
	txns, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	total := len(txns)

	// Reverse to most-recent-first.
	out := make([]model.Transaction, 0, total)
	for i := total - 1; i >= 0; i-- {
		out = append(out, txns[i])
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

// Transactions returns the raw append-ordered log, for position derivation.
func (s *Service) Transactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.store.ListTransactions(ctx, userID)
}

// Verify replays an append-ordered transaction log and checks that every
// BalanceAfter snapshot matches the running sum and that the final sum
// equals the stored balance. Detects drift between memory and disk.
func Verify(txns []model.Transaction, balance decimal.Decimal) error {
	running := decimal.Zero
	for _, t := range txns {
		running = running.Add(t.Amount)
		if !t.BalanceAfter.Equal(running) {
			return fmt.Errorf("%w: transaction %s has balance_after %s, replay gives %s",
				ErrLedgerCorrupt, t.ID, t.BalanceAfter, running)
		}
	}
	if !running.Equal(balance) {
		return fmt.Errorf("%w: stored balance %s, replay gives %s",
			ErrLedgerCorrupt, balance, running)
	}
	return nil
}
