// Package model defines the core domain types shared across the trading engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxnDeposit = "DEPOSIT"
	TxnTrade   = "TRADE"
	TxnExit    = "EXIT"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Market outcomes for binary prediction markets.
const (
	OutcomeYes = "YES"
	OutcomeNo  = "NO"
)

// Wallet holds a user's cash balance. One wallet per user, owned exclusively
// by the ledger: the balance changes only through applied transactions.
type Wallet struct {
	UserID    string          `json:"user_id" db:"user_id"`
	WalletID  string          `json:"wallet_id" db:"wallet_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Currency  string          `json:"currency" db:"currency"` // always "USD"
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Transaction is an immutable record of a balance-affecting event.
// Once created, these are never modified or deleted; corrections are new
// transactions. Amount is the signed effect on the balance: deposits and
// sells are positive, buys are negative. BalanceAfter snapshots the running
// balance so the whole log can be verified by replay.
type Transaction struct {
	ID           string          `json:"id" db:"id"` // ULID: unique, time-ordered
	UserID       string          `json:"user_id" db:"user_id"`
	Type         string          `json:"type" db:"type"` // DEPOSIT, TRADE or EXIT
	Side         string          `json:"side,omitempty" db:"side"`
	MarketID     string          `json:"market_id,omitempty" db:"market_id"`
	Outcome      string          `json:"outcome,omitempty" db:"outcome"`
	Price        decimal.Decimal `json:"price,omitempty" db:"price"` // 0 < price < 1 for trades
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	Source       string          `json:"source,omitempty" db:"source"` // deposit origin tag
	Timestamp    time.Time       `json:"timestamp" db:"timestamp"`
}

// PositionKey identifies one open exposure: (marketID, outcome).
// Positions are per user; the user is implicit in the transaction log the
// position was derived from.
type PositionKey struct {
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`
}

// Position is a trader's net open exposure in one market outcome, derived
// from the transaction log — never stored.
type Position struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Outcome  string          `json:"outcome"`
	Shares   decimal.Decimal `json:"shares"`   // Σ buy shares − Σ sell shares
	Invested decimal.Decimal `json:"invested"` // cost basis net of exits
}

// EntryPrice returns the average acquisition price, invested / shares.
// Zero-share positions have no meaningful entry price.
func (p Position) EntryPrice() decimal.Decimal {
	if p.Shares.IsZero() {
		return decimal.Zero
	}
	return p.Invested.Div(p.Shares)
}

// Analytics record categories.
const (
	CategoryDecisions     = "decisions"
	CategoryTrades        = "trades"
	CategoryOpportunities = "opportunities"
	CategoryPerformance   = "performance"
	CategoryLearnings     = "learnings"
)

// Categories lists every analytics category in a stable order.
func Categories() []string {
	return []string{
		CategoryDecisions,
		CategoryTrades,
		CategoryOpportunities,
		CategoryPerformance,
		CategoryLearnings,
	}
}

// Record is an immutable analytics entry. The recorder assigns ID and
// Timestamp; everything else is caller-supplied and category-dependent.
// Records are never updated after creation and are deleted only by the
// retention sweep.
type Record struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`

	UserID   string `json:"user_id,omitempty"`
	MarketID string `json:"market_id,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Side     string `json:"side,omitempty"`

	Amount decimal.Decimal `json:"amount,omitempty"`
	Price  decimal.Decimal `json:"price,omitempty"`

	Edge          float64 `json:"edge,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	ExpectedValue float64 `json:"expected_value,omitempty"`

	DryRun  bool            `json:"dry_run,omitempty"`
	Success bool            `json:"success,omitempty"`
	Profit  decimal.Decimal `json:"profit,omitempty"`
	Loss    decimal.Decimal `json:"loss,omitempty"`

	Action    string         `json:"action,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Pattern   string         `json:"pattern,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
