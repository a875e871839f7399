// Package pnl computes unrealized profit/loss for open positions and builds
// price-movement alerts from the results.
package pnl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/model"
)

// ErrZeroInvested is returned when computing P&L for a position with no cost
// basis. A flat position should have been dropped at derivation, so hitting
// this means the caller fed a closed or corrupt position.
var ErrZeroInvested = errors.New("pnl: position has zero invested amount")

// PriceOracle fetches the current market price for an outcome. A network
// failure or timeout must surface as an error, never as a stale or default
// price.
type PriceOracle interface {
	GetCurrentPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error)
}

// Advisory recommendations. These bands are informational guidance for the
// caller; the auto-exit engine enforces its own configurable thresholds.
const (
	RecommendHold       = "HOLD"
	RecommendSell       = "SELL"
	RecommendBuyMore    = "BUY_MORE"
	RecommendUrgentSell = "URGENT_SELL"
)

// Result is the unrealized P&L of one open position at a price.
type Result struct {
	Position          model.Position  `json:"position"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	Recommendation    string          `json:"recommendation"`
}

// Compute derives the unrealized P&L of a position at the given price:
// currentValue = shares · price, profitLoss = currentValue − invested,
// percent = profitLoss / invested · 100.
func Compute(p model.Position, currentPrice decimal.Decimal) (*Result, error) {
	if p.Invested.IsZero() {
		return nil, ErrZeroInvested
	}

	value := p.Shares.Mul(currentPrice)
	profit := value.Sub(p.Invested)
	percent := profit.Div(p.Invested).Mul(decimal.NewFromInt(100))

	return &Result{
		Position:          p,
		CurrentPrice:      currentPrice,
		CurrentValue:      value,
		ProfitLoss:        profit,
		ProfitLossPercent: percent,
		Recommendation:    Recommend(percent),
	}, nil
}

// Recommend maps an unrealized P&L percentage to an advisory action:
// URGENT_SELL at −20% or worse, SELL at +50% or better, otherwise HOLD.
func Recommend(profitLossPercent decimal.Decimal) string {
	switch {
	case profitLossPercent.LessThanOrEqual(decimal.NewFromInt(-20)):
		return RecommendUrgentSell
	case profitLossPercent.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return RecommendSell
	default:
		return RecommendHold
	}
}

// Snapshot is the P&L of every open position for a user plus the total.
type Snapshot struct {
	UserID          string          `json:"user_id"`
	Positions       []Result        `json:"positions"`
	TotalProfitLoss decimal.Decimal `json:"total_profit_loss"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Monitor combines derived positions with live oracle prices.
type Monitor struct {
	oracle PriceOracle
	now    func() time.Time
}

// NewMonitor creates a P&L monitor reading prices from the oracle.
func NewMonitor(oracle PriceOracle) *Monitor {
	return &Monitor{oracle: oracle, now: time.Now}
}

// SetClock overrides the time source. For tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Snapshot prices every open position and totals the unrealized P&L.
// An oracle failure for one market fails the whole snapshot: a partial
// total would silently understate exposure.
func (m *Monitor) Snapshot(ctx context.Context, userID string, positions []model.Position) (*Snapshot, error) {
	snap := &Snapshot{
		UserID:          userID,
		TotalProfitLoss: decimal.Zero,
		Timestamp:       m.now().UTC(),
	}

	for _, p := range positions {
		price, err := m.oracle.GetCurrentPrice(ctx, p.MarketID, p.Outcome)
		if err != nil {
			return nil, fmt.Errorf("pnl: price for %s/%s: %w", p.MarketID, p.Outcome, err)
		}
		res, err := Compute(p, price)
		if err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, *res)
		snap.TotalProfitLoss = snap.TotalProfitLoss.Add(res.ProfitLoss)
	}
	return snap, nil
}
