// Package position derives open positions from a transaction log.
//
// Positions are never stored. They are recomputed by folding a user's trade
// transactions in chronological order, which makes them a pure function of
// the ledger: no caches to invalidate, no state to drift.
package position

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/model"
)

// Derive folds an append-ordered transaction log into the set of open
// positions, one per (marketID, outcome). Shares accumulate as amount/price
// signed by side (buys positive, sells negative); invested accumulates the
// unsigned amount with the same sign convention. Positions folded flat
// (zero shares) are dropped.
//
// Deposit transactions carry no market and are skipped.
func Derive(txns []model.Transaction) map[model.PositionKey]*model.Position {
	positions := make(map[model.PositionKey]*model.Position)

	for _, t := range txns {
		if t.Type != model.TxnTrade && t.Type != model.TxnExit {
			continue
		}
		if t.Price.IsZero() {
			continue
		}

		key := model.PositionKey{MarketID: t.MarketID, Outcome: t.Outcome}
		p, ok := positions[key]
		if !ok {
			p = &model.Position{
				UserID:   t.UserID,
				MarketID: t.MarketID,
				Outcome:  t.Outcome,
				Shares:   decimal.Zero,
				Invested: decimal.Zero,
			}
			positions[key] = p
		}

		// t.Amount is the signed balance effect: negative for buys,
		// positive for sells. Position exposure moves the opposite way.
		spent := t.Amount.Neg()
		p.Shares = p.Shares.Add(spent.Div(t.Price))
		p.Invested = p.Invested.Add(spent)
	}

	for key, p := range positions {
		if p.Shares.IsZero() {
			delete(positions, key)
		}
	}
	return positions
}

// List returns the open positions sorted by (marketID, outcome) for stable
// API responses.
func List(txns []model.Transaction) []model.Position {
	derived := Derive(txns)

	out := make([]model.Position, 0, len(derived))
	for _, p := range derived {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}
