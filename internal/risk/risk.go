// Package risk implements pre-trade validation and Kelly-criterion stake
// sizing for binary prediction markets.
//
// The Kelly criterion maximizes long-run logarithmic bankroll growth:
//
//	f* = (b·p − q) / b
//
// where b = 1/marketProbability − 1 (net odds), p = estimated true
// probability, q = 1 − p. Full Kelly is aggressive; the calculator applies a
// configurable fraction (quarter-Kelly by default) for safety.
//
// Money stays in shopspring/decimal; probabilities and fractions are
// float64, converted to decimal only at the final stake.
//
// Reference: Kelly, J. L. (1956) "A New Interpretation of Information Rate"
package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidProbability is returned when a probability is outside the
	// open interval (0, 1). A market probability at exactly 0 or 1 has no
	// defined odds.
	ErrInvalidProbability = errors.New("risk: probability must be strictly between 0 and 1")

	// ErrInvalidBankroll is returned when bankroll is not positive.
	ErrInvalidBankroll = errors.New("risk: bankroll must be positive")

	// ErrInvalidFraction is returned when the Kelly fraction is outside (0, 1].
	ErrInvalidFraction = errors.New("risk: kelly fraction must be in (0, 1]")
)

// Risk levels order tier ceilings: HIGH markets get the tightest cap.
const (
	LevelLow    = "LOW"
	LevelMedium = "MEDIUM"
	LevelHigh   = "HIGH"
)

// Limits holds the risk-management parameters for trade validation.
// Not persisted per user; configured once at startup.
type Limits struct {
	MaxSingleTrade decimal.Decimal // absolute ceiling, applies to LOW
	MaxHighRisk    decimal.Decimal // ceiling for HIGH risk markets
	MaxMediumRisk  decimal.Decimal // ceiling for MEDIUM risk markets
	MinConfidence  float64         // percent, trades below are rejected
	MinTradeAmount decimal.Decimal // trades below are rejected
}

// DefaultLimits returns the standard limit set: $1000 max single trade,
// $200/$500 HIGH/MEDIUM ceilings, 60% minimum confidence, $10 minimum trade.
func DefaultLimits() Limits {
	return Limits{
		MaxSingleTrade: decimal.NewFromInt(1000),
		MaxHighRisk:    decimal.NewFromInt(200),
		MaxMediumRisk:  decimal.NewFromInt(500),
		MinConfidence:  60,
		MinTradeAmount: decimal.NewFromInt(10),
	}
}

// ceiling returns the dollar cap for a declared risk level. Unknown levels
// fall back to the absolute single-trade ceiling.
func (l Limits) ceiling(riskLevel string) decimal.Decimal {
	switch riskLevel {
	case LevelHigh:
		return l.MaxHighRisk
	case LevelMedium:
		return l.MaxMediumRisk
	default:
		return l.MaxSingleTrade
	}
}

// Proposal describes a trade submitted for validation.
type Proposal struct {
	MarketID   string          `json:"market_id"`
	Outcome    string          `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence float64         `json:"confidence"` // percent, 0-100
	RiskLevel  string          `json:"risk_level"` // LOW, MEDIUM or HIGH
}

// Validation is the result of checking a proposal against limits.
// AdjustedAmount is the amount after clamping to the tier ceiling; it is
// meaningful even when the trade is rejected.
type Validation struct {
	Approved       bool            `json:"approved"`
	AdjustedAmount decimal.Decimal `json:"adjusted_amount"`
	MaxAllowed     decimal.Decimal `json:"max_allowed_amount"`
	Warnings       []string        `json:"warnings"`
	Reasoning      string          `json:"reasoning"`
}

// ValidateTrade checks a proposal against the limits. Rejection (confidence
// floor, minimum amount) and clamping (tier ceiling) are independent checks
// evaluated together: a clamped amount never flips a rejection back to
// approved.
func ValidateTrade(p Proposal, limits Limits) Validation {
	v := Validation{
		Approved:       true,
		AdjustedAmount: p.Amount,
		MaxAllowed:     limits.ceiling(p.RiskLevel),
	}
	reasoning := ""

	if p.Confidence < limits.MinConfidence {
		v.Approved = false
		reasoning += fmt.Sprintf("Confidence %.0f%% is below minimum threshold of %.0f%%. ",
			p.Confidence, limits.MinConfidence)
		v.Warnings = append(v.Warnings, fmt.Sprintf("Low confidence: %.0f%%", p.Confidence))
	}

	if p.Amount.GreaterThan(v.MaxAllowed) {
		v.AdjustedAmount = v.MaxAllowed
		switch p.RiskLevel {
		case LevelHigh, LevelMedium:
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Amount reduced from $%s to $%s due to %s risk level",
				p.Amount, v.MaxAllowed, p.RiskLevel))
			reasoning += fmt.Sprintf("%s risk market: limiting trade to $%s. ",
				titleCase(p.RiskLevel), v.MaxAllowed)
		default:
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Amount reduced from $%s to $%s (max single trade)",
				p.Amount, v.MaxAllowed))
			reasoning += fmt.Sprintf("Trade limited to maximum single trade amount of $%s. ",
				v.MaxAllowed)
		}
	}

	if p.Amount.LessThan(limits.MinTradeAmount) {
		v.Approved = false
		v.Warnings = append(v.Warnings, fmt.Sprintf("Trade amount below $%s minimum", limits.MinTradeAmount))
		reasoning += fmt.Sprintf("Trade amount too small (minimum $%s). ", limits.MinTradeAmount)
	}

	switch {
	case v.Approved && len(v.Warnings) == 0:
		reasoning = fmt.Sprintf("Trade approved: $%s on %s with %.0f%% confidence (%s risk).",
			v.AdjustedAmount, p.Outcome, p.Confidence, p.RiskLevel)
	case v.Approved:
		reasoning += "Trade approved with adjustments."
	default:
		reasoning += "Trade rejected."
	}
	v.Reasoning = reasoning
	return v
}

func titleCase(level string) string {
	switch level {
	case LevelHigh:
		return "High"
	case LevelMedium:
		return "Medium"
	case LevelLow:
		return "Low"
	}
	return level
}

// KellyResult holds the output of the stake calculator. Edge and
// ExpectedValue follow the reference formulas exactly: edge = p − q as a
// probability-space fraction, expected value = (b·p − (1−p)) · 100 as
// percent return per dollar staked.
type KellyResult struct {
	OptimalStake  decimal.Decimal `json:"optimal_bet_size"`
	FullKelly     decimal.Decimal `json:"full_kelly_size"`
	Edge          float64         `json:"edge"`
	ExpectedValue float64         `json:"expected_value"`
	Advice        string          `json:"recommendation"`
}

// KellyStake computes the optimal stake for a bet where the trader estimates
// the true probability of winning at trueProb against a market implying
// marketProb. fraction scales full Kelly down (0.25 = quarter Kelly).
// Stakes are rounded to cents and floored at zero: a negative Kelly
// fraction means no bet, never a short.
func KellyStake(trueProb, marketProb float64, bankroll decimal.Decimal, fraction float64) (*KellyResult, error) {
	if trueProb <= 0 || trueProb >= 1 || marketProb <= 0 || marketProb >= 1 {
		return nil, ErrInvalidProbability
	}
	if !bankroll.IsPositive() {
		return nil, ErrInvalidBankroll
	}
	if fraction <= 0 || fraction > 1 {
		return nil, ErrInvalidFraction
	}

	edge := trueProb - marketProb
	odds := 1/marketProb - 1
	q := 1 - trueProb
	fullKelly := (odds*trueProb - q) / odds

	stakeFraction := math.Max(0, fullKelly*fraction)
	optimal := bankroll.Mul(decimal.NewFromFloat(stakeFraction)).Round(2)
	full := bankroll.Mul(decimal.NewFromFloat(math.Max(0, fullKelly))).Round(2)

	return &KellyResult{
		OptimalStake:  optimal,
		FullKelly:     full,
		Edge:          edge,
		ExpectedValue: math.Round((odds*trueProb-q)*100*100) / 100,
		Advice:        advise(edge),
	}, nil
}

// advise buckets the edge into a recommendation.
func advise(edge float64) string {
	switch {
	case edge <= 0:
		return "No edge detected. Do not bet."
	case edge < 0.05:
		return "Small edge. Consider smaller position or skip."
	case edge < 0.15:
		return "Moderate edge. Reasonable bet opportunity."
	default:
		return "Strong edge. Good bet opportunity."
	}
}
