package pnl

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Alert types.
const (
	AlertPriceMovement = "PRICE_MOVEMENT"
	AlertStopLoss      = "STOP_LOSS"
)

// Alert severities, in ascending order.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// Alert flags a position whose unrealized P&L crossed a warning band.
type Alert struct {
	Type           string `json:"type"`
	Message        string `json:"message"`
	MarketID       string `json:"market_id,omitempty"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// BuildAlerts scans a P&L snapshot for positions that warrant attention.
// Losses past −10% raise a HIGH price-movement alert, escalating to
// CRITICAL past −15%. Gains past +25% raise a MEDIUM take-profit nudge.
// Positions advised URGENT_SELL additionally raise a CRITICAL stop-loss
// alert.
func BuildAlerts(snap *Snapshot) []Alert {
	var alerts []Alert

	for _, res := range snap.Positions {
		// Thresholds compare the exact percentage; rounding is for display
		// only, so a -10.04% position still alerts.
		pct, _ := res.ProfitLossPercent.Round(1).Float64()

		if res.ProfitLossPercent.LessThan(decimal.NewFromInt(-10)) {
			severity := SeverityHigh
			if res.ProfitLossPercent.LessThan(decimal.NewFromInt(-15)) {
				severity = SeverityCritical
			}
			alerts = append(alerts, Alert{
				Type:           AlertPriceMovement,
				Message:        fmt.Sprintf("Position losing %.1f%%: %s %s", -pct, res.Position.MarketID, res.Position.Outcome),
				MarketID:       res.Position.MarketID,
				Severity:       severity,
				Recommendation: "Consider exiting to limit losses",
			})
		}

		if res.ProfitLossPercent.GreaterThan(decimal.NewFromInt(25)) {
			alerts = append(alerts, Alert{
				Type:           AlertPriceMovement,
				Message:        fmt.Sprintf("Position up %.1f%%: %s %s", pct, res.Position.MarketID, res.Position.Outcome),
				MarketID:       res.Position.MarketID,
				Severity:       SeverityMedium,
				Recommendation: "Consider taking profits",
			})
		}

		if res.Recommendation == RecommendUrgentSell {
			alerts = append(alerts, Alert{
				Type:           AlertStopLoss,
				Message:        fmt.Sprintf("STOP-LOSS TRIGGERED: %s %s", res.Position.MarketID, res.Position.Outcome),
				MarketID:       res.Position.MarketID,
				Severity:       SeverityCritical,
				Recommendation: "Exit position immediately",
			})
		}
	}
	return alerts
}
