// Package analytics records the agent's decisions, trades, opportunities,
// performance snapshots, and learned patterns as immutable append-only
// records, and computes performance rollups over them.
//
// Every append is write-through: the record is durably persisted before the
// call returns, so a crash never loses an acknowledged record. The only
// mutation ever applied is the retention sweep.
package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/exit"
	"github.com/polyagent/trading-engine/internal/id"
	"github.com/polyagent/trading-engine/internal/model"
	"github.com/polyagent/trading-engine/internal/store"
)

// DefaultRetention keeps records for 90 days.
const DefaultRetention = 90 * 24 * time.Hour

// Recorder appends analytics records and computes rollups.
type Recorder struct {
	store     store.Store
	retention time.Duration
	now       func() time.Time

	// Serializes the sweep's read-filter-delete sequence against appends so
	// a record appended mid-sweep is never lost.
	mu sync.Mutex
}

// NewRecorder creates a recorder with the given retention window.
// retention <= 0 selects the 90-day default.
func NewRecorder(st store.Store, retention time.Duration) *Recorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Recorder{
		store:     st,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the time source. For tests.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record assigns id and timestamp and durably appends the record to its
// category. Unknown categories are rejected.
func (r *Recorder) Record(ctx context.Context, category string, rec *model.Record) (*model.Record, error) {
	if !validCategory(category) {
		return nil, fmt.Errorf("analytics: unknown category %q", category)
	}

	rec.ID = id.New()
	rec.Category = category
	rec.Timestamp = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.AppendRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func validCategory(category string) bool {
	for _, c := range model.Categories() {
		if c == category {
			return true
		}
	}
	return false
}

// RecordOpportunity appends a found-opportunity record.
func (r *Recorder) RecordOpportunity(ctx context.Context, rec *model.Record) (*model.Record, error) {
	return r.Record(ctx, model.CategoryOpportunities, rec)
}

// RecordTrade appends an executed-trade record.
func (r *Recorder) RecordTrade(ctx context.Context, rec *model.Record) (*model.Record, error) {
	return r.Record(ctx, model.CategoryTrades, rec)
}

// ExitTriggered records an auto-exit as a trade record. Implements
// exit.Sink. Append failures are logged, not propagated: the exit already
// happened and must not be rolled back over an analytics write.
func (r *Recorder) ExitTriggered(ctx context.Context, e exit.Exit) {
	rec := &model.Record{
		UserID:   e.UserID,
		MarketID: e.MarketID,
		Outcome:  e.Outcome,
		Side:     model.SideSell,
		Amount:   e.Shares.Mul(e.Price),
		Price:    e.Price,
		DryRun:   e.DryRun,
		Success:  !e.ProfitLoss.IsNegative(),
		Action:   e.Action,
		Pattern:  e.Reason,
		Metadata: map[string]any{
			"detail":              e.Detail,
			"profit_loss":         e.ProfitLoss.String(),
			"profit_loss_percent": e.ProfitLossPercent.Round(2).String(),
		},
	}
	if e.ProfitLoss.IsNegative() {
		rec.Loss = e.ProfitLoss.Abs()
	} else {
		rec.Profit = e.ProfitLoss
	}

	if _, err := r.Record(ctx, model.CategoryTrades, rec); err != nil {
		slog.Error("analytics: record exit failed", "user", e.UserID, "market", e.MarketID, "err", err)
	}
}

// Performance is the rollup returned by AnalyzePerformance.
type Performance struct {
	Timeframe        string          `json:"timeframe"`
	TotalTrades      int             `json:"total_trades"`
	SuccessfulTrades int             `json:"successful_trades"`
	FailedTrades     int             `json:"failed_trades"`
	WinRate          float64         `json:"win_rate"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	TotalLoss        decimal.Decimal `json:"total_loss"`
	NetProfit        decimal.Decimal `json:"net_profit"`
	AverageEdge      float64         `json:"average_edge"`
	AverageConf      float64         `json:"average_confidence"`
	ROI              float64         `json:"roi"`
	Message          string          `json:"message,omitempty"`
}

// AnalyzePerformance rolls up trade records inside the timeframe. Dry-run
// trades never count toward profit/loss: simulated money is not performance.
func (r *Recorder) AnalyzePerformance(ctx context.Context, timeframe string) (*Performance, error) {
	window, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().UTC().Add(-window)

	all, err := r.store.ListRecords(ctx, model.CategoryTrades)
	if err != nil {
		return nil, err
	}

	var trades []model.Record
	for _, t := range all {
		if !t.Timestamp.Before(cutoff) && !t.DryRun {
			trades = append(trades, t)
		}
	}

	perf := &Performance{
		Timeframe:   timeframe,
		TotalProfit: decimal.Zero,
		TotalLoss:   decimal.Zero,
		NetProfit:   decimal.Zero,
	}
	if len(trades) == 0 {
		perf.Message = "No trades in this timeframe"
		return perf, nil
	}

	var sumEdge, sumConf float64
	for _, t := range trades {
		if t.Success {
			perf.SuccessfulTrades++
			perf.TotalProfit = perf.TotalProfit.Add(t.Profit)
		} else {
			perf.FailedTrades++
			perf.TotalLoss = perf.TotalLoss.Add(t.Loss.Abs())
		}
		sumEdge += t.Edge
		sumConf += t.Confidence
	}

	perf.TotalTrades = len(trades)
	perf.WinRate = float64(perf.SuccessfulTrades) / float64(perf.TotalTrades) * 100
	perf.NetProfit = perf.TotalProfit.Sub(perf.TotalLoss)
	perf.AverageEdge = sumEdge / float64(perf.TotalTrades)
	perf.AverageConf = sumConf / float64(perf.TotalTrades)

	turnover := perf.TotalProfit.Add(perf.TotalLoss)
	if turnover.IsPositive() {
		roi, _ := perf.NetProfit.Div(turnover).Mul(decimal.NewFromInt(100)).Float64()
		perf.ROI = roi
	}
	return perf, nil
}

// Export serializes every category for offline analysis. Supported formats:
// "json" (all categories plus counts) and "csv" (trade records only).
func (r *Recorder) Export(ctx context.Context, format string) ([]byte, string, error) {
	data := make(map[string][]model.Record)
	for _, category := range model.Categories() {
		records, err := r.store.ListRecords(ctx, category)
		if err != nil {
			return nil, "", err
		}
		data[category] = records
	}

	switch format {
	case "", "json":
		stats := make(map[string]int, len(data))
		for category, records := range data {
			stats[category] = len(records)
		}
		out, err := json.MarshalIndent(map[string]any{
			"exported": r.now().UTC().Format(time.RFC3339),
			"stats":    stats,
			"data":     data,
		}, "", "  ")
		return out, "application/json", err

	case "csv":
		return tradesCSV(data[model.CategoryTrades]), "text/csv", nil

	default:
		return nil, "", fmt.Errorf("analytics: unsupported export format %q", format)
	}
}

func tradesCSV(trades []model.Record) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	w.Write([]string{"id", "timestamp", "user_id", "market_id", "outcome", "side",
		"amount", "price", "edge", "confidence", "dry_run", "success", "profit", "loss"})
	for _, t := range trades {
		w.Write([]string{
			t.ID,
			t.Timestamp.Format(time.RFC3339),
			t.UserID,
			t.MarketID,
			t.Outcome,
			t.Side,
			t.Amount.String(),
			t.Price.String(),
			strconv.FormatFloat(t.Edge, 'g', -1, 64),
			strconv.FormatFloat(t.Confidence, 'g', -1, 64),
			strconv.FormatBool(t.DryRun),
			strconv.FormatBool(t.Success),
			t.Profit.String(),
			t.Loss.String(),
		})
	}

	w.Flush()
	return buf.Bytes()
}

// Cleanup removes records older than the retention window from every
// category and returns the total removed. Safe to run concurrently with
// appends.
func (r *Recorder) Cleanup(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, category := range model.Categories() {
		n, err := r.store.DeleteRecordsBefore(ctx, category, cutoff)
		if err != nil {
			return removed, err
		}
		removed += n
	}

	if removed > 0 {
		slog.Info("analytics retention sweep", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
