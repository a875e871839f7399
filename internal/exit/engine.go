// Package exit implements the auto-exit engine: per-user monitoring loops
// that poll unrealized P&L and force-close positions breaching stop-loss or
// take-profit thresholds.
//
// Each loop owns an exited-set keyed by (marketID, outcome) and re-derives
// positions from the ledger on every tick, so a breach produces exactly one
// sell even when a duplicate tick fires before the exit transaction is
// visible. Keys clear once the closure has landed in the log (or the
// position no longer derives open), so a position re-opened after an exit is
// monitored as a fresh position. Oracle failures are missed ticks: the loop
// logs, backs off until the next interval, and never crashes.
package exit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/ledger"
	"github.com/polyagent/trading-engine/internal/metrics"
	"github.com/polyagent/trading-engine/internal/model"
	"github.com/polyagent/trading-engine/internal/pnl"
	"github.com/polyagent/trading-engine/internal/position"
)

// Exit reasons.
const (
	ReasonStopLoss   = "STOP_LOSS"
	ReasonTakeProfit = "TAKE_PROFIT"
)

// Config holds the exit thresholds for one user's monitoring loop.
// StopLossPercent is negative; a position at or below it is closed.
// TakeProfitPercent is positive; a position at or above it is closed.
type Config struct {
	StopLossPercent   decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitPercent decimal.Decimal `json:"take_profit_percent"`
	Interval          time.Duration   `json:"-"`
	DryRun            bool            `json:"dry_run"`
}

// DefaultConfig returns the standard thresholds: exit at −15% loss or +30%
// profit, checking every 30 seconds, in dry-run mode. Real capital moves
// only when dry-run is explicitly switched off.
func DefaultConfig() Config {
	return Config{
		StopLossPercent:   decimal.NewFromInt(-15),
		TakeProfitPercent: decimal.NewFromInt(30),
		Interval:          30 * time.Second,
		DryRun:            true,
	}
}

// Exit describes one triggered position closure. TransactionID is the
// ledger exit transaction; empty in dry-run.
type Exit struct {
	UserID            string          `json:"user_id"`
	MarketID          string          `json:"market_id"`
	Outcome           string          `json:"outcome"`
	TransactionID     string          `json:"transaction_id,omitempty"`
	Reason            string          `json:"reason"`
	Detail            string          `json:"detail"`
	Shares            decimal.Decimal `json:"shares"`
	Price             decimal.Decimal `json:"price"`
	ProfitLoss        decimal.Decimal `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
	Action            string          `json:"action"`
	DryRun            bool            `json:"dry_run"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Sink receives exit notifications: the analytics recorder and the alert
// hub both implement it. Sinks must not block.
type Sink interface {
	ExitTriggered(ctx context.Context, e Exit)
}

// loop is one running monitor's registration. The pointer identity lets a
// finished loop tell whether the registration under its user is still its
// own or belongs to a replacement started by a later Configure.
type loop struct {
	cancel context.CancelFunc
}

// Engine manages one monitoring loop per user.
type Engine struct {
	ledger  *ledger.Service
	monitor *pnl.Monitor
	sinks   []Sink
	now     func() time.Time

	mu       sync.Mutex
	monitors map[string]*loop
	wg       sync.WaitGroup
}

// NewEngine creates an auto-exit engine. Sinks are optional.
func NewEngine(ledger *ledger.Service, monitor *pnl.Monitor, sinks ...Sink) *Engine {
	return &Engine{
		ledger:   ledger,
		monitor:  monitor,
		sinks:    sinks,
		now:      time.Now,
		monitors: make(map[string]*loop),
	}
}

// SetClock overrides the time source. For tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Configure starts a monitoring loop for the user with the given thresholds,
// replacing any loop already running for them. The loop stops when the user
// has no open positions, when Stop is called, or when ctx is cancelled.
func (e *Engine) Configure(ctx context.Context, userID string, cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	e.mu.Lock()
	if old, ok := e.monitors[userID]; ok {
		old.cancel()
	} else {
		// The gauge tracks registrations, not goroutines: replacing a loop
		// keeps the count at one.
		metrics.ActiveMonitors.Inc()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel}
	e.monitors[userID] = l
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(loopCtx, userID, cfg, l)

	slog.Info("auto-exit monitoring started",
		"user", userID,
		"stop_loss", cfg.StopLossPercent.String(),
		"take_profit", cfg.TakeProfitPercent.String(),
		"interval", cfg.Interval.String(),
		"dry_run", cfg.DryRun,
	)
}

// Stop cancels the user's monitoring loop, if any.
func (e *Engine) Stop(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.monitors[userID]; ok {
		l.cancel()
		delete(e.monitors, userID)
		metrics.ActiveMonitors.Dec()
	}
}

// Shutdown cancels every loop and waits for them to drain.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for userID, l := range e.monitors {
		l.cancel()
		delete(e.monitors, userID)
		metrics.ActiveMonitors.Dec()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Active reports whether a monitoring loop is running for the user.
func (e *Engine) Active(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.monitors[userID]
	return ok
}

func (e *Engine) run(ctx context.Context, userID string, cfg Config, l *loop) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		// A replacement loop may have re-registered under this user between
		// our cancellation and this cleanup. Only deregister our own entry.
		if cur, ok := e.monitors[userID]; ok && cur == l {
			delete(e.monitors, userID)
			metrics.ActiveMonitors.Dec()
		}
		e.mu.Unlock()
	}()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	// Positions already exited by this loop, keyed to the ledger exit
	// transaction (empty for dry-run). A flattened position drops out of
	// derivation anyway; the set guards the window where a duplicate tick
	// runs before the exit transaction is visible.
	exited := make(map[model.PositionKey]string)

	for {
		select {
		case <-ctx.Done():
			slog.Info("auto-exit monitoring stopped", "user", userID)
			return
		case <-ticker.C:
			open, _, err := e.Tick(ctx, userID, cfg, exited)
			if err != nil {
				// Missed tick. Retry next interval.
				metrics.OracleErrorsTotal.Inc()
				slog.Warn("auto-exit tick skipped", "user", userID, "err", err)
				continue
			}
			if !open {
				slog.Info("auto-exit monitoring self-terminated, no open positions", "user", userID)
				return
			}
		}
	}
}

// Tick runs one monitoring pass: re-derive positions, price them, close any
// breaching position, notify sinks. Returns whether open positions remain
// and the exits triggered this pass. exited may be nil for a one-shot check.
func (e *Engine) Tick(ctx context.Context, userID string, cfg Config, exited map[model.PositionKey]string) (open bool, exits []Exit, err error) {
	txns, err := e.ledger.Transactions(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	derived := position.List(txns)

	// An exited key clears once its exit transaction shows up in the log, or
	// once the key no longer derives to an open position: either way the
	// closure has landed, and anything open under that key is a new position
	// that must be monitored again.
	if exited != nil {
		txnIDs := make(map[string]bool, len(txns))
		for _, t := range txns {
			txnIDs[t.ID] = true
		}
		openKeys := make(map[model.PositionKey]bool, len(derived))
		for _, p := range derived {
			openKeys[model.PositionKey{MarketID: p.MarketID, Outcome: p.Outcome}] = true
		}
		for k, exitTxn := range exited {
			if (exitTxn != "" && txnIDs[exitTxn]) || !openKeys[k] {
				delete(exited, k)
			}
		}
	}

	var positions []model.Position
	for _, p := range derived {
		if _, ok := exited[model.PositionKey{MarketID: p.MarketID, Outcome: p.Outcome}]; ok {
			continue
		}
		if !p.Shares.IsPositive() {
			continue // net-short exposure is not auto-closable by a sell
		}
		positions = append(positions, p)
	}
	if len(positions) == 0 {
		return false, nil, nil
	}

	snap, err := e.monitor.Snapshot(ctx, userID, positions)
	if err != nil {
		return true, nil, err
	}

	for _, res := range snap.Positions {
		reason, detail := breach(res.ProfitLossPercent, cfg)
		if reason == "" {
			continue
		}

		x, err := e.trigger(ctx, cfg, res, reason, detail)
		if err != nil {
			slog.Error("auto-exit trigger failed",
				"user", userID,
				"market", res.Position.MarketID,
				"outcome", res.Position.Outcome,
				"err", err,
			)
			continue
		}

		if exited != nil {
			exited[model.PositionKey{MarketID: x.MarketID, Outcome: x.Outcome}] = x.TransactionID
		}
		exits = append(exits, x)
	}

	return len(exits) < len(positions), exits, nil
}

// breach returns the exit reason for a P&L percentage, or "" to stay open.
// Stop-loss wins when both thresholds are somehow crossed.
func breach(pct decimal.Decimal, cfg Config) (reason, detail string) {
	p, _ := pct.Round(1).Float64()
	switch {
	case pct.LessThanOrEqual(cfg.StopLossPercent):
		return ReasonStopLoss, fmt.Sprintf("STOP-LOSS: Loss of %.1f%% exceeds %s%%", p, cfg.StopLossPercent)
	case pct.GreaterThanOrEqual(cfg.TakeProfitPercent):
		return ReasonTakeProfit, fmt.Sprintf("TAKE-PROFIT: Profit of %.1f%% exceeds %s%%", p, cfg.TakeProfitPercent)
	}
	return "", ""
}

// trigger closes one breaching position: records the sell in the ledger
// (unless dry-run), then notifies sinks.
func (e *Engine) trigger(ctx context.Context, cfg Config, res pnl.Result, reason, detail string) (Exit, error) {
	p := res.Position
	shares := p.Shares.Round(2)

	x := Exit{
		UserID:            p.UserID,
		MarketID:          p.MarketID,
		Outcome:           p.Outcome,
		Reason:            reason,
		Detail:            detail,
		Shares:            p.Shares,
		Price:             res.CurrentPrice,
		ProfitLoss:        res.ProfitLoss,
		ProfitLossPercent: res.ProfitLossPercent,
		DryRun:            cfg.DryRun,
		Timestamp:         e.now().UTC(),
	}

	mode := "live"
	if cfg.DryRun {
		mode = "dry_run"
		x.Action = fmt.Sprintf("Would sell %s shares", shares)
	} else {
		x.Action = fmt.Sprintf("Selling %s shares", shares)
		// Sell the full share count at the current price. Proceeds equal
		// the position's current value.
		txn, _, err := e.ledger.RecordExit(ctx, p.UserID, p.MarketID, p.Outcome, res.CurrentValue, res.CurrentPrice)
		if err != nil {
			return Exit{}, err
		}
		x.TransactionID = txn.ID
	}

	metrics.ExitsTotal.WithLabelValues(reason, mode).Inc()
	slog.Info("auto-exit triggered",
		"user", p.UserID,
		"market", p.MarketID,
		"outcome", p.Outcome,
		"reason", reason,
		"pnl_percent", res.ProfitLossPercent.Round(2).String(),
		"dry_run", cfg.DryRun,
	)

	for _, sink := range e.sinks {
		sink.ExitTriggered(ctx, x)
	}
	return x, nil
}
