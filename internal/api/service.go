// Package api provides the HTTP handlers exposing the trading engine to the
// agent layer: wallets, trades, risk checks, position monitoring, auto-exit
// control, and analytics.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/analytics"
	"github.com/polyagent/trading-engine/internal/exit"
	"github.com/polyagent/trading-engine/internal/ledger"
	"github.com/polyagent/trading-engine/internal/metrics"
	"github.com/polyagent/trading-engine/internal/model"
	"github.com/polyagent/trading-engine/internal/oracle"
	"github.com/polyagent/trading-engine/internal/pnl"
	"github.com/polyagent/trading-engine/internal/position"
	"github.com/polyagent/trading-engine/internal/risk"
	"github.com/polyagent/trading-engine/internal/store"
)

// Service handles HTTP requests against the engine's core services.
type Service struct {
	ledger   *ledger.Service
	monitor  *pnl.Monitor
	engine   *exit.Engine
	recorder *analytics.Recorder

	limits        risk.Limits
	kellyFraction float64
	exitDefaults  exit.Config

	hub *Hub // optional WebSocket hub for live alert broadcasts
}

// NewService creates the API service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(
	lg *ledger.Service,
	monitor *pnl.Monitor,
	engine *exit.Engine,
	recorder *analytics.Recorder,
	limits risk.Limits,
	kellyFraction float64,
	exitDefaults exit.Config,
	hub *Hub,
) *Service {
	return &Service{
		ledger:        lg,
		monitor:       monitor,
		engine:        engine,
		recorder:      recorder,
		limits:        limits,
		kellyFraction: kellyFraction,
		exitDefaults:  exitDefaults,
		hub:           hub,
	}
}

// Routes mounts every endpoint under the given router.
func (s *Service) Routes(r chi.Router) {
	r.Post("/wallets", s.CreateWallet)
	r.Get("/wallets/{userID}/balance", s.GetBalance)
	r.Post("/wallets/{userID}/deposits", s.AddFunds)
	r.Get("/wallets/{userID}/transactions", s.ListTransactions)

	r.Post("/trades", s.RecordTrade)

	r.Post("/risk/validate", s.ValidateTrade)
	r.Post("/risk/kelly", s.KellyStake)

	r.Get("/users/{userID}/positions", s.GetPositions)
	r.Get("/users/{userID}/pnl", s.GetPnL)
	r.Get("/users/{userID}/alerts", s.ComputeAlerts)
	r.Post("/users/{userID}/auto-exit", s.ConfigureAutoExit)
	r.Delete("/users/{userID}/auto-exit", s.StopAutoExit)

	r.Post("/analytics/opportunities", s.RecordOpportunity)
	r.Get("/analytics/performance", s.AnalyzePerformance)
	r.Get("/analytics/export", s.ExportAnalytics)
	r.Post("/analytics/cleanup", s.Cleanup)

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Wallet handlers ---

// CreateWalletRequest is the JSON body for POST /wallets.
type CreateWalletRequest struct {
	UserID         string          `json:"user_id"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
}

// CreateWallet handles POST /api/v1/wallets. Creating a wallet that already
// exists returns the existing wallet with 200 instead of erroring.
func (s *Service) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	wallet, created, err := s.ledger.CreateWallet(r.Context(), req.UserID, req.InitialBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		slog.Info("wallet created",
			"user", req.UserID,
			"wallet", wallet.WalletID,
			"initial_balance", req.InitialBalance.String(),
		)
	}
	writeJSON(w, status, wallet)
}

// GetBalance handles GET /api/v1/wallets/{userID}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// DepositRequest is the JSON body for POST /wallets/{userID}/deposits.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Source string          `json:"source"`
}

// AddFunds handles POST /api/v1/wallets/{userID}/deposits
func (s *Service) AddFunds(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txn, wallet, err := s.ledger.AddFunds(r.Context(), userID, req.Amount, req.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.DepositsTotal.Inc()
	slog.Info("funds added",
		"user", userID,
		"amount", req.Amount.String(),
		"source", txn.Source,
		"balance", wallet.Balance.String(),
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction": txn,
		"wallet":      wallet,
	})
}

// ListTransactions handles GET /api/v1/wallets/{userID}/transactions?limit=N
// Returns transactions most recent first.
func (s *Service) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	txns, total, err := s.ledger.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txns,
		"total":        total,
	})
}

// --- Trading handlers ---

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Outcome  string          `json:"outcome"` // YES or NO
	Side     string          `json:"side"`    // BUY or SELL
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price"` // 0 < price < 1

	// Optional analytics context from the agent layer.
	Edge       float64 `json:"edge,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	DryRun     bool    `json:"dry_run,omitempty"`
}

// RecordTrade handles POST /api/v1/trades
func (s *Service) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	txn, wallet, err := s.ledger.RecordTrade(ctx, req.UserID, req.MarketID, req.Outcome, req.Side, req.Amount, req.Price)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	metrics.TradesTotal.WithLabelValues(req.Side).Inc()
	slog.Info("trade recorded",
		"txn", txn.ID,
		"user", req.UserID,
		"market", req.MarketID,
		"outcome", req.Outcome,
		"side", req.Side,
		"amount", req.Amount.String(),
		"price", req.Price.String(),
		"balance", wallet.Balance.String(),
	)

	if _, err := s.recorder.RecordTrade(ctx, &model.Record{
		UserID:     req.UserID,
		MarketID:   req.MarketID,
		Outcome:    req.Outcome,
		Side:       req.Side,
		Amount:     req.Amount,
		Price:      req.Price,
		Edge:       req.Edge,
		Confidence: req.Confidence,
		DryRun:     req.DryRun,
	}); err != nil {
		slog.Error("trade analytics record failed", "txn", txn.ID, "err", err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transaction": txn,
		"wallet":      wallet,
	})
}

// --- Risk handlers ---

// ValidateTradeRequest is the JSON body for POST /risk/validate.
type ValidateTradeRequest struct {
	MarketID   string          `json:"market_id"`
	Outcome    string          `json:"outcome"`
	Amount     decimal.Decimal `json:"amount"`
	Confidence float64         `json:"confidence"`
	RiskLevel  string          `json:"risk_level"`
}

// ValidateTrade handles POST /api/v1/risk/validate
func (s *Service) ValidateTrade(w http.ResponseWriter, r *http.Request) {
	var req ValidateTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	v := risk.ValidateTrade(risk.Proposal{
		MarketID:   req.MarketID,
		Outcome:    req.Outcome,
		Amount:     req.Amount,
		Confidence: req.Confidence,
		RiskLevel:  req.RiskLevel,
	}, s.limits)

	if !v.Approved {
		metrics.TradeRejections.Inc()
	}
	writeJSON(w, http.StatusOK, v)
}

// KellyRequest is the JSON body for POST /risk/kelly.
type KellyRequest struct {
	TrueProbability   float64         `json:"true_probability"`
	MarketProbability float64         `json:"market_probability"`
	Bankroll          decimal.Decimal `json:"bankroll"`
	KellyFraction     float64         `json:"kelly_fraction"` // 0 → configured default
}

// KellyStake handles POST /api/v1/risk/kelly
func (s *Service) KellyStake(w http.ResponseWriter, r *http.Request) {
	var req KellyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	fraction := req.KellyFraction
	if fraction == 0 {
		fraction = s.kellyFraction
	}

	result, err := risk.KellyStake(req.TrueProbability, req.MarketProbability, req.Bankroll, fraction)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Monitoring handlers ---

// GetPositions handles GET /api/v1/users/{userID}/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.ledger.Transactions(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	positions := position.List(txns)
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetPnL handles GET /api/v1/users/{userID}/pnl
// Prices every open position through the oracle.
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	txns, err := s.ledger.Transactions(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	snap, err := s.monitor.Snapshot(ctx, userID, position.List(txns))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if snap.Positions == nil {
		snap.Positions = []pnl.Result{}
	}
	writeJSON(w, http.StatusOK, snap)
}

// ComputeAlerts handles GET /api/v1/users/{userID}/alerts
// Builds price-movement and stop-loss alerts from a fresh P&L snapshot and
// broadcasts them to WebSocket clients.
func (s *Service) ComputeAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	txns, err := s.ledger.Transactions(ctx, userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	snap, err := s.monitor.Snapshot(ctx, userID, position.List(txns))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	alerts := pnl.BuildAlerts(snap)
	if alerts == nil {
		alerts = []pnl.Alert{}
	}

	if s.hub != nil {
		for _, a := range alerts {
			s.hub.BroadcastAlert(userID, a)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"timestamp": snap.Timestamp,
	})
}

// AutoExitRequest is the JSON body for POST /users/{userID}/auto-exit.
// Omitted thresholds fall back to the configured defaults.
type AutoExitRequest struct {
	StopLossPercent   *decimal.Decimal `json:"stop_loss_percent"`
	TakeProfitPercent *decimal.Decimal `json:"take_profit_percent"`
	IntervalSeconds   int              `json:"interval_seconds"`
	DryRun            *bool            `json:"dry_run"`
}

// ConfigureAutoExit handles POST /api/v1/users/{userID}/auto-exit
// Starts (or reconfigures) the user's monitoring loop.
func (s *Service) ConfigureAutoExit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AutoExitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	cfg := s.exitDefaults
	if req.StopLossPercent != nil {
		cfg.StopLossPercent = *req.StopLossPercent
	}
	if req.TakeProfitPercent != nil {
		cfg.TakeProfitPercent = *req.TakeProfitPercent
	}
	if req.IntervalSeconds > 0 {
		cfg.Interval = time.Duration(req.IntervalSeconds) * time.Second
	}
	if req.DryRun != nil {
		cfg.DryRun = *req.DryRun
	}

	if !cfg.StopLossPercent.IsNegative() {
		writeError(w, "stop_loss_percent must be negative", http.StatusBadRequest)
		return
	}
	if !cfg.TakeProfitPercent.IsPositive() {
		writeError(w, "take_profit_percent must be positive", http.StatusBadRequest)
		return
	}

	// The loop outlives this request: bind it to the server's lifecycle,
	// not the request context.
	s.engine.Configure(context.WithoutCancel(r.Context()), userID, cfg)

	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring": true,
		"config":     cfg,
	})
}

// StopAutoExit handles DELETE /api/v1/users/{userID}/auto-exit
func (s *Service) StopAutoExit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.engine.Stop(userID)
	writeJSON(w, http.StatusOK, map[string]any{"monitoring": false})
}

// --- Analytics handlers ---

// RecordOpportunity handles POST /api/v1/analytics/opportunities
func (s *Service) RecordOpportunity(w http.ResponseWriter, r *http.Request) {
	var rec model.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	saved, err := s.recorder.RecordOpportunity(r.Context(), &rec)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// AnalyzePerformance handles GET /api/v1/analytics/performance?timeframe=7d
func (s *Service) AnalyzePerformance(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = "7d"
	}

	perf, err := s.recorder.AnalyzePerformance(r.Context(), timeframe)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

// ExportAnalytics handles GET /api/v1/analytics/export?format=json|csv
func (s *Service) ExportAnalytics(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.recorder.Export(r.Context(), r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Cleanup handles POST /api/v1/analytics/cleanup
// Runs the retention sweep and reports how many records it removed.
func (s *Service) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := s.recorder.Cleanup(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps service-layer errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrWalletNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInsufficientFunds):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidPrice),
		errors.Is(err, ledger.ErrInvalidOutcome),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, risk.ErrInvalidProbability),
		errors.Is(err, risk.ErrInvalidBankroll),
		errors.Is(err, risk.ErrInvalidFraction),
		errors.Is(err, analytics.ErrInvalidTimeframe):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, oracle.ErrUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}
