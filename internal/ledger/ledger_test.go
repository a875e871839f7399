package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/ledger"
	"github.com/polyagent/trading-engine/internal/model"
	"github.com/polyagent/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestLedger creates a ledger service on an in-memory store with a fixed
// clock.
func newTestLedger(t *testing.T) *ledger.Service {
	t.Helper()
	svc := ledger.NewService(store.NewMemoryStore())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	return svc
}

func TestCreateWallet(t *testing.T) {
	svc := newTestLedger(t)

	w, created, err := svc.CreateWallet(context.Background(), "user1", d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected created=true on first call")
	}
	if !w.Balance.Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", w.Balance)
	}
	if w.Currency != "USD" {
		t.Errorf("expected USD, got %s", w.Currency)
	}
	if w.WalletID == "" {
		t.Error("expected non-empty wallet id")
	}
}

func TestCreateWallet_Idempotent(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()

	first, _, err := svc.CreateWallet(ctx, "user1", d(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Second call must return the existing wallet unchanged, not error.
	second, created, err := svc.CreateWallet(ctx, "user1", d(9999))
	if err != nil {
		t.Fatalf("second create should not error: %v", err)
	}
	if created {
		t.Error("expected created=false on second call")
	}
	if second.WalletID != first.WalletID {
		t.Errorf("expected same wallet, got %s vs %s", second.WalletID, first.WalletID)
	}
	if !second.Balance.Equal(d(500)) {
		t.Errorf("second create must not change balance: got %s", second.Balance)
	}
}

func TestCreateWallet_NegativeInitial(t *testing.T) {
	svc := newTestLedger(t)
	_, _, err := svc.CreateWallet(context.Background(), "user1", d(-10))
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestAddFunds(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(100))

	txn, w, err := svc.AddFunds(ctx, "user1", d(250), "bank")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Balance.Equal(d(350)) {
		t.Errorf("expected balance 350, got %s", w.Balance)
	}
	if txn.Type != model.TxnDeposit {
		t.Errorf("expected DEPOSIT, got %s", txn.Type)
	}
	if txn.Source != "bank" {
		t.Errorf("expected source=bank, got %s", txn.Source)
	}
	if !txn.BalanceAfter.Equal(d(350)) {
		t.Errorf("expected balance_after 350, got %s", txn.BalanceAfter)
	}
}

func TestAddFunds_InvalidAmount(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(100))

	for _, amount := range []decimal.Decimal{decimal.Zero, d(-50)} {
		if _, _, err := svc.AddFunds(ctx, "user1", amount, ""); !errors.Is(err, ledger.ErrInvalidAmount) {
			t.Errorf("expected ErrInvalidAmount for %s, got %v", amount, err)
		}
	}
}

func TestRecordTrade_BuyDebitsBalance(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))

	txn, w, err := svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(100), d(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Balance.Equal(d(400)) {
		t.Errorf("buy of 100 should leave 400, got %s", w.Balance)
	}
	if !txn.Amount.Equal(d(-100)) {
		t.Errorf("buy amount should be -100, got %s", txn.Amount)
	}
}

func TestRecordTrade_SellCreditsBalance(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))
	svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(100), d(0.5))

	_, w, err := svc.RecordTrade(ctx, "user1", "mkt1", "YES", "SELL", d(120), d(0.6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.Balance.Equal(d(520)) {
		t.Errorf("expected 520 after sell, got %s", w.Balance)
	}
}

func TestRecordTrade_InsufficientFunds(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))

	// A $600 buy against a $500 balance fails and appends nothing.
	_, _, err := svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(600), d(0.5))
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, err := svc.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Balance.Equal(d(500)) {
		t.Errorf("balance must stay at 500, got %s", balance.Balance)
	}

	txns, total, _ := svc.ListTransactions(ctx, "user1", 0)
	if total != 1 { // only the opening deposit
		t.Errorf("failed trade must not append: expected 1 txn, got %d (%v)", total, txns)
	}
}

func TestRecordTrade_Validation(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))

	tests := []struct {
		name    string
		outcome string
		side    string
		amount  decimal.Decimal
		price   decimal.Decimal
		want    error
	}{
		{"zero amount", "YES", "BUY", decimal.Zero, d(0.5), ledger.ErrInvalidAmount},
		{"negative amount", "YES", "BUY", d(-10), d(0.5), ledger.ErrInvalidAmount},
		{"zero price", "YES", "BUY", d(10), decimal.Zero, ledger.ErrInvalidPrice},
		{"price one", "YES", "BUY", d(10), d(1), ledger.ErrInvalidPrice},
		{"price above one", "YES", "BUY", d(10), d(1.5), ledger.ErrInvalidPrice},
		{"bad outcome", "MAYBE", "BUY", d(10), d(0.5), ledger.ErrInvalidOutcome},
		{"bad side", "YES", "SHORT", d(10), d(0.5), ledger.ErrInvalidSide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.RecordTrade(ctx, "user1", "mkt1", tt.outcome, tt.side, tt.amount, tt.price)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRecordExit(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))
	svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(100), d(0.5))

	txn, w, err := svc.RecordExit(ctx, "user1", "mkt1", "YES", d(84), d(0.42))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn.Type != model.TxnExit {
		t.Errorf("expected EXIT type, got %s", txn.Type)
	}
	if txn.Side != model.SideSell {
		t.Errorf("exit must be a sell, got %s", txn.Side)
	}
	if !w.Balance.Equal(d(484)) {
		t.Errorf("expected 484 after exit, got %s", w.Balance)
	}
}

func TestGetBalance_WalletNotFound(t *testing.T) {
	svc := newTestLedger(t)
	_, err := svc.GetBalance(context.Background(), "nobody")
	if !errors.Is(err, store.ErrWalletNotFound) {
		t.Errorf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestGetBalance_LockedAndAvailable(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(1000))
	svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(100), d(0.5))
	svc.RecordTrade(ctx, "user1", "mkt2", "NO", "BUY", d(60), d(0.3))

	b, err := svc.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Balance.Equal(d(840)) {
		t.Errorf("expected balance 840, got %s", b.Balance)
	}
	// Cash is debited at trade time: available equals balance, locked is
	// the open cost basis, informational only.
	if !b.Available.Equal(b.Balance) {
		t.Errorf("available must equal balance, got %s vs %s", b.Available, b.Balance)
	}
	if !b.Locked.Equal(d(160)) {
		t.Errorf("expected locked 160, got %s", b.Locked)
	}
}

func TestListTransactions_MostRecentFirstWithLimit(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(1000))
	svc.AddFunds(ctx, "user1", d(10), "a")
	svc.AddFunds(ctx, "user1", d(20), "b")
	svc.AddFunds(ctx, "user1", d(30), "c")

	txns, total, err := svc.ListTransactions(ctx, "user1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 4 {
		t.Errorf("expected total 4, got %d", total)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 txns with limit, got %d", len(txns))
	}
	if txns[0].Source != "c" || txns[1].Source != "b" {
		t.Errorf("expected most recent first (c, b), got (%s, %s)", txns[0].Source, txns[1].Source)
	}
}

func TestVerify_ReplayMatches(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", d(500))
	svc.RecordTrade(ctx, "user1", "mkt1", "YES", "BUY", d(100), d(0.5))
	svc.AddFunds(ctx, "user1", d(50), "")

	txns, err := svc.Transactions(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ledger.Verify(txns, d(450)); err != nil {
		t.Errorf("replay should match stored balance: %v", err)
	}
}

func TestVerify_DetectsCorruption(t *testing.T) {
	txns := []model.Transaction{
		{ID: "t1", Amount: d(100), BalanceAfter: d(100)},
		{ID: "t2", Amount: d(-30), BalanceAfter: d(80)}, // should be 70
	}
	err := ledger.Verify(txns, d(80))
	if !errors.Is(err, ledger.ErrLedgerCorrupt) {
		t.Errorf("expected ErrLedgerCorrupt, got %v", err)
	}
}

func TestConcurrentDeposits_NoLostUpdates(t *testing.T) {
	svc := newTestLedger(t)
	ctx := context.Background()
	svc.CreateWallet(ctx, "user1", decimal.Zero)

	const n = 50
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _, err := svc.AddFunds(ctx, "user1", d(1), "")
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("deposit failed: %v", err)
		}
	}

	b, err := svc.GetBalance(ctx, "user1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Balance.Equal(d(n)) {
		t.Errorf("expected balance %d after %d concurrent deposits, got %s", n, n, b.Balance)
	}
}
