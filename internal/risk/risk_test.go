package risk

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// --- Trade validation tests ---

func TestValidateTrade_Approved(t *testing.T) {
	v := ValidateTrade(Proposal{
		MarketID:   "mkt1",
		Outcome:    "YES",
		Amount:     d(100),
		Confidence: 75,
		RiskLevel:  LevelLow,
	}, DefaultLimits())

	if !v.Approved {
		t.Errorf("expected approval, got rejection: %s", v.Reasoning)
	}
	if !v.AdjustedAmount.Equal(d(100)) {
		t.Errorf("amount should be unchanged, got %s", v.AdjustedAmount)
	}
	if len(v.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", v.Warnings)
	}
}

func TestValidateTrade_ClampsHighRisk(t *testing.T) {
	// $300 on a HIGH risk market clamps to the $200 ceiling with a warning
	// but stays approved: clamping and rejection are independent.
	v := ValidateTrade(Proposal{
		Amount:     d(300),
		Confidence: 80,
		RiskLevel:  LevelHigh,
	}, DefaultLimits())

	if !v.Approved {
		t.Errorf("clamped trade should remain approved: %s", v.Reasoning)
	}
	if !v.AdjustedAmount.Equal(d(200)) {
		t.Errorf("expected adjusted amount 200, got %s", v.AdjustedAmount)
	}
	if !v.MaxAllowed.Equal(d(200)) {
		t.Errorf("expected max allowed 200, got %s", v.MaxAllowed)
	}
	if len(v.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", v.Warnings)
	}
}

func TestValidateTrade_ClampsMediumRisk(t *testing.T) {
	v := ValidateTrade(Proposal{
		Amount:     d(800),
		Confidence: 80,
		RiskLevel:  LevelMedium,
	}, DefaultLimits())

	if !v.AdjustedAmount.Equal(d(500)) {
		t.Errorf("expected adjusted amount 500, got %s", v.AdjustedAmount)
	}
}

func TestValidateTrade_ClampsMaxSingle(t *testing.T) {
	v := ValidateTrade(Proposal{
		Amount:     d(5000),
		Confidence: 80,
		RiskLevel:  LevelLow,
	}, DefaultLimits())

	if !v.AdjustedAmount.Equal(d(1000)) {
		t.Errorf("expected adjusted amount 1000, got %s", v.AdjustedAmount)
	}
}

func TestValidateTrade_RejectsLowConfidence(t *testing.T) {
	v := ValidateTrade(Proposal{
		Amount:     d(100),
		Confidence: 45,
		RiskLevel:  LevelLow,
	}, DefaultLimits())

	if v.Approved {
		t.Error("expected rejection below 60% confidence")
	}
}

func TestValidateTrade_RejectsBelowMinimum(t *testing.T) {
	v := ValidateTrade(Proposal{
		Amount:     d(5),
		Confidence: 90,
		RiskLevel:  LevelLow,
	}, DefaultLimits())

	if v.Approved {
		t.Error("expected rejection below $10 minimum")
	}
}

func TestValidateTrade_ClampNeverUnrejects(t *testing.T) {
	// Low confidence AND an over-ceiling amount: the clamp happens, the
	// rejection stands.
	v := ValidateTrade(Proposal{
		Amount:     d(300),
		Confidence: 40,
		RiskLevel:  LevelHigh,
	}, DefaultLimits())

	if v.Approved {
		t.Error("clamping must not flip a rejection to approved")
	}
	if !v.AdjustedAmount.Equal(d(200)) {
		t.Errorf("expected clamp to still apply, got %s", v.AdjustedAmount)
	}
}

// --- Kelly tests ---

func TestKellyStake_ReferenceValues(t *testing.T) {
	// p=0.6 vs market 0.5 with quarter Kelly:
	// edge = 0.10, b = 1, f* = 0.6*1 - 0.4 = 0.2, stake = 1000*0.2*0.25 = 50.
	res, err := KellyStake(0.6, 0.5, d(1000), 0.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(res.Edge-0.10) > 1e-12 {
		t.Errorf("expected edge 0.10, got %g", res.Edge)
	}
	if !res.OptimalStake.Equal(d(50)) {
		t.Errorf("expected optimal stake 50, got %s", res.OptimalStake)
	}
	if !res.FullKelly.Equal(d(200)) {
		t.Errorf("expected full Kelly 200, got %s", res.FullKelly)
	}
	// EV = (b*p - q) * 100 = (0.6 - 0.4) * 100 = 20.
	if math.Abs(res.ExpectedValue-20) > 1e-9 {
		t.Errorf("expected EV 20, got %g", res.ExpectedValue)
	}
	if res.Advice != "Moderate edge. Reasonable bet opportunity." {
		t.Errorf("unexpected advice: %q", res.Advice)
	}
}

func TestKellyStake_NegativeEdgeNoBet(t *testing.T) {
	res, err := KellyStake(0.4, 0.5, d(1000), 0.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OptimalStake.IsZero() {
		t.Errorf("negative edge should stake zero, got %s", res.OptimalStake)
	}
	if !res.FullKelly.IsZero() {
		t.Errorf("negative Kelly floors at zero, got %s", res.FullKelly)
	}
	if res.Advice != "No edge detected. Do not bet." {
		t.Errorf("unexpected advice: %q", res.Advice)
	}
}

func TestKellyStake_AdviceBuckets(t *testing.T) {
	tests := []struct {
		p, q   float64
		advice string
	}{
		{0.52, 0.50, "Small edge. Consider smaller position or skip."},
		{0.60, 0.50, "Moderate edge. Reasonable bet opportunity."},
		{0.70, 0.50, "Strong edge. Good bet opportunity."},
	}
	for _, tt := range tests {
		res, err := KellyStake(tt.p, tt.q, d(1000), 0.25)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Advice != tt.advice {
			t.Errorf("p=%g q=%g: expected %q, got %q", tt.p, tt.q, tt.advice, res.Advice)
		}
	}
}

func TestKellyStake_DegenerateProbabilities(t *testing.T) {
	tests := []struct {
		name  string
		p, q  float64
	}{
		{"market zero", 0.6, 0},
		{"market one", 0.6, 1},
		{"true zero", 0, 0.5},
		{"true one", 1, 0.5},
		{"market negative", 0.6, -0.1},
		{"market above one", 0.6, 1.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := KellyStake(tt.p, tt.q, d(1000), 0.25)
			if !errors.Is(err, ErrInvalidProbability) {
				t.Errorf("expected ErrInvalidProbability, got %v", err)
			}
		})
	}
}

func TestKellyStake_InvalidBankroll(t *testing.T) {
	_, err := KellyStake(0.6, 0.5, decimal.Zero, 0.25)
	if !errors.Is(err, ErrInvalidBankroll) {
		t.Errorf("expected ErrInvalidBankroll, got %v", err)
	}
}

func TestKellyStake_InvalidFraction(t *testing.T) {
	for _, fraction := range []float64{0, -0.5, 1.5} {
		_, err := KellyStake(0.6, 0.5, d(1000), fraction)
		if !errors.Is(err, ErrInvalidFraction) {
			t.Errorf("fraction %g: expected ErrInvalidFraction, got %v", fraction, err)
		}
	}
}

func TestKellyStake_RoundsToCents(t *testing.T) {
	// p=0.55, q=0.5: f* = (0.55 - 0.45) = 0.1, quarter = 0.025.
	res, err := KellyStake(0.55, 0.5, d(333), 0.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 333 * 0.025 = 8.325 → 8.33 to cents.
	if !res.OptimalStake.Equal(d(8.33)) {
		t.Errorf("expected stake 8.33, got %s", res.OptimalStake)
	}
}
