// Package oracle adapts the Polymarket Gamma API to the price oracle
// interface the P&L monitor consumes. A failed or timed-out fetch surfaces
// as ErrUnavailable; the oracle never falls back to a stale or default
// price.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/polyagent/trading-engine/internal/model"
)

// ErrUnavailable is returned when the current price cannot be fetched.
// Callers in a monitoring loop should treat it as a missed tick and retry
// on the next interval.
var ErrUnavailable = errors.New("oracle: price unavailable")

const (
	defaultBaseURL = "https://gamma-api.polymarket.com"

	// Gamma /markets documented limit is 300/10s; stay at 60% of it.
	gammaRatePerSec = 18
)

// GammaClient fetches market prices from the Polymarket Gamma API.
type GammaClient struct {
	http    *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewGammaClient creates a Gamma price oracle. An empty baseURL selects the
// production endpoint.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GammaClient{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(gammaRatePerSec, 10),
	}
}

// gammaMarket is the subset of the Gamma market payload we read.
// OutcomePrices arrives as a JSON string holding a JSON array,
// e.g. "[\"0.65\", \"0.35\"]" — YES first, NO second.
type gammaMarket struct {
	ID            string `json:"id"`
	Question      string `json:"question"`
	OutcomePrices string `json:"outcomePrices"`
}

// GetCurrentPrice returns the current price of one outcome as a probability
// in (0, 1). Implements pnl.PriceOracle.
func (c *GammaClient) GetCurrentPrice(ctx context.Context, marketID, outcome string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	url := fmt.Sprintf("%s/markets/%s", c.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: gamma returned %d for market %s",
			ErrUnavailable, resp.StatusCode, marketID)
	}

	var market gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&market); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode market %s: %v", ErrUnavailable, marketID, err)
	}

	return parseOutcomePrice(market.OutcomePrices, outcome)
}

// parseOutcomePrice extracts the price for YES or NO from the
// double-encoded outcomePrices field. NO is quoted as 1 − yes.
func parseOutcomePrice(encoded, outcome string) (decimal.Decimal, error) {
	var prices []string
	if err := json.Unmarshal([]byte(encoded), &prices); err != nil || len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("%w: malformed outcome prices %q", ErrUnavailable, encoded)
	}

	yes, err := decimal.NewFromString(prices[0])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: bad yes price %q", ErrUnavailable, prices[0])
	}

	if outcome == model.OutcomeNo {
		return decimal.NewFromInt(1).Sub(yes), nil
	}
	return yes, nil
}
