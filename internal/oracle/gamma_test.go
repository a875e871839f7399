package oracle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func gammaServer(t *testing.T, handler http.HandlerFunc) *GammaClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGammaClient(srv.URL, time.Second)
}

func TestGetCurrentPrice_Yes(t *testing.T) {
	c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets/mkt1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":"mkt1","question":"Will it rain?","outcomePrices":"[\"0.65\", \"0.35\"]"}`))
	})

	price, err := c.GetCurrentPrice(context.Background(), "mkt1", "YES")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(0.65)) {
		t.Errorf("expected YES price 0.65, got %s", price)
	}
}

func TestGetCurrentPrice_NoIsComplement(t *testing.T) {
	c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"mkt1","outcomePrices":"[\"0.65\", \"0.35\"]"}`))
	})

	price, err := c.GetCurrentPrice(context.Background(), "mkt1", "NO")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(0.35)) {
		t.Errorf("expected NO price 0.35, got %s", price)
	}
}

func TestGetCurrentPrice_ServerError(t *testing.T) {
	c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetCurrentPrice(context.Background(), "mkt1", "YES")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on 502, got %v", err)
	}
}

func TestGetCurrentPrice_MalformedBody(t *testing.T) {
	c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := c.GetCurrentPrice(context.Background(), "mkt1", "YES")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on malformed body, got %v", err)
	}
}

func TestGetCurrentPrice_MalformedOutcomePrices(t *testing.T) {
	tests := []string{
		`{"id":"mkt1","outcomePrices":"not an array"}`,
		`{"id":"mkt1","outcomePrices":"[]"}`,
		`{"id":"mkt1","outcomePrices":"[\"cheap\"]"}`,
		`{"id":"mkt1"}`,
	}
	for _, body := range tests {
		c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		if _, err := c.GetCurrentPrice(context.Background(), "mkt1", "YES"); !errors.Is(err, ErrUnavailable) {
			t.Errorf("body %q: expected ErrUnavailable, got %v", body, err)
		}
	}
}

func TestGetCurrentPrice_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewGammaClient(url, 250*time.Millisecond)
	_, err := c.GetCurrentPrice(context.Background(), "mkt1", "YES")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on connection failure, got %v", err)
	}
}

func TestGetCurrentPrice_ContextCancelled(t *testing.T) {
	c := gammaServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"mkt1","outcomePrices":"[\"0.5\"]"}`))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetCurrentPrice(ctx, "mkt1", "YES")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on cancelled context, got %v", err)
	}
}
