package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"digigold/internal/api"
	"digigold/internal/logging"
	"digigold/internal/prices"
)

type fixedSource struct {
	snap api.PriceSnapshot
}

func (f fixedSource) LivePrices(ctx context.Context) (api.PriceSnapshot, error) {
	return f.snap, nil
}

func testMux(t *testing.T, deps Dependencies) http.Handler {
	t.Helper()
	srv := New(":0", deps, logging.Discard())
	return srv.httpServer.Handler
}

func TestHealthz(t *testing.T) {
	handler := testMux(t, Dependencies{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStatusReportsPrices(t *testing.T) {
	source := fixedSource{snap: api.PriceSnapshot{GoldPricePerGram: 7100, SilverPricePerGram: 89, ObservedAt: time.Now().UTC()}}
	poller := prices.NewPoller(prices.Config{Interval: time.Hour}, source, nil, nil, nil, logging.Discard())
	if err := poller.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	handler := testMux(t, Dependencies{Prices: poller})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["prices_available"] != true {
		t.Fatalf("expected prices to be available, got %v", status)
	}
	if status["gold_price_per_gram"] != 7100.0 {
		t.Fatalf("unexpected gold price %v", status["gold_price_per_gram"])
	}
}

func TestRefreshPricesRejectsGet(t *testing.T) {
	handler := testMux(t, Dependencies{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/refresh-prices", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRefreshPricesWithoutPoller(t *testing.T) {
	handler := testMux(t, Dependencies{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/refresh-prices", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
