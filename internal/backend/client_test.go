package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

func testClient(url string) *Client {
	return New(Options{
		BaseURL:        url,
		APIKey:         "secret",
		RequestTimeout: time.Second,
		MaxAttempts:    3,
		RetryDelayBase: time.Millisecond,
	}, zerolog.Nop())
}

func TestRecordTradeSendsAuthAndPayload(t *testing.T) {
	var gotAuth string
	var gotTrade model.TradeEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/trades" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotTrade); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ev := model.TradeEvent{
		MarketID: "m1", Title: "Will X happen", Outcome: "YES",
		Size: decimal.NewFromInt(1000), Price: decimal.NewFromFloat(0.4),
		Timestamp: time.Now().UTC(),
	}
	if err := testClient(srv.URL).RecordTrade(context.Background(), ev); err != nil {
		t.Fatalf("record trade: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if gotTrade.MarketID != "m1" {
		t.Fatalf("trade payload: %+v", gotTrade)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-7"})
	}))
	defer srv.Close()

	runID, err := testClient(srv.URL).CreateAnalysisRun(context.Background(), "m1", 3)
	if err != nil {
		t.Fatalf("create analysis run: %v", err)
	}
	if runID != "run-7" {
		t.Fatalf("run id: %q", runID)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestExhaustedRetriesReturnError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := testClient(srv.URL).MarkAnalyzed(context.Background(), "m1")
	if err == nil {
		t.Fatal("exhausted retries should surface an error to the caller")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestListPendingMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/markets/pending" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"market_ids": []string{"m1", "m2"}})
	}))
	defer srv.Close()

	ids, err := testClient(srv.URL).ListPendingMarkets(context.Background())
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(ids) != 2 || ids[0] != "m1" {
		t.Fatalf("ids: %v", ids)
	}
}
