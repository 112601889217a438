package state

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(Options{
		DataDir:             t.TempDir(),
		PickThreshold:       70,
		PredictionRetention: 30 * 24 * time.Hour,
		MarketRetention:     7 * 24 * time.Hour,
	}, zerolog.Nop())
}

func trade(id string, ts time.Time, size, price float64) model.TradeEvent {
	return model.TradeEvent{
		MarketID:  id,
		Title:     "Will X happen",
		Outcome:   "YES",
		Size:      decimal.NewFromFloat(size),
		Price:     decimal.NewFromFloat(price),
		Timestamp: ts,
	}
}

func TestUpsertPreservesFirstSeen(t *testing.T) {
	s := testStore(t)

	first := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	s.Upsert(trade("m1", first, 1000, 0.4))
	rec := s.Upsert(trade("m1", second, 2000, 0.6))

	if !rec.FirstSeen.Equal(first) {
		t.Fatalf("first seen should be preserved: %v", rec.FirstSeen)
	}
	if !rec.LastTrade.Equal(second) {
		t.Fatalf("last trade should follow the latest event: %v", rec.LastTrade)
	}
	if !rec.LastSize.Equal(decimal.NewFromInt(2000)) {
		t.Fatalf("last size should follow the latest event: %s", rec.LastSize)
	}
	if got := len(s.Markets()); got != 1 {
		t.Fatalf("upsert-by-id should keep one record, got %d", got)
	}
}

func TestUpsertIdempotentOnSameEvent(t *testing.T) {
	s := testStore(t)

	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ev := trade("m1", ts, 1000, 0.4)

	s.Upsert(ev)
	rec := s.Upsert(ev)

	if got := len(s.Markets()); got != 1 {
		t.Fatalf("expected one record, got %d", got)
	}
	if !rec.FirstSeen.Equal(ts) {
		t.Fatalf("first seen should equal the first application's timestamp: %v", rec.FirstSeen)
	}
}

func TestPendingAnalysisAndMarkAnalyzed(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	s.Upsert(trade("big", now, 5000, 0.4))
	s.Upsert(trade("small", now, 100, 0.4))

	pending := s.PendingAnalysis(decimal.NewFromInt(1000))
	if len(pending) != 1 || pending[0].MarketID != "big" {
		t.Fatalf("pending: %+v", pending)
	}

	s.MarkAnalyzed("big")
	if len(s.PendingAnalysis(decimal.NewFromInt(1000))) != 0 {
		t.Fatal("analyzed market should leave the pending set")
	}

	rec, _ := s.Get("big")
	if !rec.Analyzed {
		t.Fatal("analyzed flag should be set")
	}
}

func TestRecordResultPromotesHighConfidence(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	s.Upsert(trade("m1", now, 5000, 0.4))

	low := model.ConsensusResult{MarketID: "m1", Decision: model.DecisionYes, Percentage: 60, CreatedAt: now}
	if pick := s.RecordResult(low); pick != nil {
		t.Fatal("below-threshold result should not promote")
	}

	noTrade := model.ConsensusResult{MarketID: "m1", Decision: model.DecisionNoTrade, Percentage: 90, CreatedAt: now}
	if pick := s.RecordResult(noTrade); pick != nil {
		t.Fatal("NO_TRADE never promotes")
	}

	high := model.ConsensusResult{MarketID: "m1", Decision: model.DecisionYes, Percentage: 85, CreatedAt: now}
	pick := s.RecordResult(high)
	if pick == nil {
		t.Fatal("above-threshold result should promote")
	}
	if pick.Title != "Will X happen" {
		t.Fatalf("pick should carry the market title: %q", pick.Title)
	}

	if got := len(s.Predictions()); got != 3 {
		t.Fatalf("all results should be recorded, got %d", got)
	}
	if got := len(s.Picks()); got != 1 {
		t.Fatalf("expected one pick, got %d", got)
	}
}

func TestPruneOldBoundaries(t *testing.T) {
	s := testStore(t)
	now := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	eightDaysOld := now.Add(-8 * 24 * time.Hour)
	sevenDaysOld := now.Add(-7 * 24 * time.Hour)

	s.Upsert(trade("stale-analyzed", eightDaysOld, 1000, 0.4))
	s.MarkAnalyzed("stale-analyzed")
	s.Upsert(trade("stale-unanalyzed", eightDaysOld, 1000, 0.4))
	s.Upsert(trade("boundary-analyzed", sevenDaysOld, 1000, 0.4))
	s.MarkAnalyzed("boundary-analyzed")

	s.RecordResult(model.ConsensusResult{MarketID: "old", Decision: model.DecisionYes, Percentage: 60, CreatedAt: now.Add(-31 * 24 * time.Hour)})
	s.RecordResult(model.ConsensusResult{MarketID: "fresh", Decision: model.DecisionYes, Percentage: 60, CreatedAt: now.Add(-time.Hour)})

	markets, predictions, _ := s.PruneOld()

	if markets != 1 {
		t.Fatalf("expected 1 pruned market, got %d", markets)
	}
	if _, ok := s.Get("stale-analyzed"); ok {
		t.Fatal("analyzed market 8 days idle should be pruned")
	}
	if _, ok := s.Get("stale-unanalyzed"); !ok {
		t.Fatal("unanalyzed markets are retained regardless of age")
	}
	if _, ok := s.Get("boundary-analyzed"); !ok {
		t.Fatal("a market exactly at the retention boundary is retained")
	}

	if predictions != 1 {
		t.Fatalf("expected 1 pruned prediction, got %d", predictions)
	}
	remaining := s.Predictions()
	if len(remaining) != 1 || remaining[0].MarketID != "fresh" {
		t.Fatalf("remaining predictions: %+v", remaining)
	}
}
