package filter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

func testOpts() Options {
	return Options{
		MinTradeSize: decimal.NewFromInt(500),
		MinPrice:     decimal.NewFromFloat(0.02),
		MaxPrice:     decimal.NewFromFloat(0.98),
		Keywords:     []string{"celebrity", "divorce"},
		AITimeout:    time.Second,
	}
}

func trade(title string, size, price float64) model.TradeEvent {
	return model.TradeEvent{
		MarketID:  "m1",
		Title:     title,
		Outcome:   "YES",
		Size:      decimal.NewFromFloat(size),
		Price:     decimal.NewFromFloat(price),
		Timestamp: time.Now(),
	}
}

func TestShouldIncludeSizeThresholdIsMonotonic(t *testing.T) {
	f := New(testOpts(), nil, zerolog.Nop())

	if f.ShouldInclude(trade("Will X happen", 499, 0.4)) {
		t.Fatal("below-threshold size should be excluded")
	}
	if !f.ShouldInclude(trade("Will X happen", 500, 0.4)) {
		t.Fatal("threshold size should be included")
	}
	for _, size := range []float64{501, 1000, 50000} {
		if !f.ShouldInclude(trade("Will X happen", size, 0.4)) {
			t.Fatalf("size %v above threshold should stay included", size)
		}
	}
}

func TestShouldIncludePriceBandIsStrict(t *testing.T) {
	f := New(testOpts(), nil, zerolog.Nop())

	for _, price := range []float64{0.01, 0.02, 0.98, 0.99} {
		if f.ShouldInclude(trade("Will X happen", 1000, price)) {
			t.Fatalf("price %v outside the open band should be excluded", price)
		}
	}
	for _, price := range []float64{0.03, 0.5, 0.97} {
		if !f.ShouldInclude(trade("Will X happen", 1000, price)) {
			t.Fatalf("price %v inside the band should be included", price)
		}
	}
}

func TestShouldIncludeKeywordDenylist(t *testing.T) {
	f := New(testOpts(), nil, zerolog.Nop())

	if f.ShouldInclude(trade("Celebrity Divorce by June?", 1000, 0.4)) {
		t.Fatal("denylisted keyword should exclude regardless of case")
	}
	if !f.ShouldInclude(trade("Will rates rise in June?", 1000, 0.4)) {
		t.Fatal("clean title should be included")
	}
}

type stubClassifier struct {
	reply string
	err   error
}

func (s *stubClassifier) Name() string { return "stub/classifier" }

func (s *stubClassifier) Complete(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func TestShouldIncludeWithAIOverride(t *testing.T) {
	f := New(testOpts(), &stubClassifier{reply: "EXCLUDE: emotionally charged topic"}, zerolog.Nop())

	ok, reason := f.ShouldIncludeWithAI(context.Background(), trade("Will X happen", 1000, 0.4))
	if ok {
		t.Fatal("classifier EXCLUDE verdict should exclude")
	}
	if reason == "" {
		t.Fatal("exclusion should carry a reason")
	}
}

func TestShouldIncludeWithAIFailsOpen(t *testing.T) {
	f := New(testOpts(), &stubClassifier{err: errors.New("provider timeout")}, zerolog.Nop())

	ok, _ := f.ShouldIncludeWithAI(context.Background(), trade("Will X happen", 1000, 0.4))
	if !ok {
		t.Fatal("classifier failure must fail open")
	}
}

func TestShouldIncludeWithAIFallsBackToKeywordsOnError(t *testing.T) {
	f := New(testOpts(), &stubClassifier{err: errors.New("provider timeout")}, zerolog.Nop())

	ok, _ := f.ShouldIncludeWithAI(context.Background(), trade("Celebrity trial verdict?", 1000, 0.4))
	if ok {
		t.Fatal("keyword verdict must stand when the classifier is unavailable")
	}
}

func TestShouldEnqueueDefersKeywordRuleToClassifier(t *testing.T) {
	keywordHit := trade("Celebrity trial verdict?", 1000, 0.4)

	plain := New(testOpts(), nil, zerolog.Nop())
	if plain.ShouldEnqueue(keywordHit) {
		t.Fatal("without a classifier the keyword rule applies at enqueue time")
	}

	assisted := New(testOpts(), &stubClassifier{reply: "INCLUDE: legal proceedings"}, zerolog.Nop())
	if !assisted.ShouldEnqueue(keywordHit) {
		t.Fatal("with a classifier a keyword hit must still reach the consumer")
	}
	if assisted.ShouldEnqueue(trade("Celebrity trial verdict?", 100, 0.4)) {
		t.Fatal("size and price rules still apply at enqueue time")
	}
}

func TestShouldIncludeWithAIOverridesKeywordRule(t *testing.T) {
	f := New(testOpts(), &stubClassifier{reply: "INCLUDE: legal proceedings"}, zerolog.Nop())

	ok, _ := f.ShouldIncludeWithAI(context.Background(), trade("Celebrity trial verdict?", 1000, 0.4))
	if !ok {
		t.Fatal("classifier may override the keyword exclusion")
	}
}
