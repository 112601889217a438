package swarm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"polyswarm/internal/llm"
	"polyswarm/internal/model"
)

type stubProvider struct {
	name  string
	reply string
	err   error
	calls atomic.Int32
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func testOpts() Options {
	return Options{
		Concurrency:    3,
		CallTimeout:    time.Second,
		MaxAttempts:    3,
		RetryDelayBase: time.Millisecond,
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		text string
		want model.Decision
	}{
		{"YES", model.DecisionYes},
		{"DECISION: YES\nBecause reasons.", model.DecisionYes},
		{"decision: yes", model.DecisionYes},
		{"DECISION: NO", model.DecisionNo},
		{"No, this will not happen", model.DecisionNo},
		{"NO_TRADE", model.DecisionNoTrade},
		{"I would say NO_TRADE, not enough signal", model.DecisionNoTrade},
		{"the market is uncertain", model.DecisionNoTrade},
		{"", model.DecisionNoTrade},
	}

	for _, c := range cases {
		if got := ParseDecision(c.text); got != c.want {
			t.Fatalf("ParseDecision(%q) = %s, want %s", c.text, got, c.want)
		}
	}
}

func TestQueryZeroProvidersIsNoTrade(t *testing.T) {
	s := New(nil, testOpts(), zerolog.Nop())
	res := s.Query(context.Background(), "sys", "user")

	if res.Decision != model.DecisionNoTrade {
		t.Fatalf("decision: %s", res.Decision)
	}
	if res.TotalModels != 0 || res.SuccessfulModels != 0 {
		t.Fatalf("totals should be zero: %+v", res)
	}
}

func TestQueryTieIsNoTradeAtFifty(t *testing.T) {
	providers := []llm.Provider{
		&stubProvider{name: "a", reply: "DECISION: YES"},
		&stubProvider{name: "b", reply: "DECISION: NO"},
	}
	s := New(providers, testOpts(), zerolog.Nop())
	res := s.Query(context.Background(), "sys", "user")

	if res.Decision != model.DecisionNoTrade {
		t.Fatalf("tie should be NO_TRADE, got %s", res.Decision)
	}
	if res.Percentage != 50 {
		t.Fatalf("tie percentage should be 50, got %v", res.Percentage)
	}
	if res.TotalModels != 2 || res.SuccessfulModels != 2 {
		t.Fatalf("totals: %+v", res)
	}
}

func TestQueryMajority(t *testing.T) {
	providers := []llm.Provider{
		&stubProvider{name: "a", reply: "YES"},
		&stubProvider{name: "b", reply: "YES"},
		&stubProvider{name: "c", reply: "DECISION: NO"},
	}
	s := New(providers, testOpts(), zerolog.Nop())
	res := s.Query(context.Background(), "sys", "user")

	if res.Decision != model.DecisionYes {
		t.Fatalf("decision: %s", res.Decision)
	}
	if res.Percentage != 66.67 {
		t.Fatalf("percentage: %v", res.Percentage)
	}
}

func TestQueryErrorIsolation(t *testing.T) {
	failing := &stubProvider{name: "b", err: errors.New("provider down")}
	providers := []llm.Provider{
		&stubProvider{name: "a", reply: "YES"},
		failing,
		&stubProvider{name: "c", reply: "YES"},
	}
	s := New(providers, testOpts(), zerolog.Nop())
	res := s.Query(context.Background(), "sys", "user")

	if len(res.Votes) != 3 {
		t.Fatalf("every provider must contribute a vote, got %d", len(res.Votes))
	}
	if res.SuccessfulModels != 2 {
		t.Fatalf("successful models: %d", res.SuccessfulModels)
	}
	if got := failing.calls.Load(); got != 3 {
		t.Fatalf("failing provider should be retried to exhaustion, called %d times", got)
	}

	var errVote *model.ModelVote
	for i := range res.Votes {
		if res.Votes[i].Model == "b" {
			errVote = &res.Votes[i]
		}
	}
	if errVote == nil {
		t.Fatal("missing vote for failing provider")
	}
	if errVote.Decision != model.DecisionNoTrade || errVote.Err == "" {
		t.Fatalf("error vote should be NO_TRADE with error set: %+v", errVote)
	}

	if res.Decision != model.DecisionYes || res.Percentage != 100 {
		t.Fatalf("surviving votes should still form a consensus: %+v", res)
	}
}

func TestReduceNoTradeVotesExcludedFromTradingCount(t *testing.T) {
	votes := []model.ModelVote{
		{Model: "a", Decision: model.DecisionYes},
		{Model: "b", Decision: model.DecisionNoTrade},
		{Model: "c", Decision: model.DecisionNoTrade},
	}
	res := Reduce(votes)

	if res.Decision != model.DecisionYes {
		t.Fatalf("single trading vote should carry the consensus, got %s", res.Decision)
	}
	if res.Percentage != 100 {
		t.Fatalf("percentage: %v", res.Percentage)
	}
	if res.SuccessfulModels != 3 {
		t.Fatalf("successful models: %d", res.SuccessfulModels)
	}
}

func TestReduceAllNoTrade(t *testing.T) {
	votes := []model.ModelVote{
		{Model: "a", Decision: model.DecisionNoTrade},
		{Model: "b", Decision: model.DecisionNoTrade},
	}
	res := Reduce(votes)

	if res.Decision != model.DecisionNoTrade || res.Percentage != 50 {
		t.Fatalf("all NO_TRADE should reduce to NO_TRADE at 50: %+v", res)
	}
}
