// Package model defines the core domain entities: trade events, aggregated
// market records, model votes, and consensus results.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Decision is a model's (or the swarm's) verdict on a market.
type Decision string

const (
	DecisionYes     Decision = "YES"
	DecisionNo      Decision = "NO"
	DecisionNoTrade Decision = "NO_TRADE"
)

// TradeEvent is one observed fill on the exchange feed. Immutable once
// decoded; it is never persisted directly, only folded into MarketRecord.
type TradeEvent struct {
	MarketID   string          `json:"market_id"`
	EventSlug  string          `json:"event_slug,omitempty"`
	Title      string          `json:"title"`
	Outcome    string          `json:"outcome"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"` // USD notional as reported by the feed
	Timestamp  time.Time       `json:"timestamp"`
	Trader     string          `json:"trader,omitempty"`
	TraderName string          `json:"trader_name,omitempty"`
}

// Validate checks trade event field constraints.
func (t *TradeEvent) Validate() error {
	if t.MarketID == "" {
		return errors.New("market ID must not be empty")
	}
	if t.Title == "" {
		return errors.New("title must not be empty")
	}
	if t.Price.IsNegative() || t.Price.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("price must be between 0.0 and 1.0")
	}
	if t.Size.IsNegative() {
		return errors.New("size must not be negative")
	}
	return nil
}

// MarketRecord is the most-recent-state view of a single market derived from
// its trade events. At most one record exists per market id; FirstSeen is
// preserved across updates, all other fields reflect the latest trade.
type MarketRecord struct {
	MarketID  string          `json:"market_id"`
	EventSlug string          `json:"event_slug,omitempty"`
	Title     string          `json:"title"`
	Outcome   string          `json:"outcome"`
	LastPrice decimal.Decimal `json:"last_price"`
	LastSize  decimal.Decimal `json:"last_size"`
	FirstSeen time.Time       `json:"first_seen"`
	LastTrade time.Time       `json:"last_trade"`
	Analyzed  bool            `json:"analyzed"`
}

// ModelVote is one language model's opinion on one market. Created per call
// by the swarm; never mutated. A vote whose Err is non-empty carries
// DecisionNoTrade and does not count toward the consensus.
type ModelVote struct {
	Model     string        `json:"model"`
	Decision  Decision      `json:"decision"`
	Reasoning string        `json:"reasoning,omitempty"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
}

// ConsensusResult is the reduction of a set of ModelVotes for one market at
// one point in time.
type ConsensusResult struct {
	MarketID         string      `json:"market_id"`
	Votes            []ModelVote `json:"votes"`
	Decision         Decision    `json:"decision"`
	Percentage       float64     `json:"percentage"` // 0-100
	TotalModels      int         `json:"total_models"`
	SuccessfulModels int         `json:"successful_models"`
	CreatedAt        time.Time   `json:"created_at"`
}

// ConsensusPick is a high-confidence ConsensusResult, persisted separately
// for downstream alerting.
type ConsensusPick struct {
	MarketID   string    `json:"market_id"`
	Title      string    `json:"title"`
	Decision   Decision  `json:"decision"`
	Percentage float64   `json:"percentage"`
	CreatedAt  time.Time `json:"created_at"`
}
