// Package state holds the in-memory authoritative table of observed markets,
// predictions, and consensus picks, with periodic CSV snapshots and pruning.
package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

// Options tune snapshot location, promotion, and retention.
type Options struct {
	DataDir             string
	PickThreshold       float64       // consensus percentage promoting a result to a pick
	PredictionRetention time.Duration // predictions and picks older than this are pruned
	MarketRetention     time.Duration // analyzed markets idle longer than this are pruned
}

// Store is the only mutable shared resource across tasks; all mutation goes
// through its atomic operations.
type Store struct {
	mu          sync.RWMutex
	markets     map[string]model.MarketRecord
	predictions []model.ConsensusResult
	picks       []model.ConsensusPick

	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs an empty store.
func New(opts Options, logger zerolog.Logger) *Store {
	if opts.PredictionRetention <= 0 {
		opts.PredictionRetention = 30 * 24 * time.Hour
	}
	if opts.MarketRetention <= 0 {
		opts.MarketRetention = 7 * 24 * time.Hour
	}

	return &Store{
		markets: make(map[string]model.MarketRecord),
		opts:    opts,
		logger:  logger.With().Str("component", "state").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upsert folds a trade event into the market table. A new market id gets a
// fresh record with FirstSeen set now; an existing one has all mutable fields
// replaced while FirstSeen and Analyzed are preserved.
func (s *Store) Upsert(ev model.TradeEvent) model.MarketRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.markets[ev.MarketID]
	if !ok {
		rec = model.MarketRecord{
			MarketID:  ev.MarketID,
			FirstSeen: ev.Timestamp,
		}
	}

	rec.EventSlug = ev.EventSlug
	rec.Title = ev.Title
	rec.Outcome = ev.Outcome
	rec.LastPrice = ev.Price
	rec.LastSize = ev.Size
	rec.LastTrade = ev.Timestamp

	s.markets[ev.MarketID] = rec
	return rec
}

// Get returns the record for a market id, if present.
func (s *Store) Get(marketID string) (model.MarketRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.markets[marketID]
	return rec, ok
}

// Markets returns a snapshot of all market records.
func (s *Store) Markets() []model.MarketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.MarketRecord, 0, len(s.markets))
	for _, rec := range s.markets {
		out = append(out, rec)
	}
	return out
}

// PendingAnalysis lists unanalyzed markets whose last trade size meets the
// analysis threshold.
func (s *Store) PendingAnalysis(minSize decimal.Decimal) []model.MarketRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MarketRecord
	for _, rec := range s.markets {
		if !rec.Analyzed && rec.LastSize.GreaterThanOrEqual(minSize) {
			out = append(out, rec)
		}
	}
	return out
}

// MarkAnalyzed flags the given markets as analyzed.
func (s *Store) MarkAnalyzed(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if rec, ok := s.markets[id]; ok {
			rec.Analyzed = true
			s.markets[id] = rec
		}
	}
}

// RecordResult stores a consensus result and, when its percentage clears the
// promotion threshold with a tradeable decision, promotes it to a pick. The
// returned pick is nil when no promotion happened.
func (s *Store) RecordResult(res model.ConsensusResult) *model.ConsensusPick {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions = append(s.predictions, res)

	if res.Decision == model.DecisionNoTrade || res.Percentage < s.opts.PickThreshold {
		return nil
	}

	title := ""
	if rec, ok := s.markets[res.MarketID]; ok {
		title = rec.Title
	}
	pick := model.ConsensusPick{
		MarketID:   res.MarketID,
		Title:      title,
		Decision:   res.Decision,
		Percentage: res.Percentage,
		CreatedAt:  res.CreatedAt,
	}
	s.picks = append(s.picks, pick)
	return &pick
}

// Predictions returns a snapshot of stored consensus results.
func (s *Store) Predictions() []model.ConsensusResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConsensusResult, len(s.predictions))
	copy(out, s.predictions)
	return out
}

// Picks returns a snapshot of promoted picks.
func (s *Store) Picks() []model.ConsensusPick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConsensusPick, len(s.picks))
	copy(out, s.picks)
	return out
}

// PruneOld drops predictions and picks past the prediction retention window,
// and analyzed markets whose last trade is past the market retention window.
// Unanalyzed markets are retained regardless of age. Returns the number of
// removed markets, predictions, and picks.
func (s *Store) PruneOld() (markets, predictions, picks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	predictionCutoff := now.Add(-s.opts.PredictionRetention)
	marketCutoff := now.Add(-s.opts.MarketRetention)

	for id, rec := range s.markets {
		if rec.Analyzed && rec.LastTrade.Before(marketCutoff) {
			delete(s.markets, id)
			markets++
		}
	}

	kept := s.predictions[:0]
	for _, p := range s.predictions {
		if p.CreatedAt.Before(predictionCutoff) {
			predictions++
			continue
		}
		kept = append(kept, p)
	}
	s.predictions = kept

	keptPicks := s.picks[:0]
	for _, p := range s.picks {
		if p.CreatedAt.Before(predictionCutoff) {
			picks++
			continue
		}
		keptPicks = append(keptPicks, p)
	}
	s.picks = keptPicks

	return markets, predictions, picks
}
