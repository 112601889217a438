// Package service runs the collector: it owns the consumer loop draining the
// backpressure queue, triggers swarm analysis, and drives the periodic save
// and prune jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/alerting"
	"polyswarm/internal/backend"
	"polyswarm/internal/filter"
	"polyswarm/internal/model"
	"polyswarm/internal/queue"
	"polyswarm/internal/scheduler"
	"polyswarm/internal/state"
	"polyswarm/internal/storage"
	"polyswarm/internal/swarm"
)

const finalSaveTimeout = 5 * time.Second

const analysisSystemPrompt = `You are one independent analyst on a panel evaluating a prediction market.
Judge whether the YES outcome is underpriced, overpriced, or not worth trading.
Reply with exactly one of: "DECISION: YES", "DECISION: NO", or "DECISION: NO_TRADE",
followed by a short justification.`

// Options tune the collector.
type Options struct {
	SwarmEnabled     bool
	AnalysisMinSize  decimal.Decimal
	SaveInterval     time.Duration
	PruneInterval    time.Duration
	ArchiveRetention time.Duration
}

// Runner is the stream client surface the service drives.
type Runner interface {
	Run(ctx context.Context) error
	Stats() (received, rejected int64)
}

// Service wires the pipeline together. All dependencies are injected at
// construction; there is no ambient global lookup.
type Service struct {
	opts     Options
	stream   Runner
	queue    *queue.Queue
	filter   *filter.Filter
	store    *state.Store
	swarm    *swarm.Swarm
	backend  *backend.Client
	archive  storage.PickArchive
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// New constructs the collector service. backend, archive, and notifier may be
// nil, which disables the corresponding side effects.
func New(opts Options, stream Runner, q *queue.Queue, f *filter.Filter, store *state.Store, sw *swarm.Swarm, be *backend.Client, archive storage.PickArchive, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = 5 * time.Minute
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Hour
	}
	if opts.ArchiveRetention <= 0 {
		opts.ArchiveRetention = 30 * 24 * time.Hour
	}

	return &Service{
		opts:     opts,
		stream:   stream,
		queue:    q,
		filter:   f,
		store:    store,
		swarm:    sw,
		backend:  be,
		archive:  archive,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// HandleTrade is the stream callback. It only filters and enqueues; all
// further processing, including the classifier's keyword override, happens in
// the consumer loop, so nothing here blocks the socket read path.
func (s *Service) HandleTrade(ev model.TradeEvent) {
	if !s.filter.ShouldEnqueue(ev) {
		return
	}
	if !s.queue.Offer(ev) {
		s.logger.Warn().Str("market", ev.MarketID).Msg("queue full, trade dropped")
	}
}

// Run starts the long-lived tasks and blocks until ctx is cancelled, then
// performs a best-effort final save under its own deadline.
func (s *Service) Run(ctx context.Context) error {
	s.store.Load()

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		if err := s.stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("stream runner stopped")
		}
	}()

	go func() {
		defer wg.Done()
		s.consumeLoop(ctx)
	}()

	go func() {
		defer wg.Done()
		saver := scheduler.New("save", s.opts.SaveInterval, s.logger)
		_ = saver.Run(ctx, s.saveTick)
	}()

	go func() {
		defer wg.Done()
		pruner := scheduler.New("prune", s.opts.PruneInterval, s.logger)
		_ = pruner.Run(ctx, s.pruneTick)
	}()

	<-ctx.Done()
	wg.Wait()

	return s.finalSave()
}

func (s *Service) consumeLoop(ctx context.Context) {
	for {
		ev, err := s.queue.Take(ctx)
		if err != nil {
			return
		}
		s.process(ctx, ev)
	}
}

func (s *Service) process(ctx context.Context, ev model.TradeEvent) {
	include, reason := s.filter.ShouldIncludeWithAI(ctx, ev)
	if !include {
		s.logger.Debug().Str("market", ev.MarketID).Str("reason", reason).Msg("trade excluded")
		return
	}

	rec := s.store.Upsert(ev)
	s.logger.Info().
		Str("market", rec.MarketID).
		Str("title", rec.Title).
		Str("size", ev.Size.String()).
		Str("price", ev.Price.String()).
		Msg("trade recorded")

	if s.backend != nil {
		if err := s.backend.UpsertMarket(ctx, rec, &ev); err != nil {
			s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("backend market upsert failed")
		}
		if err := s.backend.RecordTrade(ctx, ev); err != nil {
			s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("backend trade record failed")
		}
	}

	if s.opts.SwarmEnabled && !rec.Analyzed && rec.LastSize.GreaterThanOrEqual(s.opts.AnalysisMinSize) {
		s.analyze(ctx, rec)
	}
}

func (s *Service) analyze(ctx context.Context, rec model.MarketRecord) {
	userPrompt := fmt.Sprintf(
		"Market: %s\nOutcome traded: %s\nLast price: %s\nLast trade size: $%s\nShould we take a position on YES?",
		rec.Title, rec.Outcome, rec.LastPrice.String(), rec.LastSize.String(),
	)

	started := time.Now()
	res := s.swarm.Query(ctx, analysisSystemPrompt, userPrompt)
	res.MarketID = rec.MarketID

	s.logger.Info().
		Str("market", rec.MarketID).
		Str("decision", string(res.Decision)).
		Float64("percentage", res.Percentage).
		Int("total_models", res.TotalModels).
		Int("successful_models", res.SuccessfulModels).
		Dur("elapsed", time.Since(started)).
		Msg("consensus computed")

	pick := s.store.RecordResult(res)
	s.store.MarkAnalyzed(rec.MarketID)

	if s.backend != nil {
		s.persistAnalysis(ctx, rec, res)
	}

	if pick == nil {
		return
	}

	if s.archive != nil {
		if _, err := s.archive.InsertPick(ctx, *pick, res.Votes); err != nil {
			s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("pick archive insert failed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, *pick); err != nil {
			s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("pick alert failed")
		}
	}
}

func (s *Service) persistAnalysis(ctx context.Context, rec model.MarketRecord, res model.ConsensusResult) {
	runID, err := s.backend.CreateAnalysisRun(ctx, rec.MarketID, res.TotalModels)
	if err != nil {
		s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("backend analysis run failed")
		return
	}

	for _, vote := range res.Votes {
		if err := s.backend.SavePrediction(ctx, runID, vote); err != nil {
			s.logger.Error().Err(err).Str("model", vote.Model).Msg("backend prediction save failed")
		}
	}
	if err := s.backend.SaveInsight(ctx, runID, res); err != nil {
		s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("backend insight save failed")
	}
	if err := s.backend.MarkAnalyzed(ctx, rec.MarketID); err != nil {
		s.logger.Error().Err(err).Str("market", rec.MarketID).Msg("backend mark analyzed failed")
	}
}

func (s *Service) saveTick(ctx context.Context) error {
	if err := s.store.SaveAll(); err != nil {
		return err
	}

	received, rejected := s.stream.Stats()
	s.logger.Info().
		Int64("frames_received", received).
		Int64("frames_rejected", rejected).
		Int64("queue_dropped", s.queue.Dropped()).
		Int("queue_depth", s.queue.Len()).
		Int("markets", len(s.store.Markets())).
		Msg("snapshot saved")
	return nil
}

func (s *Service) pruneTick(ctx context.Context) error {
	markets, predictions, picks := s.store.PruneOld()
	s.logger.Info().
		Int("markets", markets).
		Int("predictions", predictions).
		Int("picks", picks).
		Msg("pruned stale records")

	if s.archive != nil {
		cutoff := time.Now().UTC().Add(-s.opts.ArchiveRetention)
		if err := s.archive.DeletePicksBefore(ctx, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("archive prune failed")
		}
	}
	return nil
}

func (s *Service) finalSave() error {
	done := make(chan error, 1)
	go func() { done <- s.store.SaveAll() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("final save: %w", err)
		}
		s.logger.Info().Msg("final snapshot saved")
		return nil
	case <-time.After(finalSaveTimeout):
		return errors.New("final save timed out")
	}
}
