// Package swarm queries every configured model backend concurrently and
// reduces their votes into one consensus decision.
package swarm

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"polyswarm/internal/llm"
	"polyswarm/internal/model"
)

// Options tune the orchestrator.
type Options struct {
	Concurrency    int
	CallTimeout    time.Duration
	MaxAttempts    int
	RetryDelayBase time.Duration
	RatePerSecond  float64
}

// Swarm fans one question out to N providers and reduces the answers. It
// owns no persistent state; every Query is a pure request/response pass over
// a snapshot of the market.
type Swarm struct {
	providers []llm.Provider
	opts      Options
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// New constructs a Swarm over the given provider table.
func New(providers []llm.Provider, opts Options, logger zerolog.Logger) *Swarm {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &Swarm{
		providers: providers,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, opts.Concurrency),
		logger:    logger.With().Str("component", "swarm").Logger(),
	}
}

// Size reports the number of configured providers.
func (s *Swarm) Size() int {
	return len(s.providers)
}

// Query asks every provider the same question and reduces the votes. Provider
// failures never surface as errors: a call that exhausts retries contributes
// a NO_TRADE vote with its error recorded, so every provider yields exactly
// one vote.
func (s *Swarm) Query(ctx context.Context, systemPrompt, userPrompt string) model.ConsensusResult {
	if len(s.providers) == 0 {
		return model.ConsensusResult{
			Decision:  model.DecisionNoTrade,
			CreatedAt: time.Now().UTC(),
		}
	}

	votes := make([]model.ModelVote, len(s.providers))
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup

	for i, p := range s.providers {
		wg.Add(1)
		go func(i int, p llm.Provider) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			votes[i] = s.queryOne(ctx, p, systemPrompt, userPrompt)
		}(i, p)
	}
	wg.Wait()

	return Reduce(votes)
}

func (s *Swarm) queryOne(ctx context.Context, p llm.Provider, systemPrompt, userPrompt string) model.ModelVote {
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.opts.RetryDelayBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return errorVote(p.Name(), ctx.Err(), start)
			case <-time.After(delay):
			}
		}

		if err := s.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		reply, err := p.Complete(callCtx, systemPrompt, userPrompt)
		cancel()

		if err != nil {
			lastErr = err
			s.logger.Warn().Err(err).Str("model", p.Name()).Int("attempt", attempt).Msg("model call failed")
			continue
		}

		decision := ParseDecision(reply)
		latency := time.Since(start)
		s.logger.Info().
			Str("model", p.Name()).
			Str("decision", string(decision)).
			Dur("latency", latency).
			Msg("model vote received")

		return model.ModelVote{
			Model:     p.Name(),
			Decision:  decision,
			Reasoning: reply,
			Latency:   latency,
		}
	}

	return errorVote(p.Name(), lastErr, start)
}

func errorVote(name string, err error, start time.Time) model.ModelVote {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return model.ModelVote{
		Model:    name,
		Decision: model.DecisionNoTrade,
		Latency:  time.Since(start),
		Err:      msg,
	}
}

// Reduce folds a set of votes into a consensus. Votes carrying an error are
// excluded from the successful count; NO_TRADE votes are further excluded
// from the trading count. Zero trading votes or an exact tie yields NO_TRADE
// at 50%; otherwise the majority side wins at majority/trading x 100.
func Reduce(votes []model.ModelVote) model.ConsensusResult {
	res := model.ConsensusResult{
		Votes:       votes,
		TotalModels: len(votes),
		CreatedAt:   time.Now().UTC(),
	}

	var yes, no int
	for _, v := range votes {
		if v.Err != "" {
			continue
		}
		res.SuccessfulModels++
		switch v.Decision {
		case model.DecisionYes:
			yes++
		case model.DecisionNo:
			no++
		}
	}

	trading := yes + no
	if trading == 0 || yes == no {
		res.Decision = model.DecisionNoTrade
		res.Percentage = 50
		return res
	}

	majority := yes
	res.Decision = model.DecisionYes
	if no > yes {
		majority = no
		res.Decision = model.DecisionNo
	}
	res.Percentage = math.Round(float64(majority)/float64(trading)*10000) / 100

	return res
}
