// Package filter decides whether a decoded trade event is worth analysis.
package filter

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"polyswarm/internal/llm"
	"polyswarm/internal/model"
)

const classifierSystemPrompt = `You classify prediction markets for an automated analysis pipeline.
Given a market title, judge its category and emotional volatility.
Reply with a single line: "INCLUDE: <category>" for markets suitable for dispassionate analysis,
or "EXCLUDE: <reason>" for highly emotional or volatile topics.`

// Options parameterise the admission rules.
type Options struct {
	MinTradeSize decimal.Decimal
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	Keywords     []string
	AITimeout    time.Duration
}

// Filter applies the admission rules in order, short-circuiting on the first
// failing rule. The optional classifier refines the keyword rule; the
// deterministic rules remain the safety net when it is absent or failing.
type Filter struct {
	opts       Options
	keywords   []string
	classifier llm.Provider
	logger     zerolog.Logger
}

// New constructs a Filter. classifier may be nil, which disables the
// AI-assisted step.
func New(opts Options, classifier llm.Provider, logger zerolog.Logger) *Filter {
	if opts.AITimeout <= 0 {
		opts.AITimeout = 10 * time.Second
	}

	keywords := make([]string, 0, len(opts.Keywords))
	for _, kw := range opts.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &Filter{
		opts:       opts,
		keywords:   keywords,
		classifier: classifier,
		logger:     logger.With().Str("component", "filter").Logger(),
	}
}

// ShouldInclude applies the deterministic admission rules.
func (f *Filter) ShouldInclude(ev model.TradeEvent) bool {
	ok, _ := f.check(ev)
	return ok
}

// ShouldEnqueue applies the rules that must hold before a trade enters the
// queue. When a classifier is configured the keyword rule is deferred to the
// consumer, where the classifier may override it; otherwise the full
// deterministic rule set applies here.
func (f *Filter) ShouldEnqueue(ev model.TradeEvent) bool {
	if f.classifier != nil {
		ok, _ := f.checkThresholds(ev)
		return ok
	}
	return f.ShouldInclude(ev)
}

func (f *Filter) check(ev model.TradeEvent) (bool, string) {
	if ok, reason := f.checkThresholds(ev); !ok {
		return false, reason
	}
	return f.checkKeywords(ev)
}

func (f *Filter) checkThresholds(ev model.TradeEvent) (bool, string) {
	if ev.Size.LessThan(f.opts.MinTradeSize) {
		return false, "below minimum trade size"
	}
	if ev.Price.LessThanOrEqual(f.opts.MinPrice) || ev.Price.GreaterThanOrEqual(f.opts.MaxPrice) {
		return false, "price outside band"
	}
	return true, "passed thresholds"
}

func (f *Filter) checkKeywords(ev model.TradeEvent) (bool, string) {
	title := strings.ToLower(ev.Title)
	for _, kw := range f.keywords {
		if strings.Contains(title, kw) {
			return false, "excluded keyword: " + kw
		}
	}
	return true, "passed deterministic rules"
}

// ShouldIncludeWithAI applies the size and price rules, then lets the
// classifier override the keyword rule with a richer category judgment. When
// the classifier is absent or failing, the keyword verdict stands as the
// safety net.
func (f *Filter) ShouldIncludeWithAI(ctx context.Context, ev model.TradeEvent) (bool, string) {
	if ok, reason := f.checkThresholds(ev); !ok {
		return false, reason
	}

	kwOK, kwReason := f.checkKeywords(ev)
	if f.classifier == nil {
		return kwOK, kwReason
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.AITimeout)
	defer cancel()

	reply, err := f.classifier.Complete(ctx, classifierSystemPrompt, ev.Title)
	if err != nil {
		f.logger.Warn().Err(err).Str("market", ev.MarketID).Msg("classifier unavailable, keyword verdict stands")
		return kwOK, kwReason
	}

	verdict := strings.ToUpper(reply)
	if strings.Contains(verdict, "EXCLUDE") {
		return false, "classifier: " + firstLine(reply)
	}
	return true, "classifier: " + firstLine(reply)
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}
