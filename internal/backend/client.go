// Package backend talks to the persistence collaborator API. Every call is
// wrapped with bounded retry; callers log failures and move on, nothing here
// is ever fatal to the pipeline.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"polyswarm/internal/model"
)

// Options parameterise the backend client.
type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxAttempts    int
	RetryDelayBase time.Duration
}

// Client is the narrow interface to the hosted backend.
type Client struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// New constructs a backend client.
func New(opts Options, logger zerolog.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelayBase <= 0 {
		opts.RetryDelayBase = time.Second
	}

	return &Client{
		opts:    opts,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		logger:  logger.With().Str("component", "backend").Logger(),
	}
}

// UpsertMarket records the latest state of a market, optionally with the
// trade that produced it.
func (c *Client) UpsertMarket(ctx context.Context, rec model.MarketRecord, trade *model.TradeEvent) error {
	payload := map[string]any{"market": rec}
	if trade != nil {
		payload["trade"] = trade
	}
	return c.post(ctx, "/markets/upsert", payload, nil)
}

// RecordTrade stores one raw trade event.
func (c *Client) RecordTrade(ctx context.Context, ev model.TradeEvent) error {
	return c.post(ctx, "/trades", ev, nil)
}

// CreateAnalysisRun opens an analysis run for a market and returns its id.
func (c *Client) CreateAnalysisRun(ctx context.Context, marketID string, totalModels int) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	err := c.post(ctx, "/analysis-runs", map[string]any{
		"market_id":    marketID,
		"total_models": totalModels,
	}, &out)
	if err != nil {
		return "", err
	}
	return out.RunID, nil
}

// SavePrediction stores one model's vote under an analysis run.
func (c *Client) SavePrediction(ctx context.Context, runID string, vote model.ModelVote) error {
	return c.post(ctx, "/predictions", map[string]any{
		"run_id": runID,
		"vote":   vote,
	}, nil)
}

// SaveInsight stores the aggregated consensus for an analysis run.
func (c *Client) SaveInsight(ctx context.Context, runID string, res model.ConsensusResult) error {
	return c.post(ctx, "/insights", map[string]any{
		"run_id":    runID,
		"consensus": res,
	}, nil)
}

// MarkAnalyzed flags markets as analyzed on the backend.
func (c *Client) MarkAnalyzed(ctx context.Context, marketIDs ...string) error {
	return c.post(ctx, "/markets/mark-analyzed", map[string]any{"market_ids": marketIDs}, nil)
}

// ListPendingMarkets returns market ids awaiting analysis according to the
// backend.
func (c *Client) ListPendingMarkets(ctx context.Context) ([]string, error) {
	var out struct {
		MarketIDs []string `json:"market_ids"`
	}
	if err := c.get(ctx, "/markets/pending", &out); err != nil {
		return nil, err
	}
	return out.MarketIDs, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.doWithRetry(ctx, http.MethodPost, path, body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doWithRetry(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, out any) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.opts.RetryDelayBase << (attempt - 2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			c.logger.Debug().Str("path", path).Int("attempt", attempt).Msg("retrying backend call")
		}

		if lastErr = c.do(ctx, method, path, body, out); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("backend %s %s after %d attempts: %w", method, path, c.opts.MaxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload, 200))
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
