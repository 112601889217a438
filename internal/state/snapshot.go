package state

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polyswarm/internal/model"
)

const (
	marketsFile     = "markets.csv"
	predictionsFile = "predictions.csv"
	picksFile       = "picks.csv"
)

// SaveAll serializes the current snapshot to the three CSV tables under the
// data dir. Each file is written to a temporary location and renamed over the
// target, so a concurrent reader never observes a half-written file. The
// three writes proceed concurrently; the first error is returned after all
// complete.
func (s *Store) SaveAll() error {
	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	s.mu.RLock()
	markets := make([]model.MarketRecord, 0, len(s.markets))
	for _, rec := range s.markets {
		markets = append(markets, rec)
	}
	predictions := make([]model.ConsensusResult, len(s.predictions))
	copy(predictions, s.predictions)
	picks := make([]model.ConsensusPick, len(s.picks))
	copy(picks, s.picks)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = writeAtomic(filepath.Join(s.opts.DataDir, marketsFile), marketRows(markets))
	}()
	go func() {
		defer wg.Done()
		errs[1] = writeAtomic(filepath.Join(s.opts.DataDir, predictionsFile), predictionRows(predictions))
	}()
	go func() {
		defer wg.Done()
		errs[2] = writeAtomic(filepath.Join(s.opts.DataDir, picksFile), pickRows(picks))
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	s.logger.Debug().
		Int("markets", len(markets)).
		Int("predictions", len(predictions)).
		Int("picks", len(picks)).
		Msg("snapshot saved")
	return nil
}

// Load reads the snapshot files if present. A missing or corrupt file is
// non-fatal: the affected table simply starts empty.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rows, err := readRows(filepath.Join(s.opts.DataDir, marketsFile)); err != nil {
		s.logger.Warn().Err(err).Msg("markets snapshot unreadable, starting empty")
	} else {
		for _, row := range rows {
			rec, err := marketFromRow(row)
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping corrupt market row")
				continue
			}
			s.markets[rec.MarketID] = rec
		}
	}

	if rows, err := readRows(filepath.Join(s.opts.DataDir, predictionsFile)); err != nil {
		s.logger.Warn().Err(err).Msg("predictions snapshot unreadable, starting empty")
	} else {
		for _, row := range rows {
			res, err := predictionFromRow(row)
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping corrupt prediction row")
				continue
			}
			s.predictions = append(s.predictions, res)
		}
	}

	if rows, err := readRows(filepath.Join(s.opts.DataDir, picksFile)); err != nil {
		s.logger.Warn().Err(err).Msg("picks snapshot unreadable, starting empty")
	} else {
		for _, row := range rows {
			pick, err := pickFromRow(row)
			if err != nil {
				s.logger.Warn().Err(err).Msg("skipping corrupt pick row")
				continue
			}
			s.picks = append(s.picks, pick)
		}
	}

	s.logger.Info().
		Int("markets", len(s.markets)).
		Int("predictions", len(s.predictions)).
		Int("picks", len(s.picks)).
		Msg("snapshot loaded")
}

func writeAtomic(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	writer := csv.NewWriter(tmp)
	writeErr := writer.WriteAll(rows)
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, writeErr)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func readRows(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil // drop header
}

func marketRows(markets []model.MarketRecord) [][]string {
	rows := [][]string{{"market_id", "event_slug", "title", "outcome", "last_price", "last_size", "first_seen", "last_trade", "analyzed"}}
	for _, m := range markets {
		rows = append(rows, []string{
			m.MarketID,
			m.EventSlug,
			m.Title,
			m.Outcome,
			m.LastPrice.String(),
			m.LastSize.String(),
			m.FirstSeen.UTC().Format(time.RFC3339Nano),
			m.LastTrade.UTC().Format(time.RFC3339Nano),
			strconv.FormatBool(m.Analyzed),
		})
	}
	return rows
}

func marketFromRow(row []string) (model.MarketRecord, error) {
	if len(row) != 9 {
		return model.MarketRecord{}, fmt.Errorf("expected 9 columns, got %d", len(row))
	}

	price, err := decimal.NewFromString(row[4])
	if err != nil {
		return model.MarketRecord{}, fmt.Errorf("parse last price: %w", err)
	}
	size, err := decimal.NewFromString(row[5])
	if err != nil {
		return model.MarketRecord{}, fmt.Errorf("parse last size: %w", err)
	}
	firstSeen, err := time.Parse(time.RFC3339Nano, row[6])
	if err != nil {
		return model.MarketRecord{}, fmt.Errorf("parse first seen: %w", err)
	}
	lastTrade, err := time.Parse(time.RFC3339Nano, row[7])
	if err != nil {
		return model.MarketRecord{}, fmt.Errorf("parse last trade: %w", err)
	}
	analyzed, err := strconv.ParseBool(row[8])
	if err != nil {
		return model.MarketRecord{}, fmt.Errorf("parse analyzed: %w", err)
	}

	return model.MarketRecord{
		MarketID:  row[0],
		EventSlug: row[1],
		Title:     row[2],
		Outcome:   row[3],
		LastPrice: price,
		LastSize:  size,
		FirstSeen: firstSeen,
		LastTrade: lastTrade,
		Analyzed:  analyzed,
	}, nil
}

func predictionRows(predictions []model.ConsensusResult) [][]string {
	rows := [][]string{{"market_id", "decision", "percentage", "total_models", "successful_models", "created_at"}}
	for _, p := range predictions {
		rows = append(rows, []string{
			p.MarketID,
			string(p.Decision),
			strconv.FormatFloat(p.Percentage, 'f', -1, 64),
			strconv.Itoa(p.TotalModels),
			strconv.Itoa(p.SuccessfulModels),
			p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return rows
}

func predictionFromRow(row []string) (model.ConsensusResult, error) {
	if len(row) != 6 {
		return model.ConsensusResult{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}

	pct, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return model.ConsensusResult{}, fmt.Errorf("parse percentage: %w", err)
	}
	total, err := strconv.Atoi(row[3])
	if err != nil {
		return model.ConsensusResult{}, fmt.Errorf("parse total models: %w", err)
	}
	successful, err := strconv.Atoi(row[4])
	if err != nil {
		return model.ConsensusResult{}, fmt.Errorf("parse successful models: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, row[5])
	if err != nil {
		return model.ConsensusResult{}, fmt.Errorf("parse created at: %w", err)
	}

	return model.ConsensusResult{
		MarketID:         row[0],
		Decision:         model.Decision(row[1]),
		Percentage:       pct,
		TotalModels:      total,
		SuccessfulModels: successful,
		CreatedAt:        createdAt,
	}, nil
}

func pickRows(picks []model.ConsensusPick) [][]string {
	rows := [][]string{{"market_id", "title", "decision", "percentage", "created_at"}}
	for _, p := range picks {
		rows = append(rows, []string{
			p.MarketID,
			p.Title,
			string(p.Decision),
			strconv.FormatFloat(p.Percentage, 'f', -1, 64),
			p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return rows
}

func pickFromRow(row []string) (model.ConsensusPick, error) {
	if len(row) != 5 {
		return model.ConsensusPick{}, fmt.Errorf("expected 5 columns, got %d", len(row))
	}

	pct, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return model.ConsensusPick{}, fmt.Errorf("parse percentage: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, row[4])
	if err != nil {
		return model.ConsensusPick{}, fmt.Errorf("parse created at: %w", err)
	}

	return model.ConsensusPick{
		MarketID:   row[0],
		Title:      row[1],
		Decision:   model.Decision(row[2]),
		Percentage: pct,
		CreatedAt:  createdAt,
	}, nil
}
