package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"polyswarm/internal/storage"
)

// Export renders archived picks as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	picks, err := archive.ListPicksBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(picks) == 0 {
		a.Logger.Info().Msg("no picks found for export window")
		return nil
	}

	downsampled := downsamplePicks(picks, opts.MaxPoints)
	a.Logger.Info().Int("total", len(picks)).Int("exported", len(downsampled)).Msg("exporting picks")

	if opts.CSVPath != "" {
		if err := writePicksCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePicksPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePicks(picks []storage.ArchivedPick, max int) []storage.ArchivedPick {
	if max <= 0 || len(picks) <= max {
		return picks
	}

	result := make([]storage.ArchivedPick, 0, max)
	step := float64(len(picks)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(picks) {
			idx = len(picks) - 1
		}
		result = append(result, picks[idx])
	}
	return result
}

func writePicksCSV(path string, picks []storage.ArchivedPick) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "market_id", "title", "decision", "percentage"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, pick := range picks {
		record := []string{
			pick.CreatedAt.Format(time.RFC3339),
			pick.MarketID,
			pick.Title,
			string(pick.Decision),
			strconv.FormatFloat(pick.Percentage, 'f', 2, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writePicksPNG(path string, picks []storage.ArchivedPick) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(picks))
	consensus := make([]float64, len(picks))
	for i, pick := range picks {
		x[i] = pick.CreatedAt
		consensus[i] = pick.Percentage
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Consensus (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Consensus strength",
				XValues: x,
				YValues: consensus,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
