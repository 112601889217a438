package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"polyswarm/internal/model"
)

// Show prints recent consensus picks. It reads from the database archive when
// configured and falls back to the local CSV snapshot otherwise.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	picks, total, err := a.recentPicks(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(picks) == 0 {
		fmt.Fprintln(os.Stdout, "no picks found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMarket\tTitle\tDecision\tConsensus%")

	for _, pick := range picks {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%.2f\n",
			pick.CreatedAt.UTC().Format(time.RFC3339),
			pick.MarketID,
			sanitizeInline(pick.Title),
			pick.Decision,
			pick.Percentage,
		)
	}

	writer.Flush()
	fmt.Fprintf(os.Stdout, "showing %d of %d picks\n", len(picks), total)
	return nil
}

func (a *App) recentPicks(ctx context.Context, limit int) ([]model.ConsensusPick, int64, error) {
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return nil, 0, err
	}

	if archive != nil {
		defer closeArchive()
		archived, err := archive.ListRecentPicks(ctx, limit)
		if err != nil {
			return nil, 0, err
		}
		total, err := archive.CountPicks(ctx)
		if err != nil {
			return nil, 0, err
		}
		picks := make([]model.ConsensusPick, len(archived))
		for i, p := range archived {
			picks[i] = model.ConsensusPick{
				MarketID:   p.MarketID,
				Title:      p.Title,
				Decision:   p.Decision,
				Percentage: p.Percentage,
				CreatedAt:  p.CreatedAt,
			}
		}
		return picks, total, nil
	}

	store := a.newStore()
	store.Load()
	picks := store.Picks()
	total := int64(len(picks))
	sort.Slice(picks, func(i, j int) bool { return picks[i].CreatedAt.After(picks[j].CreatedAt) })
	if len(picks) > limit {
		picks = picks[:limit]
	}
	return picks, total, nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
