// Package storage is the optional PostgreSQL archive of consensus picks and
// per-model votes, kept for long-horizon history beyond the local snapshot.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polyswarm/internal/model"
)

var (
	// ErrNotConfigured indicates the archive pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPickSQL = `INSERT INTO consensus_picks (
        market_id,
        title,
        decision,
        percentage,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id;`

	insertVoteSQL = `INSERT INTO model_votes (
        pick_id,
        market_id,
        model,
        decision,
        latency_ms,
        error,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listPicksBetweenSQL = `SELECT
        id,
        market_id,
        title,
        decision,
        percentage,
        created_at
    FROM consensus_picks
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listRecentPicksSQL = `SELECT
        id,
        market_id,
        title,
        decision,
        percentage,
        created_at
    FROM consensus_picks
    ORDER BY created_at DESC
    LIMIT $1;`

	deletePicksBeforeSQL = `DELETE FROM consensus_picks WHERE created_at < $1;`

	countPicksSQL = `SELECT COUNT(*) FROM consensus_picks;`
)

// ArchivedPick is one persisted consensus pick row.
type ArchivedPick struct {
	ID         int64
	MarketID   string
	Title      string
	Decision   model.Decision
	Percentage float64
	CreatedAt  time.Time
}

// PickArchive defines operations for pick persistence.
type PickArchive interface {
	InsertPick(ctx context.Context, pick model.ConsensusPick, votes []model.ModelVote) (int64, error)
	ListPicksBetween(ctx context.Context, from, to time.Time) ([]ArchivedPick, error)
	ListRecentPicks(ctx context.Context, limit int) ([]ArchivedPick, error)
	DeletePicksBefore(ctx context.Context, olderThan time.Time) error
	CountPicks(ctx context.Context) (int64, error)
}

// Store aggregates archive access over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertPick persists a pick and its votes, returning the pick row id.
func (s *Store) InsertPick(ctx context.Context, pick model.ConsensusPick, votes []model.ModelVote) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert pick: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	row := tx.QueryRow(ctx, insertPickSQL,
		pick.MarketID,
		pick.Title,
		string(pick.Decision),
		pick.Percentage,
		pick.CreatedAt,
	)
	if scanErr := row.Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert pick: %w", scanErr)
	}

	for _, vote := range votes {
		var errMsg interface{}
		if vote.Err != "" {
			errMsg = vote.Err
		}
		if _, execErr := tx.Exec(ctx, insertVoteSQL,
			id,
			pick.MarketID,
			vote.Model,
			string(vote.Decision),
			vote.Latency.Milliseconds(),
			errMsg,
			pick.CreatedAt,
		); execErr != nil {
			return 0, fmt.Errorf("insert vote: %w", execErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert pick: %w", err)
	}
	return id, nil
}

// ListPicksBetween lists picks within a time window.
func (s *Store) ListPicksBetween(ctx context.Context, from, to time.Time) ([]ArchivedPick, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPicksBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list picks between: %w", queryErr)
	}
	defer rows.Close()

	picks := make([]ArchivedPick, 0)
	for rows.Next() {
		pick, scanErr := scanPick(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		picks = append(picks, pick)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return picks, nil
}

// ListRecentPicks lists the most recent picks ordered by descending time.
func (s *Store) ListRecentPicks(ctx context.Context, limit int) ([]ArchivedPick, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentPicksSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent picks: %w", queryErr)
	}
	defer rows.Close()

	picks := make([]ArchivedPick, 0, limit)
	for rows.Next() {
		pick, scanErr := scanPick(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		picks = append(picks, pick)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return picks, nil
}

// DeletePicksBefore deletes historical picks; votes cascade.
func (s *Store) DeletePicksBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deletePicksBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete picks before: %w", execErr)
	}
	return nil
}

// CountPicks counts archived picks.
func (s *Store) CountPicks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countPicksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count picks: %w", scanErr)
	}
	return count, nil
}

func scanPick(rows pgx.Rows) (ArchivedPick, error) {
	var (
		pick     ArchivedPick
		decision string
	)
	if err := rows.Scan(
		&pick.ID,
		&pick.MarketID,
		&pick.Title,
		&decision,
		&pick.Percentage,
		&pick.CreatedAt,
	); err != nil {
		return ArchivedPick{}, err
	}
	pick.Decision = model.Decision(decision)
	return pick, nil
}

var _ PickArchive = (*Store)(nil)
