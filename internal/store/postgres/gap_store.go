package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// GapStore implements domain.GapStore using PostgreSQL.
type GapStore struct {
	pool *pgxpool.Pool
}

// NewGapStore creates a new GapStore backed by the given connection pool.
func NewGapStore(pool *pgxpool.Pool) *GapStore {
	return &GapStore{pool: pool}
}

const gapSelectCols = `id, inst_id, expected_seq, got_seq, occurred_at`

func scanGapRows(rows pgx.Rows) ([]domain.GapEvent, error) {
	var events []domain.GapEvent
	for rows.Next() {
		var ev domain.GapEvent
		if err := rows.Scan(&ev.ID, &ev.InstID, &ev.ExpectedSeq, &ev.GotSeq, &ev.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Insert appends one gap event to the audit trail. The database assigns the
// row ID.
func (s *GapStore) Insert(ctx context.Context, ev domain.GapEvent) error {
	const query = `
		INSERT INTO gap_events (inst_id, expected_seq, got_seq, occurred_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, ev.InstID, ev.ExpectedSeq, ev.GotSeq, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("postgres: insert gap event: %w", err)
	}
	return nil
}

// ListRecent returns gap events for an instrument, newest first, with
// pagination and optional time filtering.
func (s *GapStore) ListRecent(ctx context.Context, instID string, opts domain.ListOpts) ([]domain.GapEvent, error) {
	query := `SELECT ` + gapSelectCols + ` FROM gap_events WHERE inst_id = $1`
	args := []any{instID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY occurred_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list gap events: %w", err)
	}
	defer rows.Close()

	events, err := scanGapRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan gap events: %w", err)
	}
	return events, nil
}

// ListBefore returns up to limit gap events that occurred strictly before the
// given time, oldest first (for archiving).
func (s *GapStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.GapEvent, error) {
	query := `SELECT ` + gapSelectCols + ` FROM gap_events WHERE occurred_at < $1 ORDER BY occurred_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list gap events before: %w", err)
	}
	defer rows.Close()
	return scanGapRows(rows)
}

// DeleteBefore deletes gap events that occurred before the given time.
// Returns the number deleted.
func (s *GapStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM gap_events WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete gap events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.GapStore = (*GapStore)(nil)
