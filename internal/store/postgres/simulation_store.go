package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/okxsim/internal/domain"
)

// SimulationStore implements domain.SimulationStore using PostgreSQL.
// Monetary columns are NUMERIC; values cross the wire as exact decimal
// strings in both directions.
type SimulationStore struct {
	pool *pgxpool.Pool
}

// NewSimulationStore creates a new SimulationStore backed by the given
// connection pool.
func NewSimulationStore(pool *pgxpool.Pool) *SimulationStore {
	return &SimulationStore{pool: pool}
}

const simulationSelectCols = `id, inst_id, side, order_type, fee_tier,
	requested_qty::text, filled_qty::text, avg_fill_price::text, notional::text,
	slippage::text, fees::text, market_impact::text, net_cost::text,
	latency_ms, partial_fill, resting, stale, book_epoch, book_sequence, created_at`

func scanSimulationRow(row pgx.Row) (domain.SimulationResult, error) {
	var (
		res domain.SimulationResult
		dec = make([]string, 8)
	)
	if err := row.Scan(
		&res.ID, &res.InstID, &res.Side, &res.OrderType, &res.FeeTier,
		&dec[0], &dec[1], &dec[2], &dec[3],
		&dec[4], &dec[5], &dec[6], &dec[7],
		&res.LatencyMs, &res.PartialFill, &res.Resting, &res.Stale,
		&res.BookEpoch, &res.BookSequence, &res.CreatedAt,
	); err != nil {
		return res, err
	}

	fields := []*decimal.Decimal{
		&res.RequestedQty, &res.FilledQty, &res.AvgFillPrice, &res.Notional,
		&res.Slippage, &res.Fees, &res.MarketImpact, &res.NetCost,
	}
	for i, f := range fields {
		d, err := decimal.NewFromString(dec[i])
		if err != nil {
			return res, fmt.Errorf("parse decimal column %d: %w", i, err)
		}
		*f = d
	}
	return res, nil
}

func scanSimulationRows(rows pgx.Rows) ([]domain.SimulationResult, error) {
	var results []domain.SimulationResult
	for rows.Next() {
		res, err := scanSimulationRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// Insert persists one simulation result. Replays of the same ID are silently
// skipped via ON CONFLICT DO NOTHING.
func (s *SimulationStore) Insert(ctx context.Context, res domain.SimulationResult) error {
	const query = `
		INSERT INTO simulations (
			id, inst_id, side, order_type, fee_tier,
			requested_qty, filled_qty, avg_fill_price, notional,
			slippage, fees, market_impact, net_cost,
			latency_ms, partial_fill, resting, stale,
			book_epoch, book_sequence, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		res.ID, res.InstID, res.Side, res.OrderType, res.FeeTier,
		res.RequestedQty.String(), res.FilledQty.String(), res.AvgFillPrice.String(), res.Notional.String(),
		res.Slippage.String(), res.Fees.String(), res.MarketImpact.String(), res.NetCost.String(),
		res.LatencyMs, res.PartialFill, res.Resting, res.Stale,
		res.BookEpoch, res.BookSequence, res.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert simulation %s: %w", res.ID, err)
	}
	return nil
}

// GetByID returns one simulation result, or domain.ErrNotFound.
func (s *SimulationStore) GetByID(ctx context.Context, id string) (domain.SimulationResult, error) {
	query := `SELECT ` + simulationSelectCols + ` FROM simulations WHERE id = $1`

	res, err := scanSimulationRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SimulationResult{}, domain.ErrNotFound
		}
		return domain.SimulationResult{}, fmt.Errorf("postgres: get simulation %s: %w", id, err)
	}
	return res, nil
}

// ListRecent returns simulations for an instrument, newest first, with
// pagination and optional time filtering.
func (s *SimulationStore) ListRecent(ctx context.Context, instID string, opts domain.ListOpts) ([]domain.SimulationResult, error) {
	query := `SELECT ` + simulationSelectCols + ` FROM simulations WHERE inst_id = $1`
	args := []any{instID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list simulations: %w", err)
	}
	defer rows.Close()

	results, err := scanSimulationRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan simulations: %w", err)
	}
	return results, nil
}

// ListBefore returns up to limit simulations created strictly before the
// given time, oldest first (for archiving).
func (s *SimulationStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.SimulationResult, error) {
	query := `SELECT ` + simulationSelectCols + ` FROM simulations WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list simulations before: %w", err)
	}
	defer rows.Close()
	return scanSimulationRows(rows)
}

// DeleteBefore deletes simulations created before the given time. Returns the
// number deleted.
func (s *SimulationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM simulations WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete simulations before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SimulationStore = (*SimulationStore)(nil)
