package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// OutcomeStore implements domain.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *pgxpool.Pool
}

// NewOutcomeStore creates a new OutcomeStore backed by the given connection pool.
func NewOutcomeStore(pool *pgxpool.Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

const outcomeSelectCols = `id, exchange, symbol, trade_size, order_type, side,
	limit_price, time_horizon_ns, actual_cost, execution_type, execution_time_ns, timestamp`

const outcomeInsertQuery = `
	INSERT INTO trade_outcomes (
		id, exchange, symbol, trade_size, order_type, side,
		limit_price, time_horizon_ns, actual_cost, execution_type,
		execution_time_ns, timestamp
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12
	) ON CONFLICT (id) DO NOTHING`

func outcomeArgs(o domain.TradeOutcome) []any {
	return []any{
		o.ID, o.Params.Exchange, o.Params.Symbol, o.Params.TradeSize,
		string(o.Params.OrderType), string(o.Params.Side),
		o.Params.LimitPrice, o.Params.TimeHorizon.Nanoseconds(),
		o.ActualCost, string(o.ExecutionType),
		o.ExecutionTime.Nanoseconds(), o.Timestamp,
	}
}

func scanOutcomeRows(rows pgx.Rows) ([]domain.TradeOutcome, error) {
	var outcomes []domain.TradeOutcome
	for rows.Next() {
		var o domain.TradeOutcome
		var orderType, side, execType string
		var horizonNs, execNs int64
		if err := rows.Scan(
			&o.ID, &o.Params.Exchange, &o.Params.Symbol, &o.Params.TradeSize,
			&orderType, &side, &o.Params.LimitPrice, &horizonNs,
			&o.ActualCost, &execType, &execNs, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		o.Params.OrderType = domain.OrderType(orderType)
		o.Params.Side = domain.Side(side)
		o.Params.TimeHorizon = time.Duration(horizonNs)
		o.ExecutionType = domain.ExecutionType(execType)
		o.ExecutionTime = time.Duration(execNs)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Insert stores a single realised trade outcome. Duplicate IDs are silently
// skipped via ON CONFLICT DO NOTHING.
func (s *OutcomeStore) Insert(ctx context.Context, outcome domain.TradeOutcome) error {
	if _, err := s.pool.Exec(ctx, outcomeInsertQuery, outcomeArgs(outcome)...); err != nil {
		return fmt.Errorf("postgres: insert outcome %s: %w", outcome.ID, err)
	}
	return nil
}

// InsertBatch inserts multiple outcomes efficiently using pgx Batch.
func (s *OutcomeStore) InsertBatch(ctx context.Context, outcomes []domain.TradeOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(outcomeInsertQuery, outcomeArgs(o)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range outcomes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert outcome batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns the most recent outcomes for a symbol, newest first.
func (s *OutcomeStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.TradeOutcome, error) {
	query := `SELECT ` + outcomeSelectCols + ` FROM trade_outcomes WHERE symbol = $1 ORDER BY timestamp DESC`
	args := []any{symbol}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent outcomes: %w", err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent outcomes: %w", err)
	}
	return outcomes, nil
}

// ListBefore returns outcomes with timestamp strictly before the given time
// (for archiving), oldest first.
func (s *OutcomeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeOutcome, error) {
	query := `SELECT ` + outcomeSelectCols + ` FROM trade_outcomes WHERE timestamp < $1 ORDER BY timestamp ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outcomes before: %w", err)
	}
	defer rows.Close()
	return scanOutcomeRows(rows)
}

// DeleteBefore deletes outcomes with timestamp before the given time.
// Returns the number deleted.
func (s *OutcomeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_outcomes WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete outcomes before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored outcomes.
func (s *OutcomeStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM trade_outcomes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count outcomes: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.OutcomeStore = (*OutcomeStore)(nil)
