package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// EstimateStore implements domain.EstimateStore using PostgreSQL.
type EstimateStore struct {
	pool *pgxpool.Pool
}

// NewEstimateStore creates a new EstimateStore backed by the given connection pool.
func NewEstimateStore(pool *pgxpool.Pool) *EstimateStore {
	return &EstimateStore{pool: pool}
}

const estimateSelectCols = `id, timestamp, exchange, symbol, trade_size, order_type, side,
	limit_price, time_horizon_ns, execution_price, notional, exchange_fee,
	slippage_cost, impact_cost, total_cost, cost_bps, maker_probability,
	slippage_confidence, slippage_low, slippage_high, spread, spread_bps,
	bid_depth, ask_depth, total_depth, imbalance, volatility,
	schedule_intervals, schedule_expected_cost, schedule_variance, schedule_utility`

// Insert stores a served cost estimate.
func (s *EstimateStore) Insert(ctx context.Context, est domain.TradeCostEstimate) error {
	const query = `
		INSERT INTO cost_estimates (
			id, timestamp, exchange, symbol, trade_size, order_type, side,
			limit_price, time_horizon_ns, execution_price, notional, exchange_fee,
			slippage_cost, impact_cost, total_cost, cost_bps, maker_probability,
			slippage_confidence, slippage_low, slippage_high, spread, spread_bps,
			bid_depth, ask_depth, total_depth, imbalance, volatility,
			schedule_intervals, schedule_expected_cost, schedule_variance, schedule_utility
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27,
			$28, $29, $30, $31
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		est.ID, est.Timestamp, est.Params.Exchange, est.Params.Symbol,
		est.Params.TradeSize, string(est.Params.OrderType), string(est.Params.Side),
		est.Params.LimitPrice, est.Params.TimeHorizon.Nanoseconds(),
		est.ExecutionPrice, est.Notional, est.ExchangeFee,
		est.SlippageCost, est.ImpactCost, est.TotalCost, est.CostBps, est.MakerProbability,
		est.SlippageConfidence, est.SlippageLow, est.SlippageHigh, est.Spread, est.SpreadBps,
		est.Depth.BidDepth, est.Depth.AskDepth, est.Depth.TotalDepth, est.Depth.Imbalance,
		est.Volatility,
		est.Schedule.Intervals, est.Schedule.ExpectedCost, est.Schedule.Variance, est.Schedule.Utility,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert estimate %s: %w", est.ID, err)
	}
	return nil
}

func scanEstimate(row pgx.Row) (domain.TradeCostEstimate, error) {
	var e domain.TradeCostEstimate
	var orderType, side string
	var horizonNs int64
	err := row.Scan(
		&e.ID, &e.Timestamp, &e.Params.Exchange, &e.Params.Symbol,
		&e.Params.TradeSize, &orderType, &side,
		&e.Params.LimitPrice, &horizonNs,
		&e.ExecutionPrice, &e.Notional, &e.ExchangeFee,
		&e.SlippageCost, &e.ImpactCost, &e.TotalCost, &e.CostBps, &e.MakerProbability,
		&e.SlippageConfidence, &e.SlippageLow, &e.SlippageHigh, &e.Spread, &e.SpreadBps,
		&e.Depth.BidDepth, &e.Depth.AskDepth, &e.Depth.TotalDepth, &e.Depth.Imbalance,
		&e.Volatility,
		&e.Schedule.Intervals, &e.Schedule.ExpectedCost, &e.Schedule.Variance, &e.Schedule.Utility,
	)
	if err != nil {
		return domain.TradeCostEstimate{}, err
	}
	e.Params.OrderType = domain.OrderType(orderType)
	e.Params.Side = domain.Side(side)
	e.Params.TimeHorizon = time.Duration(horizonNs)
	return e, nil
}

func scanEstimateRows(rows pgx.Rows) ([]domain.TradeCostEstimate, error) {
	var estimates []domain.TradeCostEstimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, e)
	}
	return estimates, rows.Err()
}

// GetByID retrieves a single estimate. Returns domain.ErrNotFound when the
// estimate does not exist.
func (s *EstimateStore) GetByID(ctx context.Context, id string) (domain.TradeCostEstimate, error) {
	query := `SELECT ` + estimateSelectCols + ` FROM cost_estimates WHERE id = $1`
	est, err := scanEstimate(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeCostEstimate{}, domain.ErrNotFound
		}
		return domain.TradeCostEstimate{}, fmt.Errorf("postgres: get estimate %s: %w", id, err)
	}
	return est, nil
}

// ListBySymbol returns estimates for a symbol with pagination and optional
// time filtering, newest first.
func (s *EstimateStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeCostEstimate, error) {
	query := `SELECT ` + estimateSelectCols + ` FROM cost_estimates WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY timestamp DESC"

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
		return nil, fmt.Errorf("postgres: list estimates by symbol: %w", err)
	}
	defer rows.Close()

	estimates, err := scanEstimateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan estimates by symbol: %w", err)
	}
	return estimates, nil
}

// ListBefore returns estimates with timestamp strictly before the given time
// (for archiving), oldest first.
func (s *EstimateStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeCostEstimate, error) {
	query := `SELECT ` + estimateSelectCols + ` FROM cost_estimates WHERE timestamp < $1 ORDER BY timestamp ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list estimates before: %w", err)
	}
	defer rows.Close()
	return scanEstimateRows(rows)
}

// DeleteBefore deletes estimates with timestamp before the given time.
// Returns the number deleted.
func (s *EstimateStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cost_estimates WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete estimates before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.EstimateStore = (*EstimateStore)(nil)
