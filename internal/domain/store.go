package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OutcomeStore persists realised trade outcomes.
type OutcomeStore interface {
	Insert(ctx context.Context, outcome TradeOutcome) error
	InsertBatch(ctx context.Context, outcomes []TradeOutcome) error
	ListRecent(ctx context.Context, symbol string, limit int) ([]TradeOutcome, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeOutcome, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// EstimateStore persists served cost estimates for later calibration
// against realised outcomes.
type EstimateStore interface {
	Insert(ctx context.Context, est TradeCostEstimate) error
	GetByID(ctx context.Context, id string) (TradeCostEstimate, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeCostEstimate, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeCostEstimate, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
