package domain

import (
	"context"
	"time"
)

// OrderbookCache stores the latest orderbook snapshot per symbol.
type OrderbookCache interface {
	SetSnapshot(ctx context.Context, snap OrderbookSnapshot) error
	GetSnapshot(ctx context.Context, exchange, symbol string) (OrderbookSnapshot, error)
	GetBBO(ctx context.Context, exchange, symbol string) (bestBid, bestAsk float64, err error)
}

// EstimateCache stores the most recent cost estimate per symbol.
type EstimateCache interface {
	SetEstimate(ctx context.Context, est TradeCostEstimate) error
	GetEstimate(ctx context.Context, exchange, symbol string) (TradeCostEstimate, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams for simulator events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
