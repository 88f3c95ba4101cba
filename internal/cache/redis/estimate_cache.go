package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// estimateTTL bounds how long a cached estimate stays fresh. Consumers that
// need older estimates should query the store instead.
const estimateTTL = 5 * time.Minute

// EstimateCache implements domain.EstimateCache using JSON-encoded Redis
// strings keyed by "estimate:{exchange}:{symbol}".
type EstimateCache struct {
	rdb *redis.Client
}

// NewEstimateCache creates an EstimateCache backed by the given Client.
func NewEstimateCache(c *Client) *EstimateCache {
	return &EstimateCache{rdb: c.Underlying()}
}

func estimateKey(exchange, symbol string) string {
	return "estimate:" + exchange + ":" + symbol
}

// SetEstimate stores the most recent estimate for the instrument named in the
// estimate's trade parameters.
func (ec *EstimateCache) SetEstimate(ctx context.Context, est domain.TradeCostEstimate) error {
	data, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("redis: marshal estimate %s: %w", est.ID, err)
	}

	key := estimateKey(est.Params.Exchange, est.Params.Symbol)
	if err := ec.rdb.Set(ctx, key, data, estimateTTL).Err(); err != nil {
		return fmt.Errorf("redis: set estimate %s: %w", key, err)
	}
	return nil
}

// GetEstimate retrieves the most recent estimate for an instrument.
// It returns domain.ErrNotFound when no estimate is cached.
func (ec *EstimateCache) GetEstimate(ctx context.Context, exchange, symbol string) (domain.TradeCostEstimate, error) {
	key := estimateKey(exchange, symbol)
	data, err := ec.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TradeCostEstimate{}, domain.ErrNotFound
		}
		return domain.TradeCostEstimate{}, fmt.Errorf("redis: get estimate %s: %w", key, err)
	}

	var est domain.TradeCostEstimate
	if err := json.Unmarshal(data, &est); err != nil {
		return domain.TradeCostEstimate{}, fmt.Errorf("redis: unmarshal estimate %s: %w", key, err)
	}
	return est, nil
}

// Compile-time interface check.
var _ domain.EstimateCache = (*EstimateCache)(nil)
