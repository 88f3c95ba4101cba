package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OrderbookCache implements domain.OrderbookCache using Redis sorted sets and
// hashes for each instrument's orderbook.
//
// Key schema:
//
//	book:{exchange}:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{exchange}:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{exchange}:{symbol}:bid:qty  - hash mapping price -> quantity for bids
//	book:{exchange}:{symbol}:ask:qty  - hash mapping price -> quantity for asks
//	book:{exchange}:{symbol}:bbo      - hash with fields "bid" and "ask" (best prices)
//	book:{exchange}:{symbol}:meta     - hash with "ts" field (snapshot timestamp)
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func bookKeyPrefix(exchange, symbol string) string {
	return "book:" + exchange + ":" + symbol
}

func bookBidsKey(exchange, symbol string) string { return bookKeyPrefix(exchange, symbol) + ":bids" }
func bookAsksKey(exchange, symbol string) string { return bookKeyPrefix(exchange, symbol) + ":asks" }
func bookBidQtyKey(exchange, symbol string) string {
	return bookKeyPrefix(exchange, symbol) + ":bid:qty"
}
func bookAskQtyKey(exchange, symbol string) string {
	return bookKeyPrefix(exchange, symbol) + ":ask:qty"
}
func bookBBOKey(exchange, symbol string) string  { return bookKeyPrefix(exchange, symbol) + ":bbo" }
func bookMetaKey(exchange, symbol string) string { return bookKeyPrefix(exchange, symbol) + ":meta" }

// SetSnapshot atomically replaces the entire orderbook snapshot for an
// instrument. It clears existing data and repopulates all sorted sets, the
// quantity hashes, the BBO hash, and the metadata hash.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	bidsKey := bookBidsKey(snap.Exchange, snap.Symbol)
	asksKey := bookAsksKey(snap.Exchange, snap.Symbol)
	bidQtyKey := bookBidQtyKey(snap.Exchange, snap.Symbol)
	askQtyKey := bookAskQtyKey(snap.Exchange, snap.Symbol)
	bboKey := bookBBOKey(snap.Exchange, snap.Symbol)
	metaKey := bookMetaKey(snap.Exchange, snap.Symbol)

	pipe := oc.rdb.TxPipeline()

	// Clear existing keys.
	pipe.Del(ctx, bidsKey, asksKey, bidQtyKey, askQtyKey, bboKey, metaKey)

	// Populate bids.
	for _, lvl := range snap.Bids {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		qtyStr := strconv.FormatFloat(lvl.Quantity, 'f', -1, 64)
		pipe.ZAdd(ctx, bidsKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, bidQtyKey, priceStr, qtyStr)
	}

	// Populate asks.
	for _, lvl := range snap.Asks {
		priceStr := strconv.FormatFloat(lvl.Price, 'f', -1, 64)
		qtyStr := strconv.FormatFloat(lvl.Quantity, 'f', -1, 64)
		pipe.ZAdd(ctx, asksKey, redis.Z{Score: lvl.Price, Member: priceStr})
		pipe.HSet(ctx, askQtyKey, priceStr, qtyStr)
	}

	// Set BBO.
	if bid, ok := snap.BestBid(); ok {
		pipe.HSet(ctx, bboKey, "bid", strconv.FormatFloat(bid.Price, 'f', -1, 64))
	}
	if ask, ok := snap.BestAsk(); ok {
		pipe.HSet(ctx, bboKey, "ask", strconv.FormatFloat(ask.Price, 'f', -1, 64))
	}

	// Set metadata.
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(snap.Timestamp.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s %s: %w", snap.Exchange, snap.Symbol, err)
	}
	return nil
}

// GetSnapshot reconstructs a full OrderbookSnapshot from Redis.
// It returns domain.ErrNotFound if no snapshot data exists for the instrument.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, exchange, symbol string) (domain.OrderbookSnapshot, error) {
	bidsKey := bookBidsKey(exchange, symbol)
	asksKey := bookAsksKey(exchange, symbol)
	bidQtyKey := bookBidQtyKey(exchange, symbol)
	askQtyKey := bookAskQtyKey(exchange, symbol)
	metaKey := bookMetaKey(exchange, symbol)

	pipe := oc.rdb.Pipeline()

	// Read bids sorted descending (highest first).
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bidsKey, 0, -1)
	// Read asks sorted ascending (lowest first).
	asksCmd := pipe.ZRangeWithScores(ctx, asksKey, 0, -1)
	// Read quantity hashes.
	bidQtyCmd := pipe.HGetAll(ctx, bidQtyKey)
	askQtyCmd := pipe.HGetAll(ctx, askQtyKey)
	// Read metadata.
	metaCmd := pipe.HGetAll(ctx, metaKey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook snapshot %s %s: %w", exchange, symbol, err)
	}

	metaVals, _ := metaCmd.Result()
	if len(metaVals) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderbookSnapshot{
		Exchange: exchange,
		Symbol:   symbol,
	}

	// Parse timestamp.
	if tsStr, ok := metaVals["ts"]; ok {
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err == nil {
			snap.Timestamp = time.Unix(0, tsNano)
		}
	}

	// Build bid levels.
	bidQtys, _ := bidQtyCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	snap.Bids = make([]domain.PriceLevel, 0, len(bidsZ))
	for _, z := range bidsZ {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		qty := 0.0
		if qtyStr, exists := bidQtys[priceStr]; exists {
			qty, _ = strconv.ParseFloat(qtyStr, 64)
		}
		snap.Bids = append(snap.Bids, domain.PriceLevel{
			Price:    z.Score,
			Quantity: qty,
		})
	}

	// Build ask levels.
	askQtys, _ := askQtyCmd.Result()
	asksZ, _ := asksCmd.Result()
	snap.Asks = make([]domain.PriceLevel, 0, len(asksZ))
	for _, z := range asksZ {
		priceStr, ok := z.Member.(string)
		if !ok {
			continue
		}
		qty := 0.0
		if qtyStr, exists := askQtys[priceStr]; exists {
			qty, _ = strconv.ParseFloat(qtyStr, 64)
		}
		snap.Asks = append(snap.Asks, domain.PriceLevel{
			Price:    z.Score,
			Quantity: qty,
		})
	}

	return snap, nil
}

// GetBBO retrieves the current best bid and best ask from the BBO hash.
// It returns domain.ErrNotFound if no BBO data exists.
func (oc *OrderbookCache) GetBBO(ctx context.Context, exchange, symbol string) (bestBid, bestAsk float64, err error) {
	bboKey := bookBBOKey(exchange, symbol)
	vals, err := oc.rdb.HGetAll(ctx, bboKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s %s: %w", exchange, symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}

	if bidStr, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(bidStr, 64)
	}
	if askStr, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(askStr, 64)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
