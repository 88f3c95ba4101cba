package orderbook

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Defaults applied when a feed message omits its origin fields.
const (
	DefaultExchange = "OKX"
	DefaultSymbol   = "BTC-USDT-SWAP"
)

type wireMessage struct {
	Exchange  string          `json:"exchange"`
	Symbol    string          `json:"symbol"`
	Timestamp json.RawMessage `json:"timestamp"`
	Bids      []wireLevel     `json:"bids"`
	Asks      []wireLevel     `json:"asks"`
}

// wireLevel is a [price, quantity] pair whose members arrive as either
// JSON numbers or strings depending on the exchange.
type wireLevel []json.RawMessage

// ParseMessage decodes a raw L2 feed message into a snapshot. Malformed
// levels are dropped. A message carrying neither bids nor asks keys is
// rejected with ErrDecode; a missing timestamp defaults to receivedAt.
func ParseMessage(raw []byte, receivedAt time.Time) (domain.OrderbookSnapshot, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("orderbook: parse message: %v: %w", err, domain.ErrDecode)
	}
	if msg.Bids == nil && msg.Asks == nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("orderbook: message has no bids or asks: %w", domain.ErrDecode)
	}

	snap := domain.OrderbookSnapshot{
		Exchange:  msg.Exchange,
		Symbol:    msg.Symbol,
		Timestamp: parseTimestamp(msg.Timestamp, receivedAt),
		Bids:      parseLevels(msg.Bids),
		Asks:      parseLevels(msg.Asks),
	}
	if snap.Exchange == "" {
		snap.Exchange = DefaultExchange
	}
	if snap.Symbol == "" {
		snap.Symbol = DefaultSymbol
	}

	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	snap.Bids = dedupeLevels(snap.Bids)
	snap.Asks = dedupeLevels(snap.Asks)
	return snap, nil
}

func parseTimestamp(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 {
		return fallback
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return fallback
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return fallback
}

func parseLevels(levels []wireLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if len(lvl) < 2 {
			continue
		}
		price, ok := parseFloat(lvl[0])
		if !ok {
			continue
		}
		qty, ok := parseFloat(lvl[1])
		if !ok {
			continue
		}
		if price <= 0 || qty < 0 {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out
}

func parseFloat(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// dedupeLevels collapses consecutive levels at the same price, keeping the
// later entry. Input must already be sorted.
func dedupeLevels(levels []domain.PriceLevel) []domain.PriceLevel {
	if len(levels) < 2 {
		return levels
	}
	out := levels[:1]
	for _, lvl := range levels[1:] {
		if lvl.Price == out[len(out)-1].Price {
			out[len(out)-1] = lvl
			continue
		}
		out = append(out, lvl)
	}
	return out
}
