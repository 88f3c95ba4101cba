package domain

import "time"

// PriceLevel is a single price+quantity entry in an orderbook.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderbookSnapshot is a full L2 snapshot of bids and asks for a symbol.
// Bids are sorted descending by price, asks ascending.
type OrderbookSnapshot struct {
	Exchange  string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid. ok is false when the bid side is empty.
func (s OrderbookSnapshot) BestBid() (PriceLevel, bool) {
	if len(s.Bids) == 0 {
		return PriceLevel{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the lowest ask. ok is false when the ask side is empty.
func (s OrderbookSnapshot) BestAsk() (PriceLevel, bool) {
	if len(s.Asks) == 0 {
		return PriceLevel{}, false
	}
	return s.Asks[0], true
}

// MidPrice returns the midpoint of the best bid and ask.
func (s OrderbookSnapshot) MidPrice() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// Spread returns the absolute bid-ask spread.
func (s OrderbookSnapshot) Spread() (float64, bool) {
	bid, okB := s.BestBid()
	ask, okA := s.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// SpreadBps returns the spread in basis points of the mid price.
func (s OrderbookSnapshot) SpreadBps() (float64, bool) {
	spread, ok := s.Spread()
	if !ok {
		return 0, false
	}
	mid, _ := s.MidPrice()
	if mid <= 0 {
		return 0, false
	}
	return spread / mid * 10000, true
}

// MarketDepth summarises liquidity across the top N levels of both sides.
type MarketDepth struct {
	BidDepth   float64
	AskDepth   float64
	TotalDepth float64
	Imbalance  float64 // (bid-ask)/(bid+ask), 0 when both sides are empty
}
