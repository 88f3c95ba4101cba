package orderbook

import (
	"fmt"
	"math"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// DefaultMaxHistory bounds the analyzer's rolling buffers.
const DefaultMaxHistory = 1000

// Analyzer maintains rolling microstructure history and derives trading
// metrics from orderbook snapshots. Not safe for concurrent use; callers
// serialise access.
type Analyzer struct {
	mids       *ring[float64]
	spreads    *ring[float64]
	volumes    *ring[float64]
	timestamps *ring[time.Time]
}

func NewAnalyzer(maxHistory int) *Analyzer {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Analyzer{
		mids:       newRing[float64](maxHistory),
		spreads:    newRing[float64](maxHistory),
		volumes:    newRing[float64](maxHistory),
		timestamps: newRing[time.Time](maxHistory),
	}
}

// Update folds a snapshot into the rolling history.
func (a *Analyzer) Update(snap domain.OrderbookSnapshot) {
	if mid, ok := snap.MidPrice(); ok {
		a.mids.Push(mid)
		a.timestamps.Push(snap.Timestamp)
	}
	if spread, ok := snap.Spread(); ok {
		a.spreads.Push(spread)
	}
	a.volumes.Push(sideVolume(snap.Bids, 5) + sideVolume(snap.Asks, 5))
}

// Volatility is the sample standard deviation of log mid-price returns
// over the most recent window observations.
func (a *Analyzer) Volatility(window int) (float64, error) {
	if a.mids.Len() < window {
		return 0, fmt.Errorf("orderbook: volatility needs %d mids, have %d: %w",
			window, a.mids.Len(), domain.ErrInsufficientData)
	}
	mids := a.mids.Last(window)
	returns := logReturns(mids)
	if len(returns) == 0 {
		return 0, fmt.Errorf("orderbook: volatility window too small: %w", domain.ErrInsufficientData)
	}
	return stddev(returns), nil
}

// AverageSpread is the mean spread over the most recent window observations.
func (a *Analyzer) AverageSpread(window int) (float64, error) {
	if a.spreads.Len() < window {
		return 0, fmt.Errorf("orderbook: average spread needs %d spreads, have %d: %w",
			window, a.spreads.Len(), domain.ErrInsufficientData)
	}
	spreads := a.spreads.Last(window)
	var sum float64
	for _, s := range spreads {
		sum += s
	}
	return sum / float64(len(spreads)), nil
}

// Momentum is the fractional mid-price change across the most recent
// window observations. Zero when history is short.
func (a *Analyzer) Momentum(window int) float64 {
	if a.mids.Len() < window || window < 2 {
		return 0
	}
	mids := a.mids.Last(window)
	first := mids[0]
	if first == 0 {
		return 0
	}
	return (mids[len(mids)-1] - first) / first
}

// MarketDepth sums liquidity across the top levels of both sides.
func (a *Analyzer) MarketDepth(snap domain.OrderbookSnapshot, levels int) domain.MarketDepth {
	bid := sideVolume(snap.Bids, levels)
	ask := sideVolume(snap.Asks, levels)
	d := domain.MarketDepth{BidDepth: bid, AskDepth: ask, TotalDepth: bid + ask}
	if d.TotalDepth > 0 {
		d.Imbalance = (bid - ask) / d.TotalDepth
	}
	return d
}

// ImpactPrice is the volume-weighted average fill price of a market order
// of the given quantity walking the opposite side of the book.
func (a *Analyzer) ImpactPrice(snap domain.OrderbookSnapshot, quantity float64, side domain.Side) (float64, error) {
	levels := snap.Bids
	if side == domain.SideBuy {
		levels = snap.Asks
	}
	if len(levels) == 0 {
		return 0, fmt.Errorf("orderbook: empty %s side: %w", side, domain.ErrInsufficientLiquidity)
	}
	if quantity <= 0 {
		return 0, fmt.Errorf("orderbook: impact quantity must be positive: %w", domain.ErrInvalidParameters)
	}

	remaining := quantity
	var cost float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fill := math.Min(remaining, lvl.Quantity)
		cost += fill * lvl.Price
		remaining -= fill
	}
	if remaining > 0 {
		return 0, fmt.Errorf("orderbook: book cannot fill %v of %v: %w",
			remaining, quantity, domain.ErrInsufficientLiquidity)
	}
	return cost / quantity, nil
}

// LevelsWithinRange returns the bid and ask levels whose prices fall within
// rangePct percent of centerPrice.
func (a *Analyzer) LevelsWithinRange(snap domain.OrderbookSnapshot, centerPrice, rangePct float64) (bids, asks []domain.PriceLevel) {
	lower := centerPrice * (1 - rangePct/100)
	upper := centerPrice * (1 + rangePct/100)
	filter := func(levels []domain.PriceLevel) []domain.PriceLevel {
		var out []domain.PriceLevel
		for _, lvl := range levels {
			if lvl.Price >= lower && lvl.Price <= upper {
				out = append(out, lvl)
			}
		}
		return out
	}
	return filter(snap.Bids), filter(snap.Asks)
}

// MidHistory copies the most recent n mid prices, oldest first.
func (a *Analyzer) MidHistory(n int) []float64 {
	return a.mids.Last(n)
}

// SpreadHistory copies the most recent n spreads, oldest first.
func (a *Analyzer) SpreadHistory(n int) []float64 {
	return a.spreads.Last(n)
}

// VolumeHistory copies the most recent n top-5 volumes, oldest first.
func (a *Analyzer) VolumeHistory(n int) []float64 {
	return a.volumes.Last(n)
}

// HistoryLen reports how many mid prices are buffered.
func (a *Analyzer) HistoryLen() int { return a.mids.Len() }

func sideVolume(levels []domain.PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var sum float64
	for _, lvl := range levels[:n] {
		sum += lvl.Quantity
	}
	return sum
}

func logReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

func stddev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}
