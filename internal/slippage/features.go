// Package slippage estimates transaction costs from bid-ask spread and
// market impact using linear and quantile regression over microstructure
// features.
package slippage

import (
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// FeatureCount is the dimensionality of the feature vector.
const FeatureCount = 12

// FeatureNames, in vector order.
var FeatureNames = []string{
	"trade_size", "trade_size_relative", "bid_ask_spread", "bid_ask_spread_bps",
	"market_depth_1", "market_depth_5", "market_depth_10", "volatility",
	"momentum", "time_of_day", "volume_profile", "order_flow_imbalance",
}

// Features is the input vector for slippage prediction.
type Features struct {
	TradeSize          float64
	TradeSizeRelative  float64 // trade size over 5-level depth
	BidAskSpread       float64
	BidAskSpreadBps    float64
	MarketDepth1       float64
	MarketDepth5       float64
	MarketDepth10      float64
	Volatility         float64
	Momentum           float64
	TimeOfDay          float64 // fraction of the day in [0,1)
	VolumeProfile      float64 // current volume over rolling average
	OrderFlowImbalance float64
}

// Vector flattens the features in canonical order.
func (f Features) Vector() []float64 {
	return []float64{
		f.TradeSize, f.TradeSizeRelative, f.BidAskSpread, f.BidAskSpreadBps,
		f.MarketDepth1, f.MarketDepth5, f.MarketDepth10, f.Volatility,
		f.Momentum, f.TimeOfDay, f.VolumeProfile, f.OrderFlowImbalance,
	}
}

// History carries the rolling market context used by feature extraction.
type History struct {
	Prices  []float64
	Volumes []float64
}

// Extract builds the feature vector for a proposed trade against the
// current book. Missing history degrades to neutral defaults.
func Extract(snap domain.OrderbookSnapshot, tradeSize float64, hist History) Features {
	f := Features{TradeSize: tradeSize, VolumeProfile: 1}

	if spread, ok := snap.Spread(); ok {
		f.BidAskSpread = spread
	}
	if bps, ok := snap.SpreadBps(); ok {
		f.BidAskSpreadBps = bps
	}

	depth := func(levels []domain.PriceLevel, n int) float64 {
		if n > len(levels) {
			n = len(levels)
		}
		var sum float64
		for _, lvl := range levels[:n] {
			sum += lvl.Quantity
		}
		return sum
	}
	f.MarketDepth1 = depth(snap.Bids, 1) + depth(snap.Asks, 1)
	f.MarketDepth5 = depth(snap.Bids, 5) + depth(snap.Asks, 5)
	f.MarketDepth10 = depth(snap.Bids, 10) + depth(snap.Asks, 10)

	bidVol := depth(snap.Bids, 5)
	askVol := depth(snap.Asks, 5)
	if total := bidVol + askVol; total > 0 {
		f.OrderFlowImbalance = (bidVol - askVol) / total
	}
	if f.MarketDepth5 > 0 {
		f.TradeSizeRelative = tradeSize / f.MarketDepth5
	}

	if len(hist.Prices) > 1 {
		returns := logReturns(hist.Prices)
		f.Volatility = stddev(returns)
		if first := hist.Prices[0]; first != 0 {
			f.Momentum = (hist.Prices[len(hist.Prices)-1] - first) / first
		}
	}
	if len(hist.Volumes) > 0 {
		var sum float64
		for _, v := range hist.Volumes {
			sum += v
		}
		if avg := sum / float64(len(hist.Volumes)); avg > 0 {
			f.VolumeProfile = hist.Volumes[len(hist.Volumes)-1] / avg
		}
	}

	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	f.TimeOfDay = float64(ts.Hour()*3600+ts.Minute()*60+ts.Second()) / 86400

	return f
}
