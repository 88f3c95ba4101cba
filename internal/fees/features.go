package fees

import (
	"math"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// PredictorFeatureCount is the dimensionality of the classifier input.
const PredictorFeatureCount = 11

// PredictorFeatureNames, in vector order.
var PredictorFeatureNames = []string{
	"order_size", "order_size_relative", "distance_to_mid", "distance_to_mid_bps",
	"market_depth_ratio", "spread_ratio", "volatility_recent", "order_flow_imbalance",
	"time_since_last_trade", "market_momentum", "volume_profile",
}

// PredictorFeatures is the input vector for maker/taker classification.
type PredictorFeatures struct {
	OrderSize          float64
	OrderSizeRelative  float64
	DistanceToMid      float64
	DistanceToMidBps   float64
	MarketDepthRatio   float64 // bid depth over ask depth
	SpreadRatio        float64 // spread over rolling average spread
	VolatilityRecent   float64
	OrderFlowImbalance float64
	TimeSinceLastTrade float64 // seconds
	MarketMomentum     float64
	VolumeProfile      float64
}

// Vector flattens the features in canonical order.
func (f PredictorFeatures) Vector() []float64 {
	return []float64{
		f.OrderSize, f.OrderSizeRelative, f.DistanceToMid, f.DistanceToMidBps,
		f.MarketDepthRatio, f.SpreadRatio, f.VolatilityRecent, f.OrderFlowImbalance,
		f.TimeSinceLastTrade, f.MarketMomentum, f.VolumeProfile,
	}
}

// MarketContext carries rolling history for feature extraction.
type MarketContext struct {
	Prices             []float64
	Spreads            []float64
	Volumes            []float64
	TimeSinceLastTrade float64
}

// ExtractFeatures builds the classifier input for a proposed order.
func ExtractFeatures(snap domain.OrderbookSnapshot, orderSize, orderPrice float64, ctx MarketContext) PredictorFeatures {
	f := PredictorFeatures{
		OrderSize:          orderSize,
		MarketDepthRatio:   1,
		SpreadRatio:        1,
		VolumeProfile:      1,
		TimeSinceLastTrade: ctx.TimeSinceLastTrade,
	}

	if mid, ok := snap.MidPrice(); ok {
		f.DistanceToMid = math.Abs(orderPrice - mid)
		if mid > 0 {
			f.DistanceToMidBps = f.DistanceToMid / mid * 10000
		}
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
	bidDepth := depth(snap.Bids, 5)
	askDepth := depth(snap.Asks, 5)
	total := bidDepth + askDepth
	if total > 0 {
		f.OrderSizeRelative = orderSize / total
		f.OrderFlowImbalance = (bidDepth - askDepth) / total
	}
	if askDepth > 0 {
		f.MarketDepthRatio = bidDepth / askDepth
	}

	if len(ctx.Prices) > 1 {
		returns := make([]float64, 0, len(ctx.Prices)-1)
		for i := 1; i < len(ctx.Prices); i++ {
			if ctx.Prices[i-1] > 0 && ctx.Prices[i] > 0 {
				returns = append(returns, math.Log(ctx.Prices[i]/ctx.Prices[i-1]))
			}
		}
		f.VolatilityRecent = stddev(returns)
		if first := ctx.Prices[0]; first != 0 {
			f.MarketMomentum = (ctx.Prices[len(ctx.Prices)-1] - first) / first
		}
	}
	if len(ctx.Spreads) > 0 {
		var sum float64
		for _, s := range ctx.Spreads {
			sum += s
		}
		if avg := sum / float64(len(ctx.Spreads)); avg > 0 {
			if spread, ok := snap.Spread(); ok {
				f.SpreadRatio = spread / avg
			}
		}
	}
	if len(ctx.Volumes) > 0 {
		var sum float64
		for _, v := range ctx.Volumes {
			sum += v
		}
		if avg := sum / float64(len(ctx.Volumes)); avg > 0 {
			f.VolumeProfile = ctx.Volumes[len(ctx.Volumes)-1] / avg
		}
	}

	return f
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
