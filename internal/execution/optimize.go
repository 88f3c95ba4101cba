package execution

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// TradeObservation is one realised trade used for parameter calibration.
type TradeObservation struct {
	Size            float64
	Price           float64
	Time            float64
	ActualImpact    float64
	InitialPosition float64
}

// bound is an inclusive parameter range for the optimizer.
type bound struct{ lo, hi float64 }

var calibrationBounds = [4]bound{
	{1e-6, 10}, // gamma
	{1e-6, 1},  // eta
	{1e-6, 1},  // epsilon
	{0.1, 10},  // tau
}

var calibrationStart = [4]float64{0.1, 0.001, 0.01, 1.0}

// Calibrate fits gamma, eta, epsilon and tau to the observed trade impacts,
// re-estimating sigma from the observation price series. It returns
// ErrOptimizationFailed when no finite-cost parameter set is found.
func Calibrate(observations []TradeObservation) (Params, error) {
	if len(observations) < 2 {
		return Params{}, fmt.Errorf("execution: calibrate needs at least 2 observations: %w", domain.ErrInsufficientData)
	}

	prices := make([]float64, len(observations))
	for i, obs := range observations {
		prices[i] = obs.Price
	}
	sigma := estimateSigma(prices)
	if sigma <= 0 {
		return Params{}, fmt.Errorf("execution: flat price series: %w", domain.ErrOptimizationFailed)
	}

	objective := func(x [4]float64) float64 {
		eta, epsilon := x[1], x[2]
		var total float64
		for _, obs := range observations {
			predicted := (eta + epsilon) * obs.Size
			d := predicted - obs.ActualImpact
			total += d * d
		}
		return total
	}

	best, cost := nelderMead(objective, calibrationStart, calibrationBounds)
	if math.IsInf(cost, 0) || math.IsNaN(cost) {
		return Params{}, fmt.Errorf("execution: no finite objective: %w", domain.ErrOptimizationFailed)
	}

	return NewParams(sigma, best[0], best[1], best[2], best[3])
}

// estimateSigma is the standard deviation of log returns scaled by the
// square root of the sample size.
func estimateSigma(prices []float64) float64 {
	var returns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(prices[i]/prices[i-1]))
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(returns))) * math.Sqrt(float64(len(returns)))
}

const (
	nmMaxIter   = 400
	nmTolerance = 1e-10
)

// nelderMead minimises f over a box-bounded 4-dimensional domain using the
// downhill simplex method with reflection, expansion, contraction and
// shrink steps. Candidate points are clamped to the bounds.
func nelderMead(f func([4]float64) float64, start [4]float64, bounds [4]bound) ([4]float64, float64) {
	const (
		alpha = 1.0 // reflection
		gamma = 2.0 // expansion
		rho   = 0.5 // contraction
		sigma = 0.5 // shrink
	)

	clamp := func(x [4]float64) [4]float64 {
		for i := range x {
			if x[i] < bounds[i].lo {
				x[i] = bounds[i].lo
			}
			if x[i] > bounds[i].hi {
				x[i] = bounds[i].hi
			}
		}
		return x
	}

	type vertex struct {
		x [4]float64
		f float64
	}

	// Initial simplex: start point plus one perturbed point per dimension.
	simplex := make([]vertex, 5)
	simplex[0] = vertex{x: clamp(start)}
	simplex[0].f = f(simplex[0].x)
	for i := 0; i < 4; i++ {
		x := start
		step := 0.05 * (bounds[i].hi - bounds[i].lo)
		x[i] += step
		x = clamp(x)
		simplex[i+1] = vertex{x: x, f: f(x)}
	}

	for iter := 0; iter < nmMaxIter; iter++ {
		sort.Slice(simplex, func(i, j int) bool { return simplex[i].f < simplex[j].f })
		if simplex[4].f-simplex[0].f < nmTolerance {
			break
		}

		// Centroid of all but the worst vertex.
		var centroid [4]float64
		for _, v := range simplex[:4] {
			for i := range centroid {
				centroid[i] += v.x[i] / 4
			}
		}

		worst := simplex[4]
		var reflected [4]float64
		for i := range reflected {
			reflected[i] = centroid[i] + alpha*(centroid[i]-worst.x[i])
		}
		reflected = clamp(reflected)
		fr := f(reflected)

		switch {
		case fr < simplex[0].f:
			var expanded [4]float64
			for i := range expanded {
				expanded[i] = centroid[i] + gamma*(reflected[i]-centroid[i])
			}
			expanded = clamp(expanded)
			if fe := f(expanded); fe < fr {
				simplex[4] = vertex{x: expanded, f: fe}
			} else {
				simplex[4] = vertex{x: reflected, f: fr}
			}
		case fr < simplex[3].f:
			simplex[4] = vertex{x: reflected, f: fr}
		default:
			var contracted [4]float64
			for i := range contracted {
				contracted[i] = centroid[i] + rho*(worst.x[i]-centroid[i])
			}
			contracted = clamp(contracted)
			if fc := f(contracted); fc < worst.f {
				simplex[4] = vertex{x: contracted, f: fc}
			} else {
				for j := 1; j < 5; j++ {
					for i := range simplex[j].x {
						simplex[j].x[i] = simplex[0].x[i] + sigma*(simplex[j].x[i]-simplex[0].x[i])
					}
					simplex[j].x = clamp(simplex[j].x)
					simplex[j].f = f(simplex[j].x)
				}
			}
		}
	}

	sort.Slice(simplex, func(i, j int) bool { return simplex[i].f < simplex[j].f })
	return simplex[0].x, simplex[0].f
}
