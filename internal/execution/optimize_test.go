package execution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func calibrationObservations(n int) []TradeObservation {
	obs := make([]TradeObservation, n)
	price := 100.0
	for i := range obs {
		// Alternate small price moves so sigma estimation sees variance.
		if i%2 == 0 {
			price *= 1.001
		} else {
			price *= 0.9995
		}
		size := 10.0 + float64(i)
		obs[i] = TradeObservation{
			Size:            size,
			Price:           price,
			Time:            float64(i),
			ActualImpact:    0.002 * size,
			InitialPosition: size,
		}
	}
	return obs
}

func TestCalibrate(t *testing.T) {
	t.Run("too few observations", func(t *testing.T) {
		_, err := Calibrate([]TradeObservation{{Size: 1, Price: 100}})
		assert.ErrorIs(t, err, domain.ErrInsufficientData)
	})

	t.Run("flat prices rejected", func(t *testing.T) {
		obs := []TradeObservation{
			{Size: 1, Price: 100, ActualImpact: 0.01},
			{Size: 2, Price: 100, ActualImpact: 0.02},
			{Size: 3, Price: 100, ActualImpact: 0.03},
		}
		_, err := Calibrate(obs)
		assert.ErrorIs(t, err, domain.ErrOptimizationFailed)
	})

	t.Run("fits impact coefficients", func(t *testing.T) {
		params, err := Calibrate(calibrationObservations(30))
		require.NoError(t, err)
		require.NoError(t, params.Validate())

		// The generated impacts follow impact = 0.002*size, so the fitted
		// eta+epsilon should land close to that slope.
		assert.InDelta(t, 0.002, params.Eta+params.Epsilon, 5e-4)
		assert.Positive(t, params.Sigma)
	})

	t.Run("parameters stay within bounds", func(t *testing.T) {
		params, err := Calibrate(calibrationObservations(20))
		require.NoError(t, err)

		assert.GreaterOrEqual(t, params.Gamma, calibrationBounds[0].lo)
		assert.LessOrEqual(t, params.Gamma, calibrationBounds[0].hi)
		assert.GreaterOrEqual(t, params.Eta, calibrationBounds[1].lo)
		assert.LessOrEqual(t, params.Eta, calibrationBounds[1].hi)
		assert.GreaterOrEqual(t, params.Epsilon, calibrationBounds[2].lo)
		assert.LessOrEqual(t, params.Epsilon, calibrationBounds[2].hi)
		assert.GreaterOrEqual(t, params.Tau, calibrationBounds[3].lo)
		assert.LessOrEqual(t, params.Tau, calibrationBounds[3].hi)
	})
}

func TestNelderMead(t *testing.T) {
	t.Run("minimises a convex quadratic", func(t *testing.T) {
		target := [4]float64{0.5, 0.3, 0.2, 2.0}
		f := func(x [4]float64) float64 {
			var sum float64
			for i := range x {
				d := x[i] - target[i]
				sum += d * d
			}
			return sum
		}

		best, cost := nelderMead(f, calibrationStart, calibrationBounds)
		assert.Less(t, cost, 1e-4)
		for i := range best {
			assert.InDelta(t, target[i], best[i], 0.05, "dimension %d", i)
		}
	})

	t.Run("respects bounds", func(t *testing.T) {
		// Unconstrained minimum is far outside every bound.
		f := func(x [4]float64) float64 {
			var sum float64
			for i := range x {
				d := x[i] - 100
				sum += d * d
			}
			return sum
		}

		best, _ := nelderMead(f, calibrationStart, calibrationBounds)
		for i := range best {
			assert.LessOrEqual(t, best[i], calibrationBounds[i].hi)
			assert.GreaterOrEqual(t, best[i], calibrationBounds[i].lo)
		}
		// The bounded optimum sits on the upper boundary.
		assert.InDelta(t, calibrationBounds[3].hi, best[3], 1e-6)
	})
}

func TestEstimateSigma(t *testing.T) {
	assert.Zero(t, estimateSigma([]float64{100}))
	assert.Zero(t, estimateSigma([]float64{100, 100, 100}))

	sigma := estimateSigma([]float64{100, 101, 100, 102, 99})
	assert.Positive(t, sigma)
	assert.False(t, math.IsNaN(sigma))
}
