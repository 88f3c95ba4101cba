package slippage

import (
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// trainingSet builds a noiseless linear dataset: slippage driven by trade
// size and spread, with the remaining features varying enough to keep the
// design matrix well conditioned.
func trainingSet(n int) ([]Features, []float64) {
	features := make([]Features, 0, n)
	targets := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		f := Features{
			TradeSize:          1 + 0.5*float64(i),
			TradeSizeRelative:  0.01 * float64(i%9+1),
			BidAskSpread:       0.01 * float64(i%7+1),
			BidAskSpreadBps:    float64(i%7+1) * 2,
			MarketDepth1:       10 + float64(i%5),
			MarketDepth5:       50 + float64(i%11),
			MarketDepth10:      100 + float64(i%13),
			Volatility:         0.001 * float64(i%4+1),
			Momentum:           0.002 * float64(i%3),
			TimeOfDay:          float64(i%24) / 24,
			VolumeProfile:      1 + 0.1*float64(i%6),
			OrderFlowImbalance: 0.1 * float64(i%5-2),
		}
		features = append(features, f)
		targets = append(targets, 0.5*f.TradeSize+2*f.BidAskSpread)
	}
	return features, targets
}

func newTestEstimator(t *testing.T) *Estimator {
	t.Helper()
	return NewEstimator(0, slog.Default())
}

func TestTrainValidation(t *testing.T) {
	e := newTestEstimator(t)

	t.Run("mismatched lengths", func(t *testing.T) {
		features, targets := trainingSet(20)
		_, err := e.Train(features, targets[:10])
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})

	t.Run("too few samples", func(t *testing.T) {
		features, targets := trainingSet(MinTrainingSamples - 1)
		_, err := e.Train(features, targets)
		require.ErrorIs(t, err, domain.ErrInsufficientSamples)
		assert.False(t, e.Trained())
	})
}

func TestTrainAndPredict(t *testing.T) {
	e := newTestEstimator(t)
	features, targets := trainingSet(200)

	stats, err := e.Train(features, targets)
	require.NoError(t, err)
	require.True(t, e.Trained())

	assert.Equal(t, 200, stats.NSamples)
	assert.Equal(t, FeatureCount, stats.NFeatures)
	assert.Greater(t, stats.R2, 0.99)
	assert.Len(t, stats.FeatureImportance, FeatureCount)
	assert.Len(t, stats.QuantileMAE, len(Quantiles))

	got, ok := e.Stats()
	require.True(t, ok)
	assert.Equal(t, stats.NSamples, got.NSamples)

	// The relationship is noiseless linear, so predictions should land on
	// the target to a tight tolerance.
	query := features[42]
	want := targets[42]
	pred, err := e.Predict(query, 100)
	require.NoError(t, err)
	assert.InDelta(t, want, pred.ExpectedSlippage, 1e-6)
	assert.InDelta(t, pred.ExpectedSlippage/100*10000, pred.ExpectedSlippageBps, 1e-9)

	assert.Len(t, pred.Quantiles, len(Quantiles))
	for q, v := range pred.Quantiles {
		assert.False(t, math.IsNaN(v), "quantile %v", q)
	}
	assert.LessOrEqual(t, pred.ConfidenceLow, pred.ExpectedSlippage)
	assert.GreaterOrEqual(t, pred.ConfidenceHigh, pred.ExpectedSlippage)
}

func TestTrainIdenticalOutcomes(t *testing.T) {
	e := newTestEstimator(t)
	features := make([]Features, MinTrainingSamples)
	targets := make([]float64, MinTrainingSamples)
	for i := range features {
		features[i] = Features{TradeSize: 2, BidAskSpread: 0.01, VolumeProfile: 1}
		targets[i] = 3.25
	}

	_, err := e.Train(features, targets)
	require.NoError(t, err)

	pred, err := e.Predict(features[0], 100)
	require.NoError(t, err)
	assert.InDelta(t, 3.25, pred.ExpectedSlippage, 1e-9)
}

func TestPredictUntrained(t *testing.T) {
	e := newTestEstimator(t)
	_, err := e.Predict(Features{TradeSize: 1}, 100)
	require.ErrorIs(t, err, domain.ErrModelNotTrained)
}

func TestAddObservationRetrains(t *testing.T) {
	e := NewEstimator(10, slog.Default())
	features, targets := trainingSet(retrainEvery)

	for i := 0; i < retrainEvery-1; i++ {
		e.AddObservation(features[i], targets[i])
	}
	assert.False(t, e.Trained())
	assert.Equal(t, retrainEvery-1, e.ObservationCount())

	e.AddObservation(features[retrainEvery-1], targets[retrainEvery-1])
	assert.True(t, e.Trained())
	assert.Equal(t, retrainEvery, e.ObservationCount())
}

func TestAddObservationBufferBound(t *testing.T) {
	e := NewEstimator(10, slog.Default())
	features, targets := trainingSet(50)
	for i := 0; i < maxObservations+500; i++ {
		e.AddObservation(features[i%50], targets[i%50])
	}
	assert.Equal(t, maxObservations, e.ObservationCount())
}

func TestConfidence(t *testing.T) {
	t.Run("untrained is zero", func(t *testing.T) {
		e := newTestEstimator(t)
		assert.Zero(t, e.Confidence(Features{TradeSize: 1}))
	})

	t.Run("trained with empty buffer is zero", func(t *testing.T) {
		e := newTestEstimator(t)
		features, targets := trainingSet(50)
		_, err := e.Train(features, targets)
		require.NoError(t, err)
		assert.Zero(t, e.Confidence(features[0]))
	})

	t.Run("buffered observations score in range", func(t *testing.T) {
		e := NewEstimator(10, slog.Default())
		features, targets := trainingSet(retrainEvery)
		for i := range features {
			e.AddObservation(features[i], targets[i])
		}
		require.True(t, e.Trained())

		c := e.Confidence(features[10])
		assert.Greater(t, c, 0.0)
		assert.LessOrEqual(t, c, 1.0)

		// A query identical to a buffered sample has cosine similarity
		// near one against itself.
		assert.Greater(t, c, 0.9)
	})
}

func TestSimulateScenarios(t *testing.T) {
	e := newTestEstimator(t)
	features, targets := trainingSet(100)
	_, err := e.Train(features, targets)
	require.NoError(t, err)

	base := features[0]
	out := e.SimulateScenarios(base, 100, map[string]Scenario{
		"baseline": {},
		"large":    {"trade_size": base.TradeSize * 10},
		"wide":     {"bid_ask_spread": base.BidAskSpread * 5},
	})
	require.Len(t, out, 3)

	assert.InDelta(t, 0.5*base.TradeSize+2*base.BidAskSpread,
		out["baseline"].ExpectedSlippage, 1e-6)
	assert.Greater(t, out["large"].ExpectedSlippage, out["baseline"].ExpectedSlippage)
	assert.Greater(t, out["wide"].ExpectedSlippage, out["baseline"].ExpectedSlippage)
}

func TestSimulateScenariosUntrained(t *testing.T) {
	e := newTestEstimator(t)
	out := e.SimulateScenarios(Features{}, 100, map[string]Scenario{"a": {}})
	assert.Empty(t, out)
}

func TestApplyOverrides(t *testing.T) {
	base := Features{TradeSize: 1, Volatility: 0.01}
	got := applyOverrides(base, Scenario{
		"volatility": 0.05,
		"momentum":   -0.02,
		"unknown":    99,
	})
	assert.Equal(t, 1.0, got.TradeSize)
	assert.Equal(t, 0.05, got.Volatility)
	assert.Equal(t, -0.02, got.Momentum)
}

func TestSplitDeterministic(t *testing.T) {
	features, targets := trainingSet(50)
	X := make([][]float64, len(features))
	for i, f := range features {
		X[i] = f.Vector()
	}

	trainX1, _, testX1, testY1 := split(X, targets)
	trainX2, _, testX2, testY2 := split(X, targets)

	assert.Equal(t, testX1, testX2)
	assert.Equal(t, testY1, testY2)
	assert.Len(t, testX1, 10)
	assert.Len(t, trainX1, 40)
	assert.Equal(t, trainX1, trainX2)
}
