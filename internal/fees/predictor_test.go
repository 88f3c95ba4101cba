package fees

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// labelledExecutions generates a separable dataset: passive fills sit far
// from the mid in calm books, aggressive fills cross tight spreads.
func labelledExecutions(n int) ([]PredictorFeatures, []domain.ExecutionType) {
	features := make([]PredictorFeatures, 0, n)
	labels := make([]domain.ExecutionType, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			features = append(features, PredictorFeatures{
				OrderSize:          1 + float64(i%5),
				DistanceToMidBps:   20 + float64(i%10),
				SpreadRatio:        1.5,
				MarketDepthRatio:   1.2,
				VolatilityRecent:   0.0005,
				TimeSinceLastTrade: 5,
				VolumeProfile:      1,
			})
			labels = append(labels, domain.ExecutionMaker)
		} else {
			features = append(features, PredictorFeatures{
				OrderSize:          2 + float64(i%5),
				DistanceToMidBps:   0.5,
				SpreadRatio:        0.8,
				MarketDepthRatio:   0.9,
				VolatilityRecent:   0.005,
				TimeSinceLastTrade: 0.2,
				VolumeProfile:      1.5,
			})
			labels = append(labels, domain.ExecutionTaker)
		}
	}
	return features, labels
}

func TestNewPredictorRejectsUnknownModel(t *testing.T) {
	_, err := NewPredictor(ModelType("forest"), slog.Default())
	require.ErrorIs(t, err, domain.ErrInvalidParameters)
}

func TestPredictorTrainValidation(t *testing.T) {
	p, err := NewPredictor(ModelLogistic, slog.Default())
	require.NoError(t, err)

	features, labels := labelledExecutions(40)

	t.Run("mismatched lengths", func(t *testing.T) {
		_, err := p.Train(features, labels[:20])
		require.ErrorIs(t, err, domain.ErrInvalidParameters)
	})

	t.Run("too few samples", func(t *testing.T) {
		_, err := p.Train(features[:MinPredictorSamples-1], labels[:MinPredictorSamples-1])
		require.ErrorIs(t, err, domain.ErrInsufficientSamples)
	})

	t.Run("single class", func(t *testing.T) {
		oneSided := make([]domain.ExecutionType, 20)
		for i := range oneSided {
			oneSided[i] = domain.ExecutionTaker
		}
		_, err := p.Train(features[:20], oneSided)
		require.ErrorIs(t, err, domain.ErrInsufficientSamples)
		assert.False(t, p.Trained())
	})
}

func TestPredictorTrainAndPredict(t *testing.T) {
	for _, modelType := range []ModelType{ModelLogistic, ModelEnsemble} {
		t.Run(string(modelType), func(t *testing.T) {
			p, err := NewPredictor(modelType, slog.Default())
			require.NoError(t, err)

			features, labels := labelledExecutions(200)
			stats, err := p.Train(features, labels)
			require.NoError(t, err)
			require.True(t, p.Trained())

			assert.Equal(t, 200, stats.NSamples)
			assert.InDelta(t, 0.5, stats.MakerRatio, 1e-12)
			assert.Greater(t, stats.Accuracy, 0.9)

			got, ok := p.Stats()
			require.True(t, ok)
			assert.Equal(t, stats.Accuracy, got.Accuracy)

			makerProb, err := p.MakerProbability(features[0])
			require.NoError(t, err)
			assert.Greater(t, makerProb, 0.5)

			takerProb, err := p.MakerProbability(features[1])
			require.NoError(t, err)
			assert.Less(t, takerProb, 0.5)
		})
	}
}

func TestMakerProbabilityUntrained(t *testing.T) {
	p, err := NewPredictor(ModelLogistic, slog.Default())
	require.NoError(t, err)
	_, err = p.MakerProbability(PredictorFeatures{})
	require.ErrorIs(t, err, domain.ErrModelNotTrained)
}

func TestPredictorAddObservationRetrains(t *testing.T) {
	p, err := NewPredictor(ModelLogistic, slog.Default())
	require.NoError(t, err)

	features, labels := labelledExecutions(predictorRetrainEvery)
	for i := 0; i < predictorRetrainEvery-1; i++ {
		p.AddObservation(features[i], labels[i])
	}
	assert.False(t, p.Trained())

	p.AddObservation(features[predictorRetrainEvery-1], labels[predictorRetrainEvery-1])
	assert.True(t, p.Trained())
}

func TestStratifiedSplitKeepsBothClasses(t *testing.T) {
	features, labels := labelledExecutions(15) // 8 makers, 7 takers
	X := make([][]float64, len(features))
	y := make([]int, len(features))
	for i, f := range features {
		X[i] = f.Vector()
		if labels[i] == domain.ExecutionMaker {
			y[i] = 1
		}
	}
	_, _, _, testY := stratifiedSplit(X, y)

	var makers, takers int
	for _, l := range testY {
		if l == 1 {
			makers++
		} else {
			takers++
		}
	}
	assert.GreaterOrEqual(t, makers, 1)
	assert.GreaterOrEqual(t, takers, 1)
}

func TestExtractFeatures(t *testing.T) {
	snap := domain.OrderbookSnapshot{
		Exchange:  "okx",
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Now(),
		Bids: []domain.PriceLevel{
			{Price: 100, Quantity: 6},
			{Price: 99, Quantity: 2},
		},
		Asks: []domain.PriceLevel{
			{Price: 101, Quantity: 4},
		},
	}
	ctx := MarketContext{
		Prices:             []float64{100, 102},
		Spreads:            []float64{0.5, 1.5},
		Volumes:            []float64{10, 30},
		TimeSinceLastTrade: 2.5,
	}
	f := ExtractFeatures(snap, 3, 99.5, ctx)

	assert.Equal(t, 3.0, f.OrderSize)
	assert.InDelta(t, 1.0, f.DistanceToMid, 1e-12) // mid 100.5
	assert.InDelta(t, 1.0/100.5*10000, f.DistanceToMidBps, 1e-9)
	assert.InDelta(t, 3.0/12.0, f.OrderSizeRelative, 1e-12)
	assert.InDelta(t, (8.0-4.0)/12.0, f.OrderFlowImbalance, 1e-12)
	assert.InDelta(t, 2.0, f.MarketDepthRatio, 1e-12)
	assert.InDelta(t, 1.0/1.0, f.SpreadRatio, 1e-12) // spread 1 over avg 1
	assert.Greater(t, f.VolatilityRecent, 0.0)
	assert.InDelta(t, 0.02, f.MarketMomentum, 1e-12)
	assert.InDelta(t, 30.0/20.0, f.VolumeProfile, 1e-12)
	assert.Equal(t, 2.5, f.TimeSinceLastTrade)
}

func TestExtractFeaturesEmptyBook(t *testing.T) {
	f := ExtractFeatures(domain.OrderbookSnapshot{}, 1, 100, MarketContext{})
	assert.Equal(t, 1.0, f.MarketDepthRatio)
	assert.Equal(t, 1.0, f.SpreadRatio)
	assert.Equal(t, 1.0, f.VolumeProfile)
	assert.Zero(t, f.DistanceToMid)
	assert.Zero(t, f.OrderSizeRelative)
}
