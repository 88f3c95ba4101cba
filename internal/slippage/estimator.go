package slippage

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/alanyoungcy/costsim/internal/domain"
)

const (
	// MinTrainingSamples is the smallest dataset the estimator will fit.
	MinTrainingSamples = 10

	// DefaultMinRetrainSamples controls the sliding retraining window.
	DefaultMinRetrainSamples = 50

	// maxObservations bounds the observation buffer.
	maxObservations = 10000

	// retrainEvery triggers a background refit on every Nth observation.
	retrainEvery = 100

	// splitSeed fixes the train/test shuffle so refits are reproducible.
	splitSeed = 42

	testFraction = 0.2
)

// Quantiles predicted alongside the point estimate.
var Quantiles = []float64{0.05, 0.25, 0.5, 0.75, 0.95}

// Prediction is a slippage estimate with uncertainty bounds.
type Prediction struct {
	ExpectedSlippage    float64
	ExpectedSlippageBps float64
	ConfidenceLow       float64
	ConfidenceHigh      float64
	Quantiles           map[float64]float64
}

// TrainingStats summarises the most recent fit.
type TrainingStats struct {
	NSamples          int
	NFeatures         int
	MAE               float64
	MSE               float64
	R2                float64
	QuantileMAE       map[float64]float64
	FeatureImportance map[string]float64
}

// trainedModel bundles everything a prediction needs so retraining can
// swap it in atomically.
type trainedModel struct {
	scaler    *scaler
	linear    *linearModel
	quantiles map[float64]*quantileModel
	stats     TrainingStats
}

// Estimator predicts trade slippage with a linear point model and quantile
// regressors, retraining itself as realised observations accumulate.
// Safe for concurrent use.
type Estimator struct {
	mu    sync.RWMutex
	model *trainedModel

	bufMu             sync.Mutex
	featureHistory    []Features
	slippageHistory   []float64
	recorded          int
	minRetrainSamples int

	logger *slog.Logger
}

func NewEstimator(minRetrainSamples int, logger *slog.Logger) *Estimator {
	if minRetrainSamples <= 0 {
		minRetrainSamples = DefaultMinRetrainSamples
	}
	return &Estimator{
		minRetrainSamples: minRetrainSamples,
		logger:            logger.With(slog.String("component", "slippage")),
	}
}

// Trained reports whether a model has been fitted.
func (e *Estimator) Trained() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// Stats returns the most recent training statistics.
func (e *Estimator) Stats() (TrainingStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return TrainingStats{}, false
	}
	return e.model.stats, true
}

// ObservationCount reports the buffered observation count.
func (e *Estimator) ObservationCount() int {
	e.bufMu.Lock()
	defer e.bufMu.Unlock()
	return len(e.featureHistory)
}

// Train fits the point and quantile models on the given dataset and swaps
// them in. The split, scaling and evaluation are deterministic.
func (e *Estimator) Train(features []Features, slippages []float64) (TrainingStats, error) {
	if len(features) != len(slippages) {
		return TrainingStats{}, fmt.Errorf("slippage: %d features vs %d outcomes: %w",
			len(features), len(slippages), domain.ErrInvalidParameters)
	}
	if len(features) < MinTrainingSamples {
		return TrainingStats{}, fmt.Errorf("slippage: need %d samples, have %d: %w",
			MinTrainingSamples, len(features), domain.ErrInsufficientSamples)
	}

	X := make([][]float64, len(features))
	for i, f := range features {
		X[i] = f.Vector()
	}
	y := append([]float64{}, slippages...)

	trainX, trainY, testX, testY := split(X, y)

	sc := fitScaler(trainX)
	trainX = sc.transformAll(trainX)
	testX = sc.transformAll(testX)

	linear, err := fitLinear(trainX, trainY)
	if err != nil {
		return TrainingStats{}, fmt.Errorf("slippage: fit linear model: %w", err)
	}

	quantiles := make(map[float64]*quantileModel, len(Quantiles))
	for _, q := range Quantiles {
		quantiles[q] = fitQuantile(trainX, trainY, q)
	}

	stats := evaluate(linear, quantiles, testX, testY)
	stats.NSamples = len(features)
	stats.NFeatures = FeatureCount
	stats.FeatureImportance = make(map[string]float64, FeatureCount)
	for j, name := range FeatureNames {
		stats.FeatureImportance[name] = math.Abs(linear.weights[j])
	}

	e.mu.Lock()
	e.model = &trainedModel{scaler: sc, linear: linear, quantiles: quantiles, stats: stats}
	e.mu.Unlock()

	e.logger.Info("slippage models trained",
		slog.Int("samples", stats.NSamples),
		slog.Float64("r2", stats.R2),
		slog.Float64("mae", stats.MAE))
	return stats, nil
}

// Predict estimates slippage for the given features. refPrice normalises
// the basis-point figure. Returns ErrModelNotTrained before the first fit.
func (e *Estimator) Predict(features Features, refPrice float64) (Prediction, error) {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()
	if model == nil {
		return Prediction{}, fmt.Errorf("slippage: predict: %w", domain.ErrModelNotTrained)
	}

	x := model.scaler.transform(features.Vector())
	expected := model.linear.predict(x)

	pred := Prediction{
		ExpectedSlippage: expected,
		Quantiles:        make(map[float64]float64, len(model.quantiles)),
	}
	if refPrice > 0 {
		pred.ExpectedSlippageBps = expected / refPrice * 10000
	}

	qPreds := make([]float64, 0, len(model.quantiles))
	for q, m := range model.quantiles {
		v := m.predict(x)
		pred.Quantiles[q] = v
		qPreds = append(qPreds, v)
	}

	// The trained quantiles stop at 0.05/0.95, so the 95% interval falls
	// back to a normal approximation over the quantile spread.
	std := stddev(qPreds)
	if std == 0 {
		std = math.Abs(expected) * 0.1
	}
	pred.ConfidenceLow = expected - 1.96*std
	pred.ConfidenceHigh = expected + 1.96*std

	return pred, nil
}

// AddObservation buffers a realised slippage sample and retrains on a
// sliding window of recent data every retrainEvery-th call. A failed
// retrain keeps the current model serving.
func (e *Estimator) AddObservation(features Features, actualSlippage float64) {
	e.bufMu.Lock()
	e.featureHistory = append(e.featureHistory, features)
	e.slippageHistory = append(e.slippageHistory, actualSlippage)
	if len(e.featureHistory) > maxObservations {
		e.featureHistory = e.featureHistory[len(e.featureHistory)-maxObservations:]
		e.slippageHistory = e.slippageHistory[len(e.slippageHistory)-maxObservations:]
	}
	e.recorded++
	retrain := e.recorded%retrainEvery == 0 && len(e.featureHistory) >= e.minRetrainSamples

	var trainF []Features
	var trainS []float64
	if retrain {
		window := e.minRetrainSamples * 2
		if window > len(e.featureHistory) {
			window = len(e.featureHistory)
		}
		trainF = append([]Features{}, e.featureHistory[len(e.featureHistory)-window:]...)
		trainS = append([]float64{}, e.slippageHistory[len(e.slippageHistory)-window:]...)
	}
	e.bufMu.Unlock()

	if !retrain {
		return
	}
	if _, err := e.Train(trainF, trainS); err != nil {
		e.logger.Warn("slippage retrain failed, keeping current model",
			slog.String("error", err.Error()))
	}
}

// Confidence scores a prediction by cosine similarity of the query against
// the observation buffer, averaging the top decile. Zero before training.
func (e *Estimator) Confidence(features Features) float64 {
	if !e.Trained() {
		return 0
	}
	e.bufMu.Lock()
	history := append([]Features{}, e.featureHistory...)
	e.bufMu.Unlock()
	if len(history) == 0 {
		return 0
	}

	query := normalize(features.Vector())
	sims := make([]float64, 0, len(history))
	for _, h := range history {
		sims = append(sims, dot(normalize(h.Vector()), query))
	}
	sort.Float64s(sims)

	top := len(sims) / 10
	if top < 1 {
		top = 1
	}
	var sum float64
	for _, s := range sims[len(sims)-top:] {
		sum += s
	}
	return clamp01(sum / float64(top))
}

// Scenario is a named set of feature overrides.
type Scenario map[string]float64

// SimulateScenarios predicts slippage under per-scenario feature overrides.
func (e *Estimator) SimulateScenarios(base Features, refPrice float64, scenarios map[string]Scenario) map[string]Prediction {
	out := make(map[string]Prediction, len(scenarios))
	for name, overrides := range scenarios {
		modified := applyOverrides(base, overrides)
		pred, err := e.Predict(modified, refPrice)
		if err != nil {
			e.logger.Warn("scenario prediction failed",
				slog.String("scenario", name),
				slog.String("error", err.Error()))
			continue
		}
		out[name] = pred
	}
	return out
}

func applyOverrides(f Features, overrides Scenario) Features {
	for name, v := range overrides {
		switch name {
		case "trade_size":
			f.TradeSize = v
		case "trade_size_relative":
			f.TradeSizeRelative = v
		case "bid_ask_spread":
			f.BidAskSpread = v
		case "bid_ask_spread_bps":
			f.BidAskSpreadBps = v
		case "market_depth_1":
			f.MarketDepth1 = v
		case "market_depth_5":
			f.MarketDepth5 = v
		case "market_depth_10":
			f.MarketDepth10 = v
		case "volatility":
			f.Volatility = v
		case "momentum":
			f.Momentum = v
		case "time_of_day":
			f.TimeOfDay = v
		case "volume_profile":
			f.VolumeProfile = v
		case "order_flow_imbalance":
			f.OrderFlowImbalance = v
		}
	}
	return f
}

// split shuffles deterministically and carves off the test fraction.
func split(X [][]float64, y []float64) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	n := len(X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(splitSeed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	nTest := int(float64(n) * testFraction)
	if nTest < 1 {
		nTest = 1
	}
	for _, i := range idx[:nTest] {
		testX = append(testX, X[i])
		testY = append(testY, y[i])
	}
	for _, i := range idx[nTest:] {
		trainX = append(trainX, X[i])
		trainY = append(trainY, y[i])
	}
	return trainX, trainY, testX, testY
}

func evaluate(linear *linearModel, quantiles map[float64]*quantileModel, testX [][]float64, testY []float64) TrainingStats {
	stats := TrainingStats{QuantileMAE: make(map[float64]float64, len(quantiles))}
	n := float64(len(testY))

	var meanY float64
	for _, v := range testY {
		meanY += v
	}
	meanY /= n

	var ssRes, ssTot float64
	for i, x := range testX {
		pred := linear.predict(x)
		d := testY[i] - pred
		stats.MAE += math.Abs(d)
		stats.MSE += d * d
		ssRes += d * d
		dt := testY[i] - meanY
		ssTot += dt * dt
	}
	stats.MAE /= n
	stats.MSE /= n
	if ssTot > 0 {
		stats.R2 = 1 - ssRes/ssTot
	}

	for q, m := range quantiles {
		var mae float64
		for i, x := range testX {
			mae += math.Abs(testY[i] - m.predict(x))
		}
		stats.QuantileMAE[q] = mae / n
	}
	return stats
}

func normalize(x []float64) []float64 {
	var norm float64
	for _, v := range x {
		norm += v * v
	}
	norm = math.Sqrt(norm) + 1e-8
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
