package fees

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ModelType selects the classifier behind the predictor.
type ModelType string

const (
	ModelLogistic ModelType = "logistic"
	ModelEnsemble ModelType = "ensemble"
)

const (
	// MinPredictorSamples is the smallest dataset the predictor will fit.
	MinPredictorSamples = 10

	// maxPredictorHistory bounds the observation buffer.
	maxPredictorHistory = 10000

	// predictorRetrainEvery triggers a refit on every Nth observation.
	predictorRetrainEvery = 100

	predictorSplitSeed = 42
	ensembleSize       = 25

	logisticEpochs = 300
	logisticLR     = 0.1
	logisticAlpha  = 0.01
)

// PredictorStats summarises the most recent classifier fit.
type PredictorStats struct {
	NSamples       int
	Accuracy       float64
	MakerRatio     float64
	MakerPrecision float64
	MakerRecall    float64
	TakerPrecision float64
	TakerRecall    float64
}

// classifier scores the probability of the positive (maker) class.
type classifier interface {
	probability(x []float64) float64
}

type trainedClassifier struct {
	scaler *predScaler
	model  classifier
	stats  PredictorStats
}

// Predictor estimates the probability that an order fills passively.
// Safe for concurrent use.
type Predictor struct {
	modelType ModelType

	mu    sync.RWMutex
	model *trainedClassifier

	bufMu    sync.Mutex
	features []PredictorFeatures
	labels   []int // 1 maker, 0 taker
	recorded int

	logger *slog.Logger
}

func NewPredictor(modelType ModelType, logger *slog.Logger) (*Predictor, error) {
	switch modelType {
	case ModelLogistic, ModelEnsemble:
	default:
		return nil, fmt.Errorf("fees: unsupported model type %q: %w", modelType, domain.ErrInvalidParameters)
	}
	return &Predictor{
		modelType: modelType,
		logger:    logger.With(slog.String("component", "makertaker")),
	}, nil
}

// Trained reports whether a classifier has been fitted.
func (p *Predictor) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Stats returns the most recent training statistics.
func (p *Predictor) Stats() (PredictorStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return PredictorStats{}, false
	}
	return p.model.stats, true
}

// Train fits the classifier on labelled executions with a deterministic
// stratified split and swaps it in.
func (p *Predictor) Train(features []PredictorFeatures, executions []domain.ExecutionType) (PredictorStats, error) {
	if len(features) != len(executions) {
		return PredictorStats{}, fmt.Errorf("fees: %d features vs %d labels: %w",
			len(features), len(executions), domain.ErrInvalidParameters)
	}
	if len(features) < MinPredictorSamples {
		return PredictorStats{}, fmt.Errorf("fees: need %d samples, have %d: %w",
			MinPredictorSamples, len(features), domain.ErrInsufficientSamples)
	}

	X := make([][]float64, len(features))
	y := make([]int, len(features))
	var makers int
	for i, f := range features {
		X[i] = f.Vector()
		if executions[i] == domain.ExecutionMaker {
			y[i] = 1
			makers++
		}
	}
	if makers == 0 || makers == len(y) {
		return PredictorStats{}, fmt.Errorf("fees: training needs both classes: %w", domain.ErrInsufficientSamples)
	}

	trainX, trainY, testX, testY := stratifiedSplit(X, y)

	sc := fitPredScaler(trainX)
	trainX = sc.transformAll(trainX)
	testX = sc.transformAll(testX)

	var model classifier
	switch p.modelType {
	case ModelLogistic:
		model = fitLogistic(trainX, trainY)
	case ModelEnsemble:
		model = fitEnsemble(trainX, trainY)
	}

	stats := evaluateClassifier(model, testX, testY)
	stats.NSamples = len(features)
	stats.MakerRatio = float64(makers) / float64(len(y))

	p.mu.Lock()
	p.model = &trainedClassifier{scaler: sc, model: model, stats: stats}
	p.mu.Unlock()

	p.logger.Info("maker/taker model trained",
		slog.Int("samples", stats.NSamples),
		slog.Float64("accuracy", stats.Accuracy),
		slog.Float64("maker_ratio", stats.MakerRatio))
	return stats, nil
}

// MakerProbability predicts the probability of passive execution for one
// order. Returns ErrModelNotTrained before the first fit.
func (p *Predictor) MakerProbability(features PredictorFeatures) (float64, error) {
	p.mu.RLock()
	model := p.model
	p.mu.RUnlock()
	if model == nil {
		return 0, fmt.Errorf("fees: maker probability: %w", domain.ErrModelNotTrained)
	}
	x := model.scaler.transform(features.Vector())
	return model.model.probability(x), nil
}

// AddObservation buffers a labelled execution and retrains on every
// predictorRetrainEvery-th call once enough history exists. A failed
// retrain keeps the current classifier.
func (p *Predictor) AddObservation(features PredictorFeatures, actual domain.ExecutionType) {
	p.bufMu.Lock()
	p.features = append(p.features, features)
	label := 0
	if actual == domain.ExecutionMaker {
		label = 1
	}
	p.labels = append(p.labels, label)
	if len(p.features) > maxPredictorHistory {
		p.features = p.features[len(p.features)-maxPredictorHistory:]
		p.labels = p.labels[len(p.labels)-maxPredictorHistory:]
	}
	p.recorded++
	retrain := p.recorded%predictorRetrainEvery == 0 && len(p.features) >= predictorRetrainEvery

	var trainF []PredictorFeatures
	var trainE []domain.ExecutionType
	if retrain {
		trainF = append([]PredictorFeatures{}, p.features...)
		trainE = make([]domain.ExecutionType, len(p.labels))
		for i, l := range p.labels {
			if l == 1 {
				trainE[i] = domain.ExecutionMaker
			} else {
				trainE[i] = domain.ExecutionTaker
			}
		}
	}
	p.bufMu.Unlock()

	if !retrain {
		return
	}
	if _, err := p.Train(trainF, trainE); err != nil {
		p.logger.Warn("maker/taker retrain failed, keeping current model",
			slog.String("error", err.Error()))
	}
}

// logisticModel is binary logistic regression fitted by gradient descent
// with L2 regularisation.
type logisticModel struct {
	weights   []float64
	intercept float64
}

func fitLogistic(X [][]float64, y []int) *logisticModel {
	n := len(X)
	dims := len(X[0])
	m := &logisticModel{weights: make([]float64, dims)}

	for epoch := 0; epoch < logisticEpochs; epoch++ {
		lr := logisticLR / (1 + 0.01*float64(epoch))
		gradW := make([]float64, dims)
		var gradB float64
		for i := 0; i < n; i++ {
			err := m.probability(X[i]) - float64(y[i])
			gradB += err
			for j := 0; j < dims; j++ {
				gradW[j] += err * X[i][j]
			}
		}
		for j := 0; j < dims; j++ {
			m.weights[j] -= lr * (gradW[j]/float64(n) + logisticAlpha*m.weights[j])
		}
		m.intercept -= lr * gradB / float64(n)
	}
	return m
}

func (m *logisticModel) probability(x []float64) float64 {
	z := m.intercept
	for j, w := range m.weights {
		z += w * x[j]
	}
	return 1 / (1 + math.Exp(-z))
}

// ensembleModel bags logistic models fitted on bootstrap resamples and
// averages their probabilities.
type ensembleModel struct {
	members []*logisticModel
}

func fitEnsemble(X [][]float64, y []int) *ensembleModel {
	n := len(X)
	rng := rand.New(rand.NewSource(predictorSplitSeed))
	ens := &ensembleModel{members: make([]*logisticModel, 0, ensembleSize)}
	for k := 0; k < ensembleSize; k++ {
		sampleX := make([][]float64, n)
		sampleY := make([]int, n)
		for i := 0; i < n; i++ {
			j := rng.Intn(n)
			sampleX[i] = X[j]
			sampleY[i] = y[j]
		}
		ens.members = append(ens.members, fitLogistic(sampleX, sampleY))
	}
	return ens
}

func (e *ensembleModel) probability(x []float64) float64 {
	var sum float64
	for _, m := range e.members {
		sum += m.probability(x)
	}
	return sum / float64(len(e.members))
}

// stratifiedSplit carves a deterministic 20% test set preserving class
// balance, keeping at least one test sample per class.
func stratifiedSplit(X [][]float64, y []int) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	var makerIdx, takerIdx []int
	for i, label := range y {
		if label == 1 {
			makerIdx = append(makerIdx, i)
		} else {
			takerIdx = append(takerIdx, i)
		}
	}

	rng := rand.New(rand.NewSource(predictorSplitSeed))
	splitClass := func(idx []int) (test, train []int) {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		nTest := len(idx) / 5
		if nTest < 1 {
			nTest = 1
		}
		return idx[:nTest], idx[nTest:]
	}

	makerTest, makerTrain := splitClass(makerIdx)
	takerTest, takerTrain := splitClass(takerIdx)

	for _, i := range append(makerTrain, takerTrain...) {
		trainX = append(trainX, X[i])
		trainY = append(trainY, y[i])
	}
	for _, i := range append(makerTest, takerTest...) {
		testX = append(testX, X[i])
		testY = append(testY, y[i])
	}
	return trainX, trainY, testX, testY
}

func evaluateClassifier(model classifier, testX [][]float64, testY []int) PredictorStats {
	var stats PredictorStats
	var correct int
	// Confusion counts: [actual][predicted]
	var tp, fp, fn, tn int
	for i, x := range testX {
		pred := 0
		if model.probability(x) >= 0.5 {
			pred = 1
		}
		if pred == testY[i] {
			correct++
		}
		switch {
		case testY[i] == 1 && pred == 1:
			tp++
		case testY[i] == 0 && pred == 1:
			fp++
		case testY[i] == 1 && pred == 0:
			fn++
		default:
			tn++
		}
	}
	n := len(testY)
	if n > 0 {
		stats.Accuracy = float64(correct) / float64(n)
	}
	if tp+fp > 0 {
		stats.MakerPrecision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		stats.MakerRecall = float64(tp) / float64(tp+fn)
	}
	if tn+fn > 0 {
		stats.TakerPrecision = float64(tn) / float64(tn+fn)
	}
	if tn+fp > 0 {
		stats.TakerRecall = float64(tn) / float64(tn+fp)
	}
	return stats
}

// predScaler standardises classifier features, fitted on training data only.
type predScaler struct {
	mean []float64
	std  []float64
}

func fitPredScaler(X [][]float64) *predScaler {
	n := len(X)
	dims := len(X[0])
	s := &predScaler{mean: make([]float64, dims), std: make([]float64, dims)}
	for j := 0; j < dims; j++ {
		var sum float64
		for i := 0; i < n; i++ {
			sum += X[i][j]
		}
		s.mean[j] = sum / float64(n)
		var ss float64
		for i := 0; i < n; i++ {
			d := X[i][j] - s.mean[j]
			ss += d * d
		}
		s.std[j] = math.Sqrt(ss / float64(n))
		if s.std[j] == 0 {
			s.std[j] = 1
		}
	}
	return s
}

func (s *predScaler) transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.mean[j]) / s.std[j]
	}
	return out
}

func (s *predScaler) transformAll(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i := range X {
		out[i] = s.transform(X[i])
	}
	return out
}
