package execution

import (
	"log/slog"
	"sync"
)

const (
	// DefaultAdaptationRate blends newly calibrated parameters with the
	// current ones. Zero disables adaptation entirely.
	DefaultAdaptationRate = 0.1

	// maxObservations bounds the calibration window.
	maxObservations = 100

	// recalibrateEvery triggers a refit on every Nth recorded observation.
	recalibrateEvery = 10

	// minObservations is the smallest window worth calibrating on.
	minObservations = 10
)

// Adaptive wraps a Model and re-calibrates its parameters from realised
// trade impacts, smoothing updates with an adaptation rate so a single
// noisy refit cannot swing the model. Safe for concurrent use.
type Adaptive struct {
	mu             sync.RWMutex
	model          *Model
	adaptationRate float64
	observations   []TradeObservation
	recorded       int
	logger         *slog.Logger
}

// NewAdaptive wraps the given parameters in an adaptive model.
func NewAdaptive(params Params, adaptationRate float64, logger *slog.Logger) (*Adaptive, error) {
	model, err := NewModel(params)
	if err != nil {
		return nil, err
	}
	if adaptationRate < 0 {
		adaptationRate = 0
	}
	if adaptationRate > 1 {
		adaptationRate = 1
	}
	return &Adaptive{
		model:          model,
		adaptationRate: adaptationRate,
		logger:         logger.With(slog.String("component", "execution")),
	}, nil
}

// Params returns the current parameter set.
func (a *Adaptive) Params() Params {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model.Params()
}

// OptimalStrategy computes the schedule with the current parameters.
func (a *Adaptive) OptimalStrategy(initialPosition float64, nIntervals int) (Schedule, error) {
	a.mu.RLock()
	model := a.model
	a.mu.RUnlock()
	return model.OptimalStrategy(initialPosition, nIntervals)
}

// MarketImpact decomposes trade impact with the current parameters.
func (a *Adaptive) MarketImpact(tradeSize, currentTime float64, schedule Schedule) Impact {
	a.mu.RLock()
	model := a.model
	a.mu.RUnlock()
	return model.MarketImpact(tradeSize, currentTime, schedule)
}

// ObservationCount reports how many observations are buffered.
func (a *Adaptive) ObservationCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.observations)
}

// RecordTrade folds a realised trade into the calibration window. Every
// recalibrateEvery-th recording triggers a refit; a failed refit keeps the
// current parameters.
func (a *Adaptive) RecordTrade(obs TradeObservation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.observations = append(a.observations, obs)
	if len(a.observations) > maxObservations {
		a.observations = a.observations[len(a.observations)-maxObservations:]
	}
	a.recorded++

	if a.recorded%recalibrateEvery != 0 || len(a.observations) < minObservations {
		return
	}
	a.adaptLocked()
}

// adaptLocked refits and blends parameters. Caller holds a.mu.
func (a *Adaptive) adaptLocked() {
	fitted, err := Calibrate(a.observations)
	if err != nil {
		a.logger.Warn("parameter calibration failed, keeping current parameters",
			slog.String("error", err.Error()))
		return
	}

	rate := a.adaptationRate
	cur := a.model.Params()
	blended := Params{
		Sigma:   blend(cur.Sigma, fitted.Sigma, rate),
		Gamma:   blend(cur.Gamma, fitted.Gamma, rate),
		Eta:     blend(cur.Eta, fitted.Eta, rate),
		Epsilon: blend(cur.Epsilon, fitted.Epsilon, rate),
		Tau:     blend(cur.Tau, fitted.Tau, rate),
	}

	model, err := NewModel(blended)
	if err != nil {
		a.logger.Warn("blended parameters invalid, keeping current parameters",
			slog.String("error", err.Error()))
		return
	}
	a.model = model

	a.logger.Info("adapted execution parameters",
		slog.Float64("gamma", blended.Gamma),
		slog.Float64("eta", blended.Eta),
		slog.Float64("epsilon", blended.Epsilon),
		slog.Float64("tau", blended.Tau),
		slog.Float64("sigma", blended.Sigma))
}

func blend(current, fitted, rate float64) float64 {
	return (1-rate)*current + rate*fitted
}
