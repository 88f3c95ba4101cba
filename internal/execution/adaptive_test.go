package execution

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdaptive(t *testing.T, rate float64) *Adaptive {
	t.Helper()
	a, err := NewAdaptive(testParams(t), rate, slog.Default())
	require.NoError(t, err)
	return a
}

func TestNewAdaptiveClampsRate(t *testing.T) {
	a, err := NewAdaptive(testParams(t), -0.5, slog.Default())
	require.NoError(t, err)
	assert.Zero(t, a.adaptationRate)

	a, err = NewAdaptive(testParams(t), 1.5, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.adaptationRate)
}

func TestAdaptiveZeroRateKeepsParams(t *testing.T) {
	a := newTestAdaptive(t, 0)
	before := a.Params()

	for _, obs := range calibrationObservations(50) {
		a.RecordTrade(obs)
	}

	// Refits ran, but a zero rate blends nothing in.
	assert.Equal(t, before, a.Params())
}

func TestAdaptiveRecalibrates(t *testing.T) {
	a := newTestAdaptive(t, 0.5)
	before := a.Params()

	for _, obs := range calibrationObservations(50) {
		a.RecordTrade(obs)
	}

	after := a.Params()
	assert.NotEqual(t, before, after)
	require.NoError(t, after.Validate())
}

func TestAdaptiveObservationWindow(t *testing.T) {
	a := newTestAdaptive(t, 0)

	for _, obs := range calibrationObservations(150) {
		a.RecordTrade(obs)
	}
	assert.Equal(t, maxObservations, a.ObservationCount())
}

func TestAdaptiveNoRefitBelowMinimum(t *testing.T) {
	a := newTestAdaptive(t, 1.0)
	before := a.Params()

	// Fewer than minObservations recorded; nothing should change even
	// though the every-Nth trigger fires.
	for _, obs := range calibrationObservations(minObservations - 1) {
		a.RecordTrade(obs)
	}
	assert.Equal(t, before, a.Params())
}

func TestAdaptiveFailedCalibrationKeepsParams(t *testing.T) {
	a := newTestAdaptive(t, 1.0)
	before := a.Params()

	// Flat prices make calibration fail; current parameters survive.
	for i := 0; i < 20; i++ {
		a.RecordTrade(TradeObservation{Size: 10, Price: 100, ActualImpact: 0.02})
	}
	assert.Equal(t, before, a.Params())
}

func TestAdaptiveDelegation(t *testing.T) {
	a := newTestAdaptive(t, 0.1)

	sched, err := a.OptimalStrategy(100, 5)
	require.NoError(t, err)
	assert.Zero(t, sched.Holdings[5])

	impact := a.MarketImpact(10, 0, sched)
	p := a.Params()
	assert.InDelta(t, (p.Eta+p.Epsilon)*10, impact.Total, 1e-12)
}
