package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/config"
	"github.com/alanyoungcy/costsim/internal/domain"
)

type fakeBookCache struct {
	snap   domain.OrderbookSnapshot
	err    error
	stored []domain.OrderbookSnapshot
}

func (f *fakeBookCache) SetSnapshot(_ context.Context, snap domain.OrderbookSnapshot) error {
	f.stored = append(f.stored, snap)
	return nil
}

func (f *fakeBookCache) GetSnapshot(context.Context, string, string) (domain.OrderbookSnapshot, error) {
	return f.snap, f.err
}

func (f *fakeBookCache) GetBBO(context.Context, string, string) (float64, float64, error) {
	bid, _ := f.snap.BestBid()
	ask, _ := f.snap.BestAsk()
	return bid.Price, ask.Price, f.err
}

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&cfg, logger)
}

func cachedBook() domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		Exchange:  "OKX",
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Now().UTC(),
		Bids:      []domain.PriceLevel{{Price: 100, Quantity: 2}},
		Asks:      []domain.PriceLevel{{Price: 101, Quantity: 1}},
	}
}

func TestWarmStartSeedsSimulator(t *testing.T) {
	a := testApp(t)
	deps := &Dependencies{BookCache: &fakeBookCache{snap: cachedBook()}}

	sim, _, err := a.buildSimulator(deps)
	require.NoError(t, err)

	a.warmStart(context.Background(), deps, sim)

	stats := sim.Statistics()
	require.NotNil(t, stats.Market)
	assert.Equal(t, 100.0, stats.Market.BidPrice)
	assert.Equal(t, 101.0, stats.Market.AskPrice)
}

func TestWarmStartColdCache(t *testing.T) {
	a := testApp(t)
	deps := &Dependencies{BookCache: &fakeBookCache{err: domain.ErrNotFound}}

	sim, _, err := a.buildSimulator(deps)
	require.NoError(t, err)

	a.warmStart(context.Background(), deps, sim)
	assert.Nil(t, sim.Statistics().Market)
}

func TestWarmStartCacheError(t *testing.T) {
	a := testApp(t)
	deps := &Dependencies{BookCache: &fakeBookCache{err: errors.New("redis down")}}

	sim, _, err := a.buildSimulator(deps)
	require.NoError(t, err)

	a.warmStart(context.Background(), deps, sim)
	assert.Nil(t, sim.Statistics().Market)
}

func TestWarmStartWithoutCache(t *testing.T) {
	a := testApp(t)
	deps := &Dependencies{}

	sim, _, err := a.buildSimulator(deps)
	require.NoError(t, err)

	a.warmStart(context.Background(), deps, sim)
	assert.Nil(t, sim.Statistics().Market)
}
