package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotTopOfBook(t *testing.T) {
	snap := OrderbookSnapshot{
		Bids: []PriceLevel{{Price: 100, Quantity: 1}, {Price: 99, Quantity: 2}},
		Asks: []PriceLevel{{Price: 102, Quantity: 3}},
	}

	bid, ok := snap.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)

	ask, ok := snap.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 102.0, ask.Price)

	mid, ok := snap.MidPrice()
	require.True(t, ok)
	assert.Equal(t, 101.0, mid)

	spread, ok := snap.Spread()
	require.True(t, ok)
	assert.Equal(t, 2.0, spread)

	bps, ok := snap.SpreadBps()
	require.True(t, ok)
	assert.InDelta(t, 2.0/101.0*10000, bps, 1e-9)
}

func TestSnapshotOneSidedBook(t *testing.T) {
	snap := OrderbookSnapshot{Bids: []PriceLevel{{Price: 100, Quantity: 1}}}

	_, ok := snap.BestAsk()
	assert.False(t, ok)
	_, ok = snap.MidPrice()
	assert.False(t, ok)
	_, ok = snap.Spread()
	assert.False(t, ok)
	_, ok = snap.SpreadBps()
	assert.False(t, ok)
}
