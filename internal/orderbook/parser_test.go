package orderbook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func TestParseMessage(t *testing.T) {
	received := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("full message with string levels", func(t *testing.T) {
		raw := []byte(`{
			"exchange": "OKX",
			"symbol": "ETH-USDT-SWAP",
			"timestamp": "2025-06-01T11:59:58.123456Z",
			"bids": [["95000.5", "2.5"], ["95000.0", "1.0"]],
			"asks": [["95001.0", "3.0"], ["95002.5", "0.5"]]
		}`)

		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)

		assert.Equal(t, "OKX", snap.Exchange)
		assert.Equal(t, "ETH-USDT-SWAP", snap.Symbol)
		assert.Equal(t, time.Date(2025, 6, 1, 11, 59, 58, 123456000, time.UTC), snap.Timestamp.UTC())

		require.Len(t, snap.Bids, 2)
		require.Len(t, snap.Asks, 2)
		assert.Equal(t, domain.PriceLevel{Price: 95000.5, Quantity: 2.5}, snap.Bids[0])
		assert.Equal(t, domain.PriceLevel{Price: 95001.0, Quantity: 3.0}, snap.Asks[0])
	})

	t.Run("numeric levels and epoch millis timestamp", func(t *testing.T) {
		raw := []byte(`{
			"timestamp": 1748779198000,
			"bids": [[95000.5, 2.5]],
			"asks": [[95001.0, 3.0]]
		}`)

		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(1748779198000).UTC(), snap.Timestamp)
		require.Len(t, snap.Bids, 1)
		assert.Equal(t, 95000.5, snap.Bids[0].Price)
	})

	t.Run("string epoch millis timestamp", func(t *testing.T) {
		raw := []byte(`{"timestamp": "1748779198000", "bids": [["100", "1"]], "asks": []}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		assert.Equal(t, time.UnixMilli(1748779198000).UTC(), snap.Timestamp)
	})

	t.Run("missing timestamp falls back to receive time", func(t *testing.T) {
		raw := []byte(`{"bids": [["100", "1"]], "asks": [["101", "1"]]}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		assert.Equal(t, received, snap.Timestamp)
	})

	t.Run("defaults applied for missing origin", func(t *testing.T) {
		raw := []byte(`{"bids": [["100", "1"]], "asks": []}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		assert.Equal(t, DefaultExchange, snap.Exchange)
		assert.Equal(t, DefaultSymbol, snap.Symbol)
	})

	t.Run("unsorted sides are sorted", func(t *testing.T) {
		raw := []byte(`{
			"bids": [["99", "1"], ["101", "1"], ["100", "1"]],
			"asks": [["105", "1"], ["103", "1"], ["104", "1"]]
		}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)

		assert.Equal(t, []float64{101, 100, 99}, levelPrices(snap.Bids))
		assert.Equal(t, []float64{103, 104, 105}, levelPrices(snap.Asks))
	})

	t.Run("duplicate prices keep the later entry", func(t *testing.T) {
		raw := []byte(`{"bids": [["100", "1"], ["100", "7"]], "asks": []}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		require.Len(t, snap.Bids, 1)
		assert.Equal(t, 7.0, snap.Bids[0].Quantity)
	})

	t.Run("malformed levels are dropped", func(t *testing.T) {
		raw := []byte(`{
			"bids": [["100"], ["abc", "1"], ["-5", "1"], ["100", "-1"], ["100", "2"]],
			"asks": [["101", "1"]]
		}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		require.Len(t, snap.Bids, 1)
		assert.Equal(t, domain.PriceLevel{Price: 100, Quantity: 2}, snap.Bids[0])
	})

	t.Run("zero quantity levels survive", func(t *testing.T) {
		raw := []byte(`{"bids": [["100", "0"]], "asks": []}`)
		snap, err := ParseMessage(raw, received)
		require.NoError(t, err)
		require.Len(t, snap.Bids, 1)
	})

	t.Run("no bids or asks keys rejected", func(t *testing.T) {
		_, err := ParseMessage([]byte(`{"timestamp": "2025-06-01T00:00:00Z"}`), received)
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("invalid json rejected", func(t *testing.T) {
		_, err := ParseMessage([]byte(`{not json`), received)
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("empty sides accepted", func(t *testing.T) {
		snap, err := ParseMessage([]byte(`{"bids": [], "asks": []}`), received)
		require.NoError(t, err)
		assert.Empty(t, snap.Bids)
		assert.Empty(t, snap.Asks)
	})
}

func levelPrices(levels []domain.PriceLevel) []float64 {
	out := make([]float64, len(levels))
	for i, lvl := range levels {
		out[i] = lvl.Price
	}
	return out
}
