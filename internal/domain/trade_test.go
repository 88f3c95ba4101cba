package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeParametersValidate(t *testing.T) {
	valid := TradeParameters{
		Symbol:      "BTC-USDT-SWAP",
		TradeSize:   1,
		OrderType:   OrderTypeMarket,
		Side:        SideBuy,
		TimeHorizon: time.Minute,
	}

	t.Run("valid market order", func(t *testing.T) {
		p := valid
		require.NoError(t, p.Validate())
	})

	t.Run("default horizon applied", func(t *testing.T) {
		p := valid
		p.TimeHorizon = 0
		require.NoError(t, p.Validate())
		assert.Equal(t, DefaultTimeHorizon, p.TimeHorizon)
	})

	tests := []struct {
		name   string
		mutate func(*TradeParameters)
	}{
		{"zero size", func(p *TradeParameters) { p.TradeSize = 0 }},
		{"negative size", func(p *TradeParameters) { p.TradeSize = -2 }},
		{"unknown order type", func(p *TradeParameters) { p.OrderType = "stop" }},
		{"limit without price", func(p *TradeParameters) { p.OrderType = OrderTypeLimit; p.LimitPrice = 0 }},
		{"unknown side", func(p *TradeParameters) { p.Side = "hold" }},
		{"negative horizon", func(p *TradeParameters) { p.TimeHorizon = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			require.ErrorIs(t, p.Validate(), ErrInvalidParameters)
		})
	}

	t.Run("limit with price", func(t *testing.T) {
		p := valid
		p.OrderType = OrderTypeLimit
		p.LimitPrice = 100.5
		require.NoError(t, p.Validate())
	})
}
