package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func TestRatesTierSelection(t *testing.T) {
	c := NewCalculator(DefaultStructure())

	tests := []struct {
		name   string
		volume float64
		maker  float64
		taker  float64
	}{
		{"base tier", 0, 0.0002, 0.0005},
		{"below first boundary", 999_999, 0.0002, 0.0005},
		{"at first boundary", 1_000_000, 0.00015, 0.0004},
		{"mid tier", 7_500_000, 0.0001, 0.0003},
		{"top tier", 500_000_000, 0, 0.0001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maker, taker := c.Rates(tt.volume)
			assert.Equal(t, tt.maker, maker)
			assert.Equal(t, tt.taker, taker)
		})
	}
}

func TestRatesWithoutTiers(t *testing.T) {
	c := NewCalculator(Structure{MakerRate: 0.001, TakerRate: 0.002})
	maker, taker := c.Rates(1e9)
	assert.Equal(t, 0.001, maker)
	assert.Equal(t, 0.002, taker)
}

func TestNewCalculatorSortsTiers(t *testing.T) {
	c := NewCalculator(Structure{
		MakerRate: 0.0002,
		TakerRate: 0.0005,
		Tiers: []VolumeTier{
			{MinVolume: 1_000_000, MakerRate: 0.0001, TakerRate: 0.0002},
			{MinVolume: 0, MakerRate: 0.0002, TakerRate: 0.0005},
		},
	})
	maker, _ := c.Rates(500_000)
	assert.Equal(t, 0.0002, maker)
	maker, _ = c.Rates(2_000_000)
	assert.Equal(t, 0.0001, maker)
}

func TestFee(t *testing.T) {
	c := NewCalculator(DefaultStructure())
	assert.InDelta(t, 10_000*0.0002, c.Fee(10_000, domain.ExecutionMaker), 1e-12)
	assert.InDelta(t, 10_000*0.0005, c.Fee(10_000, domain.ExecutionTaker), 1e-12)
}

func TestExpectedFee(t *testing.T) {
	c := NewCalculator(DefaultStructure())

	b := c.ExpectedFee(100_000, 0.4)
	makerFee := 100_000 * 0.0002
	takerFee := 100_000 * 0.0005
	want := 0.4*makerFee + 0.6*takerFee

	assert.Equal(t, 100_000.0, b.Principal)
	assert.InDelta(t, want, b.ExpectedFee, 1e-9)
	assert.InDelta(t, want, b.NetFee, 1e-9)
	assert.InDelta(t, takerFee, b.BaseFee, 1e-9)
	assert.InDelta(t, takerFee-want, b.VolumeDiscount, 1e-9)
	assert.Equal(t, 0.4, b.MakerProb)
	assert.InDelta(t, want/100_000*10000, b.RateBps, 1e-9)
}

func TestExpectedFeeZeroAmount(t *testing.T) {
	c := NewCalculator(DefaultStructure())
	b := c.ExpectedFee(0, 0.5)
	assert.Zero(t, b.ExpectedFee)
	assert.Zero(t, b.RateBps)
}

func TestVolumeTracking(t *testing.T) {
	c := NewCalculator(DefaultStructure())
	assert.Zero(t, c.DailyVolume())

	c.UpdateVolume(600_000)
	c.UpdateVolume(500_000)
	assert.InDelta(t, 1_100_000, c.DailyVolume(), 1e-9)

	// Crossing the first tier boundary discounts subsequent fees.
	maker, taker := c.CurrentRates()
	assert.Equal(t, 0.00015, maker)
	assert.Equal(t, 0.0004, taker)

	c.ResetDailyVolume()
	assert.Zero(t, c.DailyVolume())
	maker, _ = c.CurrentRates()
	assert.Equal(t, 0.0002, maker)
}
