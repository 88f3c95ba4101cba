// Package fees models exchange fee schedules and maker/taker execution
// probability.
package fees

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// VolumeTier maps a minimum rolling volume to discounted rates.
type VolumeTier struct {
	MinVolume float64
	MakerRate float64
	TakerRate float64
}

// Structure is an exchange fee schedule.
type Structure struct {
	MakerRate float64
	TakerRate float64
	Tiers     []VolumeTier
}

// DefaultStructure mirrors a typical perpetual-swap fee schedule.
func DefaultStructure() Structure {
	return Structure{
		MakerRate: 0.0002,
		TakerRate: 0.0005,
		Tiers: []VolumeTier{
			{MinVolume: 0, MakerRate: 0.0002, TakerRate: 0.0005},
			{MinVolume: 1_000_000, MakerRate: 0.00015, TakerRate: 0.0004},
			{MinVolume: 5_000_000, MakerRate: 0.0001, TakerRate: 0.0003},
			{MinVolume: 25_000_000, MakerRate: 0.00005, TakerRate: 0.0002},
			{MinVolume: 100_000_000, MakerRate: 0, TakerRate: 0.0001},
		},
	}
}

// Breakdown decomposes the expected fee of a trade.
type Breakdown struct {
	Principal      float64
	BaseFee        float64 // at the undiscounted taker rate
	VolumeDiscount float64
	NetFee         float64
	MakerProb      float64
	ExpectedFee    float64
	RateBps        float64
}

// Calculator computes exchange fees against a rolling daily volume.
// Safe for concurrent use.
type Calculator struct {
	structure Structure

	mu          sync.Mutex
	dailyVolume float64
}

func NewCalculator(structure Structure) *Calculator {
	sort.Slice(structure.Tiers, func(i, j int) bool {
		return structure.Tiers[i].MinVolume < structure.Tiers[j].MinVolume
	})
	return &Calculator{structure: structure}
}

// Rates returns the maker and taker rates for the given rolling volume,
// picking the highest tier at or below it.
func (c *Calculator) Rates(volume float64) (maker, taker float64) {
	maker, taker = c.structure.MakerRate, c.structure.TakerRate
	for _, tier := range c.structure.Tiers {
		if volume >= tier.MinVolume {
			maker, taker = tier.MakerRate, tier.TakerRate
		} else {
			break
		}
	}
	return maker, taker
}

// CurrentRates returns the rates at the tracked daily volume.
func (c *Calculator) CurrentRates() (maker, taker float64) {
	c.mu.Lock()
	volume := c.dailyVolume
	c.mu.Unlock()
	return c.Rates(volume)
}

// Fee computes the fee for a single fill of the given execution type.
func (c *Calculator) Fee(amount float64, execType domain.ExecutionType) float64 {
	maker, taker := c.CurrentRates()
	if execType == domain.ExecutionMaker {
		return amount * maker
	}
	return amount * taker
}

// ExpectedFee computes the probability-weighted fee for a prospective
// trade, with the undiscounted taker fee as the baseline.
func (c *Calculator) ExpectedFee(amount, makerProb float64) Breakdown {
	maker, taker := c.CurrentRates()

	makerFee := amount * maker
	takerFee := amount * taker
	expected := makerProb*makerFee + (1-makerProb)*takerFee
	baseFee := amount * c.structure.TakerRate

	b := Breakdown{
		Principal:      amount,
		BaseFee:        baseFee,
		VolumeDiscount: baseFee - expected,
		NetFee:         expected,
		MakerProb:      makerProb,
		ExpectedFee:    expected,
	}
	if amount > 0 {
		b.RateBps = expected / amount * 10000
	}
	return b
}

// UpdateVolume folds a filled trade into the rolling daily volume.
func (c *Calculator) UpdateVolume(tradeVolume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume += tradeVolume
}

// DailyVolume reports the tracked volume.
func (c *Calculator) DailyVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dailyVolume
}

// ResetDailyVolume zeroes the rolling volume at the day boundary.
func (c *Calculator) ResetDailyVolume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dailyVolume = 0
}
