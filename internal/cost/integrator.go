// Package cost combines exchange fees, slippage and market impact into a
// single trade cost figure.
package cost

import (
	"fmt"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/fees"
)

// TotalCost is the integrated cost of a prospective trade.
type TotalCost struct {
	Notional         float64
	ExchangeFee      float64
	SlippageCost     float64
	ImpactCost       float64
	Total            float64
	CostBps          float64
	MakerProbability float64
	FeeBreakdown     fees.Breakdown
}

// Integrator weights the fee by maker probability and stacks the remaining
// cost components on top.
type Integrator struct {
	calculator *fees.Calculator
}

func NewIntegrator(calculator *fees.Calculator) *Integrator {
	return &Integrator{calculator: calculator}
}

// TotalCost integrates all cost components for a trade of the given size
// at the given price.
func (i *Integrator) TotalCost(tradeSize, price, slippage, impact, makerProb float64) (TotalCost, error) {
	if tradeSize <= 0 {
		return TotalCost{}, fmt.Errorf("cost: trade size must be positive: %w", domain.ErrInvalidParameters)
	}
	if price <= 0 {
		return TotalCost{}, fmt.Errorf("cost: price must be positive: %w", domain.ErrInvalidPrice)
	}

	notional := tradeSize * price
	breakdown := i.calculator.ExpectedFee(notional, makerProb)
	total := breakdown.ExpectedFee + slippage + impact

	return TotalCost{
		Notional:         notional,
		ExchangeFee:      breakdown.ExpectedFee,
		SlippageCost:     slippage,
		ImpactCost:       impact,
		Total:            total,
		CostBps:          total / notional * 10000,
		MakerProbability: makerProb,
		FeeBreakdown:     breakdown,
	}, nil
}
