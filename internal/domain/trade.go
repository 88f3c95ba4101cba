package domain

import (
	"fmt"
	"time"
)

// OrderType distinguishes aggressive and passive order placement.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ExecutionType records how an order ultimately filled.
type ExecutionType string

const (
	ExecutionMaker ExecutionType = "maker"
	ExecutionTaker ExecutionType = "taker"
)

// DefaultTimeHorizon is the assumed execution horizon when none is given.
const DefaultTimeHorizon = 300 * time.Second

// TradeParameters describes a prospective trade to be costed.
type TradeParameters struct {
	Exchange    string
	Symbol      string
	TradeSize   float64
	OrderType   OrderType
	Side        Side
	LimitPrice  float64
	TimeHorizon time.Duration
}

// Validate checks the parameters and applies the default horizon.
func (p *TradeParameters) Validate() error {
	if p.TradeSize <= 0 {
		return fmt.Errorf("trade size must be positive, got %v: %w", p.TradeSize, ErrInvalidParameters)
	}
	switch p.OrderType {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if p.LimitPrice <= 0 {
			return fmt.Errorf("limit order requires a positive limit price: %w", ErrInvalidParameters)
		}
	default:
		return fmt.Errorf("unknown order type %q: %w", p.OrderType, ErrInvalidParameters)
	}
	switch p.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("unknown side %q: %w", p.Side, ErrInvalidParameters)
	}
	if p.TimeHorizon == 0 {
		p.TimeHorizon = DefaultTimeHorizon
	}
	if p.TimeHorizon < 0 {
		return fmt.Errorf("time horizon must be positive: %w", ErrInvalidParameters)
	}
	return nil
}

// ScheduleSummary is the condensed execution schedule attached to an estimate.
type ScheduleSummary struct {
	Intervals    int
	ExpectedCost float64
	Variance     float64
	Utility      float64
}

// TradeCostEstimate is the full output of a cost estimation.
type TradeCostEstimate struct {
	ID                 string
	Timestamp          time.Time
	Params             TradeParameters
	ExecutionPrice     float64
	Notional           float64
	ExchangeFee        float64
	SlippageCost       float64
	ImpactCost         float64
	TotalCost          float64
	CostBps            float64
	MakerProbability   float64
	SlippageConfidence float64
	SlippageLow        float64
	SlippageHigh       float64
	Spread             float64
	SpreadBps          float64
	Depth              MarketDepth
	Volatility         float64
	Schedule           ScheduleSummary
}

// TradeOutcome is the realised result of an executed trade, fed back into
// the models.
type TradeOutcome struct {
	ID            string
	Params        TradeParameters
	ActualCost    float64
	ExecutionType ExecutionType
	ExecutionTime time.Duration
	Timestamp     time.Time
}
