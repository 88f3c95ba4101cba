// Package simulator wires the market data feed, microstructure analytics
// and cost models into a live trade cost estimation service.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/costsim/internal/cost"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/execution"
	"github.com/alanyoungcy/costsim/internal/feed"
	"github.com/alanyoungcy/costsim/internal/fees"
	"github.com/alanyoungcy/costsim/internal/notify"
	"github.com/alanyoungcy/costsim/internal/orderbook"
	"github.com/alanyoungcy/costsim/internal/slippage"
)

const (
	// volatilityWindow is the mid-price lookback for realised volatility.
	volatilityWindow = 100

	// depthLevels is the per-side level count for headline depth figures.
	depthLevels = 5

	// scheduleIntervalSeconds divides the horizon into execution intervals.
	scheduleIntervalSeconds = 10

	// outcomeQueueSize buffers recorded outcomes for the learning worker.
	outcomeQueueSize = 256

	// maxTradeHistory bounds the retained outcome records.
	maxTradeHistory = 500

	// publishPerSecond caps per-symbol estimate fan-out on the bus.
	publishPerSecond = 20
)

// EstimateChannel is the pub/sub channel carrying served estimates.
const EstimateChannel = "estimates"

// EstimateStream is the durable stream that records served estimates for
// consumers that cannot hold a live subscription.
const EstimateStream = "estimates:log"

// Config controls the simulator.
type Config struct {
	Exchange        string
	Symbol          string
	MaxPriceHistory int
	AdaptiveModels  bool
}

// Sidecars are the optional persistence and messaging attachments. Any nil
// field is skipped.
type Sidecars struct {
	Outcomes  domain.OutcomeStore
	Estimates domain.EstimateStore
	BookCache domain.OrderbookCache
	EstCache  domain.EstimateCache
	Bus       domain.SignalBus
	Limiter   domain.RateLimiter
	Notifier  *notify.Notifier
}

// MarketConditions is the current top-of-book state.
type MarketConditions struct {
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	MidPrice  float64
	Spread    float64
	Timestamp time.Time
}

// Statistics is a read-only snapshot of simulator state.
type Statistics struct {
	Running           bool
	TradeCount        int64
	LastUpdateTime    time.Time
	PriceHistoryLen   int
	TradeHistoryLen   int
	SlippageTrained   bool
	MakerTakerTrained bool
	AdaptiveMode      bool
	Feed              *feed.Stats
	Market            *MarketConditions
}

// Simulator owns the current market state and the cost models. Snapshot
// ingestion has a single writer; estimates and statistics are shared
// readers.
type Simulator struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.RWMutex
	snapshot   *domain.OrderbookSnapshot
	analyzer   *orderbook.Analyzer
	lastUpdate time.Time

	execModel  *execution.Adaptive
	slippage   *slippage.Estimator
	predictor  *fees.Predictor
	feeCalc    *fees.Calculator
	integrator *cost.Integrator

	sidecars Sidecars
	feed     *feed.Client

	tradeCount atomic.Int64
	historyLen atomic.Int64
	running    atomic.Bool
	outcomeCh  chan domain.TradeOutcome
}

// New assembles a simulator from its models.
func New(
	cfg Config,
	execModel *execution.Adaptive,
	slippageEst *slippage.Estimator,
	predictor *fees.Predictor,
	feeCalc *fees.Calculator,
	sidecars Sidecars,
	logger *slog.Logger,
) *Simulator {
	if cfg.Exchange == "" {
		cfg.Exchange = orderbook.DefaultExchange
	}
	if cfg.Symbol == "" {
		cfg.Symbol = orderbook.DefaultSymbol
	}
	if cfg.MaxPriceHistory <= 0 {
		cfg.MaxPriceHistory = orderbook.DefaultMaxHistory
	}
	return &Simulator{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "simulator")),
		analyzer:   orderbook.NewAnalyzer(cfg.MaxPriceHistory),
		execModel:  execModel,
		slippage:   slippageEst,
		predictor:  predictor,
		feeCalc:    feeCalc,
		integrator: cost.NewIntegrator(feeCalc),
		sidecars:   sidecars,
		outcomeCh:  make(chan domain.TradeOutcome, outcomeQueueSize),
	}
}

// AttachFeed wires a feed client's snapshots into the simulator.
func (s *Simulator) AttachFeed(client *feed.Client) {
	s.feed = client
	client.OnSnapshot(func(snap domain.OrderbookSnapshot) {
		s.HandleSnapshot(context.Background(), snap)
	})
}

// Run starts the learning worker and blocks until the context is done.
func (s *Simulator) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outcome := <-s.outcomeCh:
			if err := s.learn(outcome); err != nil {
				s.logger.Warn("model update failed", slog.String("error", err.Error()))
				if s.sidecars.Notifier != nil {
					_ = s.sidecars.Notifier.Notify(ctx, notify.EventRetrainFailed,
						"Model update failed", err.Error())
				}
			}
		}
	}
}

// HandleSnapshot ingests a new orderbook snapshot. It is the single writer
// of market state.
func (s *Simulator) HandleSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) {
	s.mu.Lock()
	s.snapshot = &snap
	s.analyzer.Update(snap)
	s.lastUpdate = time.Now()
	s.mu.Unlock()

	if s.sidecars.BookCache != nil {
		if err := s.sidecars.BookCache.SetSnapshot(ctx, snap); err != nil {
			s.logger.Warn("orderbook cache write failed", slog.String("error", err.Error()))
		}
	}
}

// Estimate computes the full cost estimate for a prospective trade against
// the current book.
func (s *Simulator) Estimate(ctx context.Context, params domain.TradeParameters) (domain.TradeCostEstimate, error) {
	if err := params.Validate(); err != nil {
		return domain.TradeCostEstimate{}, err
	}

	s.mu.RLock()
	snapPtr := s.snapshot
	var snap domain.OrderbookSnapshot
	if snapPtr != nil {
		snap = *snapPtr
	}
	prices := s.analyzer.MidHistory(s.cfg.MaxPriceHistory)
	volumes := s.analyzer.VolumeHistory(s.cfg.MaxPriceHistory)
	spreads := s.analyzer.SpreadHistory(s.cfg.MaxPriceHistory)
	depth := s.analyzer.MarketDepth(snap, depthLevels)
	volMids := s.analyzer.MidHistory(volatilityWindow)
	s.mu.RUnlock()

	if snapPtr == nil {
		return domain.TradeCostEstimate{}, fmt.Errorf("simulator: estimate %s: %w", params.Symbol, domain.ErrNoMarketData)
	}

	execPrice, err := executionPrice(snap, params)
	if err != nil {
		return domain.TradeCostEstimate{}, err
	}

	// Execution schedule and market impact.
	nIntervals := int(params.TimeHorizon.Seconds() / scheduleIntervalSeconds)
	if nIntervals < 1 {
		nIntervals = 1
	}
	schedule, err := s.execModel.OptimalStrategy(params.TradeSize, nIntervals)
	if err != nil {
		return domain.TradeCostEstimate{}, fmt.Errorf("simulator: schedule: %w", err)
	}
	impact := s.execModel.MarketImpact(params.TradeSize, 0, schedule)

	// Slippage, falling back to half the spread before the model trains.
	var slippageCost, slippageConfidence float64
	var slippageLow, slippageHigh float64
	slipFeatures := slippage.Extract(snap, params.TradeSize, slippage.History{Prices: prices, Volumes: volumes})
	if s.slippage.Trained() {
		pred, err := s.slippage.Predict(slipFeatures, execPrice)
		if err != nil {
			return domain.TradeCostEstimate{}, fmt.Errorf("simulator: slippage: %w", err)
		}
		slippageCost = pred.ExpectedSlippage
		slippageLow = pred.ConfidenceLow
		slippageHigh = pred.ConfidenceHigh
		slippageConfidence = s.slippage.Confidence(slipFeatures)
	} else {
		spread, _ := snap.Spread()
		slippageCost = spread * 0.5
		slippageConfidence = 0.5
	}

	// Maker probability, with order-type defaults before training.
	makerProb := untrainedMakerProbability(params.OrderType)
	if s.predictor.Trained() {
		mtFeatures := fees.ExtractFeatures(snap, params.TradeSize, execPrice, fees.MarketContext{
			Prices:  prices,
			Spreads: spreads,
			Volumes: volumes,
		})
		makerProb, err = s.predictor.MakerProbability(mtFeatures)
		if err != nil {
			return domain.TradeCostEstimate{}, fmt.Errorf("simulator: maker probability: %w", err)
		}
	}

	total, err := s.integrator.TotalCost(params.TradeSize, execPrice, slippageCost, impact.Total, makerProb)
	if err != nil {
		return domain.TradeCostEstimate{}, fmt.Errorf("simulator: integrate cost: %w", err)
	}

	spread, _ := snap.Spread()
	spreadBps, _ := snap.SpreadBps()

	est := domain.TradeCostEstimate{
		ID:                 uuid.NewString(),
		Timestamp:          time.Now(),
		Params:             params,
		ExecutionPrice:     execPrice,
		Notional:           total.Notional,
		ExchangeFee:        total.ExchangeFee,
		SlippageCost:       slippageCost,
		ImpactCost:         impact.Total,
		TotalCost:          total.Total,
		CostBps:            total.CostBps,
		MakerProbability:   makerProb,
		SlippageConfidence: slippageConfidence,
		SlippageLow:        slippageLow,
		SlippageHigh:       slippageHigh,
		Spread:             spread,
		SpreadBps:          spreadBps,
		Depth:              depth,
		Volatility:         realizedVolatility(volMids),
		Schedule: domain.ScheduleSummary{
			Intervals:    nIntervals,
			ExpectedCost: schedule.ExpectedCost,
			Variance:     schedule.Variance,
			Utility:      schedule.Utility,
		},
	}

	s.publishEstimate(ctx, est)
	return est, nil
}

// RecordOutcome feeds a realised trade back into the models and persists
// it. The model updates run on the learning worker when one is active.
func (s *Simulator) RecordOutcome(ctx context.Context, params domain.TradeParameters, actualCost float64, execType domain.ExecutionType, execTime time.Duration) error {
	if err := params.Validate(); err != nil {
		return err
	}

	outcome := domain.TradeOutcome{
		ID:            uuid.NewString(),
		Params:        params,
		ActualCost:    actualCost,
		ExecutionType: execType,
		ExecutionTime: execTime,
		Timestamp:     time.Now(),
	}

	s.tradeCount.Add(1)
	if n := s.historyLen.Add(1); n > maxTradeHistory {
		s.historyLen.Store(maxTradeHistory)
	}

	var errs []error
	if s.sidecars.Outcomes != nil {
		if err := s.sidecars.Outcomes.Insert(ctx, outcome); err != nil {
			errs = append(errs, fmt.Errorf("simulator: persist outcome: %w", err))
		}
	}

	if s.running.Load() {
		select {
		case s.outcomeCh <- outcome:
		default:
			// Queue full; update inline rather than dropping the sample.
			errs = append(errs, s.learn(outcome))
		}
	} else {
		errs = append(errs, s.learn(outcome))
	}

	return errors.Join(errs...)
}

// learn applies one outcome to all three models. The updates are
// independent; a failure in one never blocks the others.
func (s *Simulator) learn(outcome domain.TradeOutcome) error {
	s.mu.RLock()
	snapPtr := s.snapshot
	var snap domain.OrderbookSnapshot
	if snapPtr != nil {
		snap = *snapPtr
	}
	prices := s.analyzer.MidHistory(s.cfg.MaxPriceHistory)
	volumes := s.analyzer.VolumeHistory(s.cfg.MaxPriceHistory)
	spreads := s.analyzer.SpreadHistory(s.cfg.MaxPriceHistory)
	s.mu.RUnlock()

	if snapPtr == nil {
		return fmt.Errorf("simulator: learn: %w", domain.ErrNoMarketData)
	}
	if !s.cfg.AdaptiveModels {
		return nil
	}

	params := outcome.Params
	execPrice := params.LimitPrice
	if execPrice <= 0 {
		if ask, ok := snap.BestAsk(); ok {
			execPrice = ask.Price
		}
	}

	slipFeatures := slippage.Extract(snap, params.TradeSize, slippage.History{Prices: prices, Volumes: volumes})
	s.slippage.AddObservation(slipFeatures, outcome.ActualCost)

	mtFeatures := fees.ExtractFeatures(snap, params.TradeSize, execPrice, fees.MarketContext{
		Prices:  prices,
		Spreads: spreads,
		Volumes: volumes,
	})
	s.predictor.AddObservation(mtFeatures, outcome.ExecutionType)

	s.execModel.RecordTrade(execution.TradeObservation{
		Size:            params.TradeSize,
		Price:           execPrice,
		Time:            outcome.ExecutionTime.Seconds(),
		ActualImpact:    outcome.ActualCost,
		InitialPosition: params.TradeSize,
	})

	s.feeCalc.UpdateVolume(params.TradeSize * execPrice)
	return nil
}

// Statistics reports simulator, model and market state.
func (s *Simulator) Statistics() Statistics {
	s.mu.RLock()
	snapPtr := s.snapshot
	var snap domain.OrderbookSnapshot
	if snapPtr != nil {
		snap = *snapPtr
	}
	historyLen := s.analyzer.HistoryLen()
	lastUpdate := s.lastUpdate
	s.mu.RUnlock()

	stats := Statistics{
		Running:           s.running.Load(),
		TradeCount:        s.tradeCount.Load(),
		LastUpdateTime:    lastUpdate,
		PriceHistoryLen:   historyLen,
		TradeHistoryLen:   int(s.historyLen.Load()),
		SlippageTrained:   s.slippage.Trained(),
		MakerTakerTrained: s.predictor.Trained(),
		AdaptiveMode:      s.cfg.AdaptiveModels,
	}
	if s.feed != nil {
		fs := s.feed.Stats()
		stats.Feed = &fs
	}
	if snapPtr != nil {
		cond := MarketConditions{Symbol: snap.Symbol, Timestamp: snap.Timestamp}
		if bid, ok := snap.BestBid(); ok {
			cond.BidPrice = bid.Price
		}
		if ask, ok := snap.BestAsk(); ok {
			cond.AskPrice = ask.Price
		}
		if mid, ok := snap.MidPrice(); ok {
			cond.MidPrice = mid
		}
		if spread, ok := snap.Spread(); ok {
			cond.Spread = spread
		}
		stats.Market = &cond
	}
	return stats
}

// publishEstimate pushes a served estimate to the optional sidecars.
func (s *Simulator) publishEstimate(ctx context.Context, est domain.TradeCostEstimate) {
	if s.sidecars.EstCache != nil {
		if err := s.sidecars.EstCache.SetEstimate(ctx, est); err != nil {
			s.logger.Warn("estimate cache write failed", slog.String("error", err.Error()))
		}
	}
	if s.sidecars.Estimates != nil {
		if err := s.sidecars.Estimates.Insert(ctx, est); err != nil {
			s.logger.Warn("estimate persist failed", slog.String("error", err.Error()))
		}
	}
	if s.sidecars.Bus != nil {
		if s.sidecars.Limiter != nil {
			allowed, err := s.sidecars.Limiter.Allow(ctx, "publish:"+est.Params.Symbol, publishPerSecond, time.Second)
			if err != nil {
				s.logger.Warn("publish rate limit check failed", slog.String("error", err.Error()))
			}
			if err != nil || !allowed {
				return
			}
		}
		payload, err := json.Marshal(map[string]any{
			"event":      "estimate",
			"id":         est.ID,
			"symbol":     est.Params.Symbol,
			"total_cost": est.TotalCost,
			"cost_bps":   est.CostBps,
			"timestamp":  est.Timestamp.UTC().Format(time.RFC3339Nano),
		})
		if err == nil {
			if err := s.sidecars.Bus.Publish(ctx, EstimateChannel, payload); err != nil {
				s.logger.Warn("estimate publish failed", slog.String("error", err.Error()))
			}
			if err := s.sidecars.Bus.StreamAppend(ctx, EstimateStream, payload); err != nil {
				s.logger.Warn("estimate stream append failed", slog.String("error", err.Error()))
			}
		}
	}
}

// executionPrice resolves the reference price the trade would execute at.
func executionPrice(snap domain.OrderbookSnapshot, params domain.TradeParameters) (float64, error) {
	var price float64
	if params.OrderType == domain.OrderTypeMarket {
		if params.Side == domain.SideBuy {
			if ask, ok := snap.BestAsk(); ok {
				price = ask.Price
			}
		} else {
			if bid, ok := snap.BestBid(); ok {
				price = bid.Price
			}
		}
	} else {
		price = params.LimitPrice
	}
	if price <= 0 {
		return 0, fmt.Errorf("simulator: no valid execution price: %w", domain.ErrInvalidPrice)
	}
	return price, nil
}

// untrainedMakerProbability is the prior used before the classifier has
// trained. Market orders cross the spread, so they are near-certain takers.
func untrainedMakerProbability(orderType domain.OrderType) float64 {
	if orderType == domain.OrderTypeMarket {
		return 0.1
	}
	return 0.5
}

func realizedVolatility(mids []float64) float64 {
	if len(mids) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		if mids[i-1] > 0 && mids[i] > 0 {
			returns = append(returns, math.Log(mids[i]/mids[i-1]))
		}
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(returns)))
}
