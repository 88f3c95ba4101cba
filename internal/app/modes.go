package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/costsim/internal/config"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/execution"
	"github.com/alanyoungcy/costsim/internal/feed"
	"github.com/alanyoungcy/costsim/internal/fees"
	"github.com/alanyoungcy/costsim/internal/notify"
	"github.com/alanyoungcy/costsim/internal/simulator"
	"github.com/alanyoungcy/costsim/internal/slippage"
)

// sampleEstimateInterval is how often simulate mode logs a probe estimate.
const sampleEstimateInterval = 30 * time.Second

// sampleTradeSize is the probe trade size used by the estimate smoke loop.
const sampleTradeSize = 1.0

// External execution systems append realised fills to the outcomes stream
// and publish a nudge on the notify channel to wake the intake early.
const (
	outcomeStream        = "outcomes:log"
	outcomeNotifyChannel = "outcomes:notify"
	intakePollInterval   = 5 * time.Second
	intakeBatchSize      = 100
)

// outcomeRecord is the wire format for externally produced trade outcomes.
type outcomeRecord struct {
	Params        domain.TradeParameters `json:"params"`
	ActualCost    float64                `json:"actual_cost"`
	ExecutionType domain.ExecutionType   `json:"execution_type"`
	ExecutionMS   int64                  `json:"execution_ms"`
}

// IngestMode connects the orderbook feed and keeps caches warm. No estimates
// are served and no learning runs.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	sim, client, err := a.buildSimulator(deps)
	if err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	sim.AttachFeed(client)
	a.warmStart(ctx, deps, sim)
	a.startFeed(ctx, g, client, deps.Notifier)

	return g.Wait()
}

// SimulateMode runs ingestion plus the learning worker and a periodic probe
// estimate so operators can watch live costs in the logs.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")

	sim, client, err := a.buildSimulator(deps)
	if err != nil {
		return fmt.Errorf("simulate mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	sim.AttachFeed(client)
	a.warmStart(ctx, deps, sim)
	a.startFeed(ctx, g, client, deps.Notifier)
	a.startSimulator(ctx, g, sim)
	a.startEstimateProbe(ctx, g, sim)
	if deps.SignalBus != nil {
		a.startOutcomeIntake(ctx, g, deps.SignalBus, sim)
	}

	return g.Wait()
}

// FullMode runs everything: ingestion, learning, the estimate probe, and the
// archival cron when persistence and object storage are configured.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	sim, client, err := a.buildSimulator(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	sim.AttachFeed(client)
	a.warmStart(ctx, deps, sim)
	a.startFeed(ctx, g, client, deps.Notifier)
	a.startSimulator(ctx, g, sim)
	a.startEstimateProbe(ctx, g, sim)
	if deps.SignalBus != nil {
		a.startOutcomeIntake(ctx, g, deps.SignalBus, sim)
	}

	if deps.Archiver != nil {
		a.startArchiveCron(ctx, g, deps)
	} else if a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive enabled but archiver not wired, skipping")
	}

	return g.Wait()
}

// buildSimulator constructs the cost models and the simulator from the
// configuration, together with an unconnected feed client.
func (a *App) buildSimulator(deps *Dependencies) (*simulator.Simulator, *feed.Client, error) {
	params, err := execution.NewParams(
		a.cfg.Models.Sigma,
		a.cfg.Models.Gamma,
		a.cfg.Models.Eta,
		a.cfg.Models.Epsilon,
		a.cfg.Models.Tau,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build execution params: %w", err)
	}

	rate := a.cfg.Models.AdaptationRate
	if !a.cfg.Models.Adaptive {
		rate = 0
	}
	execModel, err := execution.NewAdaptive(params, rate, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build execution model: %w", err)
	}

	slippageEst := slippage.NewEstimator(a.cfg.Models.MinRetrainSamples, a.logger)

	predictor, err := fees.NewPredictor(fees.ModelType(strings.ToLower(a.cfg.Models.MakerTakerModel)), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build maker-taker predictor: %w", err)
	}

	feeCalc := fees.NewCalculator(feeStructure(a.cfg.Fees))

	sim := simulator.New(
		simulator.Config{
			Exchange:        a.cfg.Market.Exchange,
			Symbol:          a.cfg.Market.Symbol,
			MaxPriceHistory: a.cfg.Market.MaxPriceHistory,
			AdaptiveModels:  a.cfg.Models.Adaptive,
		},
		execModel,
		slippageEst,
		predictor,
		feeCalc,
		simulator.Sidecars{
			Outcomes:  deps.Outcomes,
			Estimates: deps.Estimates,
			BookCache: deps.BookCache,
			EstCache:  deps.EstCache,
			Bus:       deps.SignalBus,
			Limiter:   deps.RateLimiter,
			Notifier:  deps.Notifier,
		},
		a.logger,
	)

	client := feed.NewClient(a.cfg.Feed.URL, feed.Options{
		ReconnectDelay:       a.cfg.Feed.ReconnectDelay.Duration,
		MaxReconnectDelay:    a.cfg.Feed.MaxReconnectDelay.Duration,
		MaxReconnectAttempts: a.cfg.Feed.MaxReconnectAttempts,
		SubscribePayload:     feed.SubscribeCommand(a.cfg.Market.Symbol),
	}, a.logger)

	return sim, client, nil
}

// feeStructure converts the configured fee schedule into the calculator's
// structure, falling back to the default schedule when no tiers are set.
func feeStructure(cfg config.FeesConfig) fees.Structure {
	if len(cfg.Tiers) == 0 {
		s := fees.DefaultStructure()
		if cfg.MakerRate > 0 || cfg.TakerRate > 0 {
			s.MakerRate = cfg.MakerRate
			s.TakerRate = cfg.TakerRate
		}
		return s
	}

	s := fees.Structure{
		MakerRate: cfg.MakerRate,
		TakerRate: cfg.TakerRate,
	}
	for _, t := range cfg.Tiers {
		s.Tiers = append(s.Tiers, fees.VolumeTier{
			MinVolume: t.MinVolume,
			MakerRate: t.MakerRate,
			TakerRate: t.TakerRate,
		})
	}
	return s
}

// startFeed connects the feed client, forwards state changes to the
// notifier, and blocks one errgroup goroutine on the connection lifetime.
// A fatal feed error (reconnect budget exhausted) tears down the group.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, client *feed.Client, notifier *notify.Notifier) {
	if notifier != nil {
		client.OnStateChange(func(state feed.State) {
			var event, title string
			switch state {
			case feed.StateConnected:
				event, title = notify.EventFeedConnected, "Feed connected"
			case feed.StateDisconnected:
				event, title = notify.EventFeedDisconnected, "Feed disconnected"
			default:
				return
			}
			if err := notifier.Notify(ctx, event, title, a.cfg.Feed.URL); err != nil {
				a.logger.WarnContext(ctx, "notify failed",
					slog.String("event", event),
					slog.String("error", err.Error()),
				)
			}
		})
	}

	g.Go(func() error {
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("feed connect: %w", err)
		}

		select {
		case <-ctx.Done():
			_ = client.Close()
			return ctx.Err()
		case <-client.Done():
			err := client.Err()
			if err == nil {
				return nil
			}
			if notifier != nil {
				_ = notifier.Notify(ctx, notify.EventConnectionFatal,
					"Feed connection lost", err.Error())
			}
			return fmt.Errorf("feed: %w", err)
		}
	})
}

// startSimulator runs the learning worker until the context is cancelled.
func (a *App) startSimulator(ctx context.Context, g *errgroup.Group, sim *simulator.Simulator) {
	g.Go(func() error {
		err := sim.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("simulator: %w", err)
		}
		return err
	})
}

// startEstimateProbe periodically estimates the cost of a reference market
// order and logs the result. Estimates served before any snapshot arrives
// are skipped silently.
func (a *App) startEstimateProbe(ctx context.Context, g *errgroup.Group, sim *simulator.Simulator) {
	g.Go(func() error {
		ticker := time.NewTicker(sampleEstimateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			est, err := sim.Estimate(ctx, domain.TradeParameters{
				Exchange:  a.cfg.Market.Exchange,
				Symbol:    a.cfg.Market.Symbol,
				TradeSize: sampleTradeSize,
				OrderType: domain.OrderTypeMarket,
				Side:      domain.SideBuy,
			})
			if err != nil {
				if errors.Is(err, domain.ErrNoMarketData) {
					continue
				}
				a.logger.WarnContext(ctx, "probe estimate failed",
					slog.String("error", err.Error()),
				)
				continue
			}

			a.logger.InfoContext(ctx, "probe estimate",
				slog.String("symbol", est.Params.Symbol),
				slog.Float64("execution_price", est.ExecutionPrice),
				slog.Float64("total_cost", est.TotalCost),
				slog.Float64("cost_bps", est.CostBps),
				slog.Float64("maker_probability", est.MakerProbability),
				slog.Float64("spread_bps", est.SpreadBps),
			)
		}
	})
}

// warmStart seeds the simulator with the last cached book snapshot so
// estimates can be served before the feed delivers its first message after
// a restart. A cold or unavailable cache is not an error.
func (a *App) warmStart(ctx context.Context, deps *Dependencies, sim *simulator.Simulator) {
	if deps.BookCache == nil {
		return
	}
	snap, err := deps.BookCache.GetSnapshot(ctx, a.cfg.Market.Exchange, a.cfg.Market.Symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "book cache warm start failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}

	sim.HandleSnapshot(ctx, snap)
	a.logger.InfoContext(ctx, "warm started from cached book",
		slog.Time("snapshot", snap.Timestamp),
	)
}

// startOutcomeIntake drains realised trade outcomes that external execution
// systems append to the outcomes stream and feeds them into the models. A
// pub/sub nudge wakes the drain early; the ticker bounds poll latency when
// no nudges arrive.
func (a *App) startOutcomeIntake(ctx context.Context, g *errgroup.Group, bus domain.SignalBus, sim *simulator.Simulator) {
	g.Go(func() error {
		nudges, err := bus.Subscribe(ctx, outcomeNotifyChannel)
		if err != nil {
			a.logger.WarnContext(ctx, "outcome intake subscribe failed, polling only",
				slog.String("error", err.Error()),
			)
		}

		ticker := time.NewTicker(intakePollInterval)
		defer ticker.Stop()

		lastID := "0"
		for {
			msgs, err := bus.StreamRead(ctx, outcomeStream, lastID, intakeBatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.WarnContext(ctx, "outcome stream read failed",
					slog.String("error", err.Error()),
				)
			}
			for _, msg := range msgs {
				lastID = msg.ID
				a.ingestOutcome(ctx, sim, msg.Payload)
			}
			// A full batch means there is likely backlog left to drain.
			if len(msgs) == intakeBatchSize {
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			case _, ok := <-nudges:
				if !ok {
					nudges = nil
				}
			}
		}
	})
}

// ingestOutcome decodes one outcome record and records it. Undecodable
// records are dropped with a warning so one bad producer cannot stall the
// stream.
func (a *App) ingestOutcome(ctx context.Context, sim *simulator.Simulator, payload []byte) {
	var rec outcomeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		a.logger.WarnContext(ctx, "dropping undecodable outcome",
			slog.String("error", err.Error()),
		)
		return
	}

	execTime := time.Duration(rec.ExecutionMS) * time.Millisecond
	if err := sim.RecordOutcome(ctx, rec.Params, rec.ActualCost, rec.ExecutionType, execTime); err != nil {
		a.logger.WarnContext(ctx, "recording external outcome failed",
			slog.String("error", err.Error()),
		)
	}
}

// startArchiveCron periodically moves rows older than the retention window
// to object storage and then deletes them from the database.
func (a *App) startArchiveCron(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}

			cutoff := time.Now().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if err := a.archiveOnce(ctx, deps, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
				if deps.Notifier != nil {
					_ = deps.Notifier.Notify(ctx, notify.EventError,
						"Archive run failed", err.Error())
				}
			}
		}
	})
}

// archiveOnce uploads everything older than cutoff and deletes the archived
// rows. Deletion only runs after a successful upload of the same kind.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, cutoff time.Time) error {
	var errs []error

	n, err := deps.Archiver.ArchiveOutcomes(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive outcomes: %w", err))
	} else if n > 0 {
		if _, err := deps.Outcomes.DeleteBefore(ctx, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("prune outcomes: %w", err))
		}
		a.logger.InfoContext(ctx, "outcomes archived", slog.Int64("count", n))
	}

	n, err = deps.Archiver.ArchiveEstimates(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive estimates: %w", err))
	} else if n > 0 {
		if _, err := deps.Estimates.DeleteBefore(ctx, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("prune estimates: %w", err))
		}
		a.logger.InfoContext(ctx, "estimates archived", slog.Int64("count", n))
	}

	return errors.Join(errs...)
}
