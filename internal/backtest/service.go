package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klinesim/internal/exchange"
	"klinesim/internal/exchange/emulator"
	"klinesim/internal/logger"
	"klinesim/internal/market"
	"klinesim/internal/strategy"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Service owns run execution: it builds an emulator over the venue handler,
// replays the window, and journals the outcome.
type Service struct {
	venue exchange.Handler
	store *ResultStore
	base  market.Interval

	wg sync.WaitGroup
}

func NewService(venue exchange.Handler, store *ResultStore, base market.Interval) (*Service, error) {
	if venue == nil || store == nil {
		return nil, fmt.Errorf("venue handler and result store are required")
	}
	if base == "" {
		base = market.Minute1
	}
	if base.Duration() == 0 {
		return nil, fmt.Errorf("unsupported base interval: %s", base)
	}
	return &Service{venue: venue, store: store, base: base}, nil
}

// Submit registers a run and executes it in the background. The returned Run
// is the pending record; poll the store for progress.
func (s *Service) Submit(ctx context.Context, cfg RunConfig) (Run, error) {
	run, err := s.newRun(ctx, cfg)
	if err != nil {
		return Run{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), run)
	}()
	return run, nil
}

// Execute runs synchronously and returns the finished record.
func (s *Service) Execute(ctx context.Context, cfg RunConfig) (Run, error) {
	run, err := s.newRun(ctx, cfg)
	if err != nil {
		return Run{}, err
	}
	return s.execute(ctx, run), nil
}

// Wait blocks until all submitted runs have finished.
func (s *Service) Wait() { s.wg.Wait() }

func (s *Service) newRun(ctx context.Context, cfg RunConfig) (Run, error) {
	if err := cfg.validate(); err != nil {
		return Run{}, err
	}
	if cfg.BaseInterval == "" {
		cfg.BaseInterval = s.base.String()
	}
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Status:    RunStatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveRun(ctx, run); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (s *Service) execute(ctx context.Context, run Run) Run {
	run.Status = RunStatusRunning
	run.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveRun(ctx, run); err != nil {
		logger.Errorf("[backtest] run %s: persist running state: %v", run.ID, err)
	}

	run = s.replay(ctx, run)
	run.UpdatedAt = time.Now().UTC()
	run.CompletedAt = run.UpdatedAt
	run.Stats.FinishedAt = run.UpdatedAt
	if err := s.store.SaveRun(ctx, run); err != nil {
		logger.Errorf("[backtest] run %s: persist final state: %v", run.ID, err)
	}
	logger.Infof("[backtest] run %s finished: %s (profit %.2f)", run.ID, run.Status, run.Stats.Profit)
	return run
}

func (s *Service) replay(ctx context.Context, run Run) Run {
	cfg := run.Config
	pair, _ := market.ParsePair(cfg.Pair)
	base, _ := market.ParseInterval(cfg.BaseInterval)

	strat, err := strategy.Build(strategy.Profile{
		Strategy: cfg.Strategy,
		Pair:     cfg.Pair,
		Interval: cfg.Interval,
		Params:   cfg.Params,
	})
	if err != nil {
		return failed(run, err)
	}
	em, err := emulator.New(s.venue, emulator.Options{
		Pairs:        []market.Pair{pair},
		Portfolio:    cfg.Portfolio,
		BaseInterval: base,
	})
	if err != nil {
		return failed(run, err)
	}
	recorder := strategy.NewRecorder(pair, strat.Interval())
	if _, err := strategy.Bind(em, strat); err != nil {
		return failed(run, err)
	}
	if _, err := strategy.Bind(em, recorder); err != nil {
		return failed(run, err)
	}

	if err := s.warmCache(ctx, pair, []market.Interval{base, strat.Interval()}, cfg.Start(), cfg.End()); err != nil {
		return failed(run, err)
	}
	if err := em.Backtest(ctx, cfg.Start(), cfg.End()); err != nil {
		run = failed(run, err)
	} else {
		run.Status = RunStatusDone
	}

	orders, err := em.AllOrders(ctx, pair)
	if err != nil {
		return failed(run, err)
	}
	points := recorder.Points()
	run.Stats = computeStats(run.Stats, orders, points)
	if err := s.store.SaveOrders(ctx, run.ID, orders); err != nil {
		return failed(run, err)
	}
	if err := s.store.SaveSnapshots(ctx, run.ID, points); err != nil {
		return failed(run, err)
	}
	return run
}

// warmCache pulls every interval the run needs into the candle cache before
// the clock starts, one fetch per interval in parallel.
func (s *Service) warmCache(ctx context.Context, pair market.Pair, intervals []market.Interval, start, end time.Time) error {
	g, gctx := errgroup.WithContext(ctx)
	seen := make(map[market.Interval]bool, len(intervals))
	for _, interval := range intervals {
		if seen[interval] {
			continue
		}
		seen[interval] = true
		interval := interval
		g.Go(func() error {
			_, err := s.venue.HistoricalKlines(gctx, pair, interval, start, end)
			return err
		})
	}
	return g.Wait()
}

func failed(run Run, err error) Run {
	run.Status = RunStatusFailed
	run.Message = err.Error()
	return run
}

func computeStats(stats RunStats, orders []exchange.Record, points []strategy.EquityPoint) RunStats {
	stats.Orders = len(orders)
	for _, rec := range orders {
		switch rec.Status {
		case market.OrderFilled:
			stats.Filled++
		case market.OrderCanceled:
			stats.Canceled++
		}
	}
	stats.Snapshots = len(points)
	if len(points) == 0 {
		return stats
	}
	stats.InitialEquity = points[0].Equity
	stats.FinalEquity = points[len(points)-1].Equity
	stats.Profit = stats.FinalEquity - stats.InitialEquity
	if stats.InitialEquity != 0 {
		stats.ReturnPct = stats.Profit / stats.InitialEquity * 100
	}
	peak := points[0].Equity
	for _, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak * 100; dd > stats.MaxDrawdownPct {
				stats.MaxDrawdownPct = dd
			}
		}
	}
	return stats
}
