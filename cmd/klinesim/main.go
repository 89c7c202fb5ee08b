package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klinesim/internal/backtest"
	"klinesim/internal/candlecache"
	"klinesim/internal/config"
	"klinesim/internal/exchange/binance"
	"klinesim/internal/logger"
	"klinesim/internal/market"
	"klinesim/internal/strategy"
)

func main() {
	cfgPath := flag.String("config", "", "config file path (defaults to $KLINESIM_CONFIG or configs/config.yaml)")
	startArg := flag.String("start", "", "backtest window start, RFC3339")
	endArg := flag.String("end", "", "backtest window end, RFC3339")
	flag.Parse()

	path := *cfgPath
	if path == "" {
		path = os.Getenv("KLINESIM_CONFIG")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	loader, err := config.Load(path)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	loader.Watch()
	cfg := loader.Current()
	logger.Infof("config loaded from %s (exchange=%s)", path, cfg.Exchange.Name)

	candleStore, err := candlecache.NewSQLiteStore(cfg.Cache.Dir)
	if err != nil {
		log.Fatalf("opening candle store failed: %v", err)
	}
	defer candleStore.Close()
	cache := candlecache.New(candleStore)

	venue, err := binance.New(binance.Config{
		APIKey:          cfg.Exchange.APIKey,
		APISecret:       cfg.Exchange.APISecret,
		Testnet:         cfg.Exchange.Testnet,
		RESTBaseURL:     cfg.Exchange.RESTBaseURL,
		HTTPTimeout:     cfg.Exchange.HTTPTimeout,
		RateLimitPerMin: cfg.Exchange.RateLimitPerMin,
	}, cache)
	if err != nil {
		log.Fatalf("initialising exchange handler failed: %v", err)
	}

	resultStore, err := backtest.NewResultStore(cfg.Results.Path)
	if err != nil {
		log.Fatalf("opening result store failed: %v", err)
	}
	defer resultStore.Close()

	base, _ := market.ParseInterval(cfg.Backtest.BaseInterval)
	svc, err := backtest.NewService(venue, resultStore, base)
	if err != nil {
		log.Fatalf("initialising backtest service failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.API.Enabled {
		server, err := backtest.NewHTTPServer(backtest.HTTPConfig{
			Addr:  cfg.API.Addr,
			Svc:   svc,
			Store: resultStore,
			Cache: cache,
			Venue: venue,
		})
		if err != nil {
			log.Fatalf("initialising http server failed: %v", err)
		}
		if err := server.Start(ctx); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
		svc.Wait()
		return
	}

	if err := runProfiles(ctx, svc, cfg, *startArg, *endArg); err != nil {
		log.Fatalf("backtest failed: %v", err)
	}
}

// runProfiles executes every strategy profile once over the given window.
func runProfiles(ctx context.Context, svc *backtest.Service, cfg config.Config, startArg, endArg string) error {
	start, err := time.Parse(time.RFC3339, startArg)
	if err != nil {
		return err
	}
	end, err := time.Parse(time.RFC3339, endArg)
	if err != nil {
		return err
	}
	profiles, err := strategy.LoadProfiles(cfg.Backtest.Profiles)
	if err != nil {
		return err
	}
	for _, profile := range profiles {
		run, err := svc.Execute(ctx, backtest.RunConfig{
			Pair:         profile.Pair,
			Strategy:     profile.Strategy,
			Interval:     profile.Interval,
			BaseInterval: cfg.Backtest.BaseInterval,
			StartTS:      start.UnixMilli(),
			EndTS:        end.UnixMilli(),
			Portfolio:    cfg.Backtest.Portfolio,
			Params:       profile.Params,
		})
		if err != nil {
			return err
		}
		logger.Infof("run %s (%s %s): %s profit=%.2f return=%.2f%%",
			run.ID, profile.Strategy, profile.Pair, run.Status, run.Stats.Profit, run.Stats.ReturnPct)
	}
	return nil
}
