package strategy

import (
	"context"
	"fmt"

	"klinesim/internal/exchange"
	"klinesim/internal/exchange/emulator"
	"klinesim/internal/logger"
	"klinesim/internal/market"

	talib "github.com/markcheno/go-talib"
)

// SMACrossConfig controls the moving-average crossover strategy.
type SMACrossConfig struct {
	Pair     market.Pair
	Interval market.Interval
	Fast     int
	Slow     int
	Volume   float64 // base-asset quantity per trade
}

// SMACross buys when the fast SMA crosses above the slow one and sells the
// position back when it crosses below.
type SMACross struct {
	cfg    SMACrossConfig
	closes []float64
	long   bool
}

func NewSMACross(cfg SMACrossConfig) (*SMACross, error) {
	if cfg.Pair.IsZero() {
		return nil, fmt.Errorf("pair is required")
	}
	if cfg.Interval.Duration() == 0 {
		return nil, fmt.Errorf("unsupported interval: %s", cfg.Interval)
	}
	if cfg.Fast <= 0 {
		cfg.Fast = 7
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 25
	}
	if cfg.Fast >= cfg.Slow {
		return nil, fmt.Errorf("fast period %d must be below slow period %d", cfg.Fast, cfg.Slow)
	}
	if cfg.Volume <= 0 {
		return nil, fmt.Errorf("trade volume must be positive")
	}
	return &SMACross{cfg: cfg}, nil
}

func (s *SMACross) Name() string              { return "sma_cross" }
func (s *SMACross) Pair() market.Pair         { return s.cfg.Pair }
func (s *SMACross) Interval() market.Interval { return s.cfg.Interval }

func (s *SMACross) OnCandle(ctx context.Context, h exchange.Handler, e emulator.Event) error {
	s.closes = append(s.closes, e.Candle.Close)
	// one extra bar so the previous fast/slow values exist for cross detection
	if len(s.closes) < s.cfg.Slow+1 {
		return nil
	}
	if limit := 4 * s.cfg.Slow; len(s.closes) > limit {
		s.closes = s.closes[len(s.closes)-limit:]
	}

	fast := talib.Sma(s.closes, s.cfg.Fast)
	slow := talib.Sma(s.closes, s.cfg.Slow)
	last := len(s.closes) - 1
	crossedUp := fast[last] > slow[last] && fast[last-1] <= slow[last-1]
	crossedDown := fast[last] < slow[last] && fast[last-1] >= slow[last-1]

	switch {
	case crossedUp && !s.long:
		if _, err := h.PlaceOrder(ctx, market.NewMarketBuy(s.cfg.Pair, s.cfg.Volume)); err != nil {
			return fmt.Errorf("sma_cross buy: %w", err)
		}
		s.long = true
		logger.Infof("[sma_cross] %s long at %.2f (%s)", s.cfg.Pair, e.Candle.Close, e.Time)
	case crossedDown && s.long:
		if _, err := h.PlaceOrder(ctx, market.NewMarketSell(s.cfg.Pair, s.cfg.Volume)); err != nil {
			return fmt.Errorf("sma_cross sell: %w", err)
		}
		s.long = false
		logger.Infof("[sma_cross] %s flat at %.2f (%s)", s.cfg.Pair, e.Candle.Close, e.Time)
	}
	return nil
}
