package strategy

import (
	"context"
	"sync"
	"time"

	"klinesim/internal/exchange"
	"klinesim/internal/exchange/emulator"
	"klinesim/internal/market"
)

// EquityPoint is the portfolio's quote-currency value after one bar.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Candle market.Candle
	Equity float64 `json:"equity"`
}

// Recorder observes a replay without trading: it tracks each completed bar
// and marks the portfolio to market at its close. Runs use it to journal
// equity snapshots; tests use it to inspect event flow.
type Recorder struct {
	pair     market.Pair
	interval market.Interval

	mu     sync.Mutex
	points []EquityPoint
}

func NewRecorder(pair market.Pair, interval market.Interval) *Recorder {
	return &Recorder{pair: pair, interval: interval}
}

func (r *Recorder) Name() string              { return "recorder" }
func (r *Recorder) Pair() market.Pair         { return r.pair }
func (r *Recorder) Interval() market.Interval { return r.interval }

func (r *Recorder) OnCandle(ctx context.Context, h exchange.Handler, e emulator.Event) error {
	portfolio, err := h.Portfolio(ctx)
	if err != nil {
		return err
	}
	equity := portfolio.Balance(r.pair.Currency).InexactFloat64() +
		portfolio.Balance(r.pair.Asset).InexactFloat64()*e.Candle.Close
	r.mu.Lock()
	r.points = append(r.points, EquityPoint{Time: e.Time, Candle: e.Candle, Equity: equity})
	r.mu.Unlock()
	return nil
}

// Points returns the recorded series in event order.
func (r *Recorder) Points() []EquityPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EquityPoint(nil), r.points...)
}
