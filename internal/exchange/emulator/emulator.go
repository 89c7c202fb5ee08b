// Package emulator replays historical candles through the exchange.Handler
// contract. It decorates a real handler: data and conversion calls pass
// through unchanged, trading calls run against a virtual portfolio and a
// virtual clock, so a strategy binds to a backtest exactly the way it binds
// to a live venue.
package emulator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"klinesim/internal/exchange"
	"klinesim/internal/market"

	"github.com/shopspring/decimal"
)

// Options configures one emulator instance.
type Options struct {
	// Pairs the emulator trades and replays. At least one is required.
	Pairs []market.Pair

	// Portfolio holds the starting balances per asset.
	Portfolio map[string]float64

	// BaseInterval is the replay resolution; market fills and limit
	// triggers resolve against these bars. Defaults to one minute.
	BaseInterval market.Interval
}

// Emulator implements exchange.Handler on top of another handler.
type Emulator struct {
	handler exchange.Handler
	pairs   []market.Pair
	base    market.Interval

	mu        sync.Mutex
	clock     time.Time // zero means wall clock
	portfolio market.Portfolio
	nextID    int64
	orders    []*exchange.Record
	byID      map[int64]*exchange.Record

	registry *registry
	stopped  atomic.Bool
}

func New(handler exchange.Handler, opts Options) (*Emulator, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if len(opts.Pairs) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}
	base := opts.BaseInterval
	if base == "" {
		base = market.Minute1
	}
	if base.Duration() == 0 {
		return nil, fmt.Errorf("unsupported base interval: %s", base)
	}
	return &Emulator{
		handler:   handler,
		pairs:     append([]market.Pair(nil), opts.Pairs...),
		base:      base,
		portfolio: market.NewPortfolio(opts.Portfolio),
		byID:      make(map[int64]*exchange.Record),
		registry:  newRegistry(),
	}, nil
}

func (e *Emulator) Name() string { return e.handler.Name() }

func (e *Emulator) ConvertInterval(interval market.Interval) string {
	return e.handler.ConvertInterval(interval)
}

func (e *Emulator) ConvertPairSymbol(pair market.Pair) string {
	return e.handler.ConvertPairSymbol(pair)
}

func (e *Emulator) ConvertDate(t time.Time) string {
	return e.handler.ConvertDate(t)
}

func (e *Emulator) RawHistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	return e.handler.RawHistoricalKlines(ctx, pair, interval, start, end)
}

func (e *Emulator) HistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	return e.handler.HistoricalKlines(ctx, pair, interval, start, end)
}

// Now is the emulator's clock: the virtual time during a replay, wall clock
// UTC otherwise.
func (e *Emulator) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now()
}

func (e *Emulator) now() time.Time {
	if e.clock.IsZero() {
		return time.Now().UTC()
	}
	return e.clock
}

// Subscribe registers a listener for boundary events of one interval during
// Backtest runs.
func (e *Emulator) Subscribe(interval market.Interval, fn Listener) (Subscription, error) {
	if interval.Duration() == 0 {
		return 0, fmt.Errorf("unsupported interval: %s", interval)
	}
	if interval.Duration()%e.base.Duration() != 0 {
		return 0, fmt.Errorf("interval %s is not a multiple of the base interval %s", interval, e.base)
	}
	return e.registry.subscribe(interval, fn), nil
}

func (e *Emulator) Unsubscribe(id Subscription) bool {
	return e.registry.unsubscribe(id)
}

// PlaceOrder simulates order submission. Market orders fill immediately at
// the close of the last completed base-interval bar; limit orders rest until
// a replayed bar spans their price.
func (e *Emulator) PlaceOrder(ctx context.Context, order market.Order) (market.OrderID, error) {
	if err := order.Validate(); err != nil {
		return market.OrderID{}, err
	}
	if !e.tracks(order.Pair) {
		return market.OrderID{}, fmt.Errorf("pair %s is not configured for this emulator", order.Pair)
	}

	var fillPrice float64
	if order.Type == market.MarketOrder {
		candle, err := e.lastCompleteCandle(ctx, order.Pair)
		if err != nil {
			return market.OrderID{}, err
		}
		fillPrice = candle.Close
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	rec := &exchange.Record{
		Order:    order,
		Status:   market.OrderNew,
		PlacedAt: e.now(),
	}
	if order.Type == market.MarketOrder {
		if err := e.settle(order, fillPrice); err != nil {
			return market.OrderID{}, err
		}
		rec.Status = market.OrderFilled
		rec.Price = fillPrice
		rec.ExecutedAt = rec.PlacedAt
	}
	e.nextID++
	rec.ID = market.OrderID{Pair: order.Pair, ID: e.nextID}
	e.orders = append(e.orders, rec)
	e.byID[e.nextID] = rec
	return rec.ID, nil
}

func (e *Emulator) CheckOrder(_ context.Context, id market.OrderID) (market.OrderStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id.ID]
	if !ok {
		return "", exchange.ErrUnknownOrder
	}
	return rec.Status, nil
}

// CancelOrder cancels a resting order. Cancelling an already cancelled order
// is a no-op; cancelling a filled one fails.
func (e *Emulator) CancelOrder(_ context.Context, id market.OrderID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.byID[id.ID]
	if !ok {
		return exchange.ErrUnknownOrder
	}
	switch rec.Status {
	case market.OrderFilled:
		return exchange.ErrOrderFilled
	case market.OrderCanceled:
		return nil
	default:
		rec.Status = market.OrderCanceled
		return nil
	}
}

func (e *Emulator) AllOrders(_ context.Context, pair market.Pair) ([]exchange.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []exchange.Record
	for _, rec := range e.orders {
		if rec.Order.Pair == pair {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (e *Emulator) OpenOrders(_ context.Context, pair market.Pair) ([]exchange.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []exchange.Record
	for _, rec := range e.orders {
		if rec.Order.Pair == pair && rec.Status == market.OrderNew {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// Portfolio returns a detached snapshot; mutating it never touches the
// emulator's ledger.
func (e *Emulator) Portfolio(_ context.Context) (market.Portfolio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Clone(), nil
}

func (e *Emulator) AssetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Balance(asset), nil
}

func (e *Emulator) tracks(pair market.Pair) bool {
	for _, p := range e.pairs {
		if p == pair {
			return true
		}
	}
	return false
}

// LastCompleteCandleBefore returns the most recent interval bar whose close
// is at or before t, read through the cache-aware path. Strategies use it to
// inspect market state at the virtual clock.
func (e *Emulator) LastCompleteCandleBefore(ctx context.Context, pair market.Pair, interval market.Interval, t time.Time) (market.Candle, error) {
	if interval.Duration() == 0 {
		return market.Candle{}, fmt.Errorf("unsupported interval: %s", interval)
	}
	// when t sits exactly on the grid, the bar ending at t is complete
	open := interval.AlignDown(t).Add(-interval.Duration())
	candles, err := e.HistoricalKlines(ctx, pair, interval, open, open.Add(interval.Duration()))
	if err != nil {
		return market.Candle{}, err
	}
	if len(candles) == 0 {
		return market.Candle{}, fmt.Errorf("no completed %s bar for %s before %s", interval, pair, t.Format(time.RFC3339))
	}
	return candles[len(candles)-1], nil
}

func (e *Emulator) lastCompleteCandle(ctx context.Context, pair market.Pair) (market.Candle, error) {
	return e.LastCompleteCandleBefore(ctx, pair, e.base, e.Now())
}

// settle applies one fill to the ledger. Caller holds the lock. A fill that
// would drive a balance negative returns ErrInsufficientBalance and leaves
// the ledger untouched.
func (e *Emulator) settle(order market.Order, price float64) error {
	volume := decimal.NewFromFloat(order.Volume)
	quote := volume.Mul(decimal.NewFromFloat(price))
	switch order.Side {
	case market.Sell:
		if e.portfolio.Balance(order.Pair.Asset).LessThan(volume) {
			return exchange.ErrInsufficientBalance
		}
		e.portfolio[order.Pair.Asset] = e.portfolio.Balance(order.Pair.Asset).Sub(volume)
		e.portfolio[order.Pair.Currency] = e.portfolio.Balance(order.Pair.Currency).Add(quote)
	case market.Buy:
		if e.portfolio.Balance(order.Pair.Currency).LessThan(quote) {
			return exchange.ErrInsufficientBalance
		}
		e.portfolio[order.Pair.Currency] = e.portfolio.Balance(order.Pair.Currency).Sub(quote)
		e.portfolio[order.Pair.Asset] = e.portfolio.Balance(order.Pair.Asset).Add(volume)
	default:
		return fmt.Errorf("unsupported order side: %s", order.Side)
	}
	return nil
}
