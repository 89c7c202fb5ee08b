package emulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"klinesim/internal/logger"
	"klinesim/internal/market"
)

// Backtest replays [start, end) bar by bar. The virtual clock advances to
// each base bar's close, resting limit orders are resolved against the bar,
// and every subscribed interval whose boundary was crossed gets its events
// delivered synchronously before the next bar is processed.
//
// Listener errors do not abort the replay; they are joined and returned once
// the run finishes. The replay itself aborts only on data errors, context
// cancellation, or Stop.
func (e *Emulator) Backtest(ctx context.Context, start, end time.Time) error {
	step := e.base.Duration()
	start = e.base.AlignDown(start.UTC())
	end = e.base.AlignDown(end.UTC())
	if !start.Before(end) {
		return fmt.Errorf("backtest window [%s, %s) is empty", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	e.stopped.Store(false)

	steps := int(end.Sub(start) / step)
	series := make(map[market.Pair][]market.Candle, len(e.pairs))
	for _, pair := range e.pairs {
		candles, err := e.HistoricalKlines(ctx, pair, e.base, start, end)
		if err != nil {
			return err
		}
		if len(candles) != steps {
			return fmt.Errorf("%s: got %d %s bars for [%s, %s), want %d",
				pair, len(candles), e.base, start.Format(time.RFC3339), end.Format(time.RFC3339), steps)
		}
		series[pair] = candles
	}

	logger.Infof("[emulator] replaying %s bars in [%s, %s) for %d pairs",
		e.base, start.Format(time.RFC3339), end.Format(time.RFC3339), len(e.pairs))

	var listenerErrs []error
	index := 0
	for barOpen := start; barOpen.Before(end); barOpen = barOpen.Add(step) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.stopped.Load() {
			logger.Infof("[emulator] replay stopped at %s", barOpen.Format(time.RFC3339))
			break
		}

		barClose := barOpen.Add(step)
		e.mu.Lock()
		e.clock = barClose
		e.mu.Unlock()

		for _, pair := range e.pairs {
			bar := series[pair][index]
			e.resolveLimitOrders(pair, bar)
		}
		listenerErrs = append(listenerErrs, e.fireBoundaryEvents(ctx, series, barClose, index)...)
		index++
	}
	return errors.Join(listenerErrs...)
}

// Stop asks a running Backtest to finish after the current bar. Safe to call
// from a listener or another goroutine.
func (e *Emulator) Stop() {
	e.stopped.Store(true)
}

// resolveLimitOrders fills resting limit orders whose price the bar spans.
// A trigger the ledger cannot fund cancels the order and leaves the ledger
// untouched.
func (e *Emulator) resolveLimitOrders(pair market.Pair, bar market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range e.orders {
		if rec.Status != market.OrderNew || rec.Order.Type != market.LimitOrder || rec.Order.Pair != pair {
			continue
		}
		if !bar.Spans(rec.Order.Price) {
			continue
		}
		if err := e.settle(rec.Order, rec.Order.Price); err != nil {
			logger.Warnf("[emulator] order %s triggered but not fundable, cancelling: %v", rec.ID, err)
			rec.Status = market.OrderCanceled
			continue
		}
		rec.Status = market.OrderFilled
		rec.Price = rec.Order.Price
		rec.ExecutedAt = e.clock
	}
}

// fireBoundaryEvents delivers events for every subscribed interval whose
// boundary lands on barClose, finest interval first, listeners in
// subscription order.
func (e *Emulator) fireBoundaryEvents(ctx context.Context, series map[market.Pair][]market.Candle, barClose time.Time, index int) []error {
	var errs []error
	for _, interval := range e.registry.intervals() {
		if !interval.IsAligned(barClose) {
			continue
		}
		bars := int(interval.Duration() / e.base.Duration())
		from := index + 1 - bars
		if from < 0 {
			// the window opened mid-interval; skip the partial bar
			continue
		}
		for _, pair := range e.pairs {
			candle := aggregate(series[pair][from:index+1], interval)
			event := Event{Pair: pair, Interval: interval, Time: barClose, Candle: candle}
			for _, fn := range e.registry.listeners(interval) {
				if err := fn(ctx, event); err != nil {
					errs = append(errs, fmt.Errorf("%s listener at %s: %w", interval, barClose.Format(time.RFC3339), err))
				}
			}
		}
	}
	return errs
}

// aggregate folds consecutive base bars into one bar of the target interval.
func aggregate(bars []market.Candle, interval market.Interval) market.Candle {
	out := bars[0]
	out.Interval = interval
	for _, b := range bars[1:] {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Close = b.Close
		out.Volume += b.Volume
	}
	return out
}
