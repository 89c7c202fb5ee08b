package candlecache

import (
	"context"
	"fmt"
	"time"

	"klinesim/internal/logger"
	"klinesim/internal/market"
)

// Period is a contiguous sub-range of a request window with no cached
// candles. Start is inclusive, End exclusive, both on the interval grid.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339))
}

// Cache answers which parts of a time window are held locally and merges
// freshly fetched candles back in without duplication.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

// FindCandles returns cached candles with start <= openTime < end, ordered
// ascending. The sequence is gapless only when FindMissingPeriods reported
// an empty result for the same window.
func (c *Cache) FindCandles(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	return c.store.QueryCandles(ctx, exchange, pair, interval, start, end)
}

// FindMissingPeriods walks the interval grid across [start, end) and returns
// the sub-ranges with no cached candle. Consecutive missing slots collapse
// into a single period, so the result is ordered, disjoint and never
// adjacent: one downstream fetch per contiguous gap, not per missing bar.
func (c *Cache) FindMissingPeriods(ctx context.Context, exchange string, pair market.Pair, interval market.Interval, start, end time.Time) ([]Period, error) {
	step := interval.Duration()
	gridStart := interval.AlignUp(start)
	if !gridStart.Before(end) {
		return nil, nil
	}
	have, err := c.store.QueryOpenTimes(ctx, exchange, pair, interval, gridStart, end)
	if err != nil {
		return nil, err
	}

	var periods []Period
	cursor := 0
	var open *Period
	for slot := gridStart; slot.Before(end); slot = slot.Add(step) {
		for cursor < len(have) && have[cursor].Before(slot) {
			cursor++
		}
		present := cursor < len(have) && have[cursor].Equal(slot)
		switch {
		case present:
			if open != nil {
				periods = append(periods, *open)
				open = nil
			}
			cursor++
		case open != nil:
			open.End = slot.Add(step)
		default:
			open = &Period{Start: slot, End: slot.Add(step)}
		}
	}
	if open != nil {
		periods = append(periods, *open)
	}
	return periods, nil
}

// AddCandles inserts candles idempotently: a candle that already exists is a
// no-op, never a duplicate row and never an error. Open times off the
// interval grid are rejected before anything is written.
func (c *Cache) AddCandles(ctx context.Context, candles []market.Candle) error {
	for _, cd := range candles {
		if !cd.Interval.IsAligned(cd.OpenTime) {
			return fmt.Errorf("candle %s %s open time %s is not aligned to %s",
				cd.Exchange, cd.Pair, cd.OpenTime.Format(time.RFC3339), cd.Interval)
		}
	}
	inserted, err := c.store.InsertCandles(ctx, candles)
	if err != nil {
		return err
	}
	if skipped := len(candles) - inserted; skipped > 0 {
		logger.Debugf("[cache] %d of %d candles already present", skipped, len(candles))
	}
	return nil
}
