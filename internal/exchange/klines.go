package exchange

import (
	"context"
	"time"

	"klinesim/internal/candlecache"
	"klinesim/internal/logger"
	"klinesim/internal/market"
)

// CachedKlines implements the shared cache-aware fetch every handler exposes
// as HistoricalKlines: find the gaps, fetch only those through the handler's
// raw path, persist, then re-read the whole window from the cache.
//
// The verify pass runs exactly once. If gaps survive a fetch-and-store cycle
// the venue served less than it claims to have, and retrying would loop; the
// caller gets a *DataIntegrityError instead.
func CachedKlines(ctx context.Context, h Handler, cache *candlecache.Cache, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	missing, err := cache.FindMissingPeriods(ctx, h.Name(), pair, interval, start, end)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		logger.Debugf("[%s] %s %s: filling %d gaps in [%s, %s)",
			h.Name(), pair, interval, len(missing),
			start.Format(time.RFC3339), end.Format(time.RFC3339))
		if err := fetchPeriods(ctx, h, cache, pair, interval, missing); err != nil {
			return nil, err
		}
		remaining, err := cache.FindMissingPeriods(ctx, h.Name(), pair, interval, start, end)
		if err != nil {
			return nil, err
		}
		if len(remaining) > 0 {
			return nil, &DataIntegrityError{
				Exchange: h.Name(),
				Pair:     pair,
				Interval: interval,
				Gaps:     remaining,
			}
		}
	}
	return cache.FindCandles(ctx, h.Name(), pair, interval, start, end)
}

func fetchPeriods(ctx context.Context, h Handler, cache *candlecache.Cache, pair market.Pair, interval market.Interval, periods []candlecache.Period) error {
	for _, p := range periods {
		candles, err := h.RawHistoricalKlines(ctx, pair, interval, p.Start, p.End)
		if err != nil {
			return &FetchError{
				Exchange: h.Name(),
				Pair:     pair,
				Interval: interval,
				Start:    p.Start,
				End:      p.End,
				Err:      err,
			}
		}
		if err := cache.AddCandles(ctx, candles); err != nil {
			return err
		}
	}
	return nil
}
