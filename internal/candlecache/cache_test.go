package candlecache

import (
	"context"
	"testing"
	"time"

	"klinesim/internal/market"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func makeCandles(pair market.Pair, interval market.Interval, start time.Time, closes ...float64) []market.Candle {
	out := make([]market.Candle, 0, len(closes))
	for i, close := range closes {
		open := start.Add(time.Duration(i) * interval.Duration())
		out = append(out, market.Candle{
			Exchange: "binance",
			Pair:     pair,
			Interval: interval,
			OpenTime: open,
			Open:     close - 10,
			High:     close + 20,
			Low:      close - 20,
			Close:    close,
			Volume:   1,
		})
	}
	return out
}

func TestFindMissingPeriodsEmptyCache(t *testing.T) {
	cache := newTestCache(t)
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)

	missing, err := cache.FindMissingPeriods(context.Background(), "binance", pair, market.Minute1, start, end)
	require.NoError(t, err)
	require.Equal(t, []Period{{Start: start, End: end}}, missing)
}

func TestFindMissingPeriodsMergesAdjacentSlots(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)

	// cached: minutes 0,1 and 5, leaving gaps 2-4 and 6-9
	head := makeCandles(pair, market.Minute1, start, 100, 101)
	mid := makeCandles(pair, market.Minute1, start.Add(5*time.Minute), 105)
	require.NoError(t, cache.AddCandles(ctx, append(head, mid...)))

	missing, err := cache.FindMissingPeriods(ctx, "binance", pair, market.Minute1, start, start.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []Period{
		{Start: start.Add(2 * time.Minute), End: start.Add(5 * time.Minute)},
		{Start: start.Add(6 * time.Minute), End: start.Add(10 * time.Minute)},
	}, missing)

	// fully covered window reports nothing
	missing, err = cache.FindMissingPeriods(ctx, "binance", pair, market.Minute1, start, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestFindMissingPeriodsAlignsRequestStart(t *testing.T) {
	cache := newTestCache(t)
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 30, 0, time.UTC) // off-grid
	end := time.Date(2021, 4, 1, 10, 3, 0, 0, time.UTC)

	missing, err := cache.FindMissingPeriods(context.Background(), "binance", pair, market.Minute1, start, end)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, time.Date(2021, 4, 1, 10, 1, 0, 0, time.UTC), missing[0].Start)
	require.Equal(t, end, missing[0].End)
}

func TestAddCandlesIdempotent(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	pair, _ := market.ParsePair("ETH/USDT")
	start := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

	first := makeCandles(pair, market.Hour1, start, 2000, 2010, 2020)
	require.NoError(t, cache.AddCandles(ctx, first))

	// overlap the first write and extend it; nothing duplicates
	second := makeCandles(pair, market.Hour1, start.Add(2*time.Hour), 2020, 2030)
	require.NoError(t, cache.AddCandles(ctx, second))

	got, err := cache.FindCandles(ctx, "binance", pair, market.Hour1, start, start.Add(4*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i-1].OpenTime.Before(got[i].OpenTime))
	}
	// the overlapping bar kept its original payload
	require.Equal(t, 2020.0, got[2].Close)
}

func TestAddCandlesRejectsOffGridOpenTime(t *testing.T) {
	cache := newTestCache(t)
	pair, _ := market.ParsePair("BTC/USDT")
	bad := makeCandles(pair, market.Minute5, time.Date(2021, 4, 1, 10, 2, 0, 0, time.UTC), 100)

	err := cache.AddCandles(context.Background(), bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not aligned")
}

func TestFindCandlesHalfOpenWindow(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, cache.AddCandles(ctx, makeCandles(pair, market.Minute1, start, 1, 2, 3)))

	got, err := cache.FindCandles(ctx, "binance", pair, market.Minute1, start, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1.0, got[0].Close)
	require.Equal(t, 2.0, got[1].Close)
}
