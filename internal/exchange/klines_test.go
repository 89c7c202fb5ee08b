package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"klinesim/internal/candlecache"
	"klinesim/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeVenue serves a fixed candle series through the raw path and counts
// fetches, so tests can assert how often the cache goes to the venue.
type fakeVenue struct {
	candles    map[int64]market.Candle
	fetchCalls int
	fetchErr   error
}

func newFakeVenue(pair market.Pair, interval market.Interval, start time.Time, closes ...float64) *fakeVenue {
	v := &fakeVenue{candles: make(map[int64]market.Candle)}
	for i, close := range closes {
		open := start.Add(time.Duration(i) * interval.Duration())
		v.candles[open.UnixMilli()] = market.Candle{
			Exchange: v.Name(),
			Pair:     pair,
			Interval: interval,
			OpenTime: open,
			Open:     close,
			High:     close,
			Low:      close,
			Close:    close,
			Volume:   1,
		}
	}
	return v
}

func (v *fakeVenue) Name() string                                    { return "fake" }
func (v *fakeVenue) ConvertInterval(interval market.Interval) string { return interval.String() }
func (v *fakeVenue) ConvertPairSymbol(pair market.Pair) string       { return pair.Symbol() }
func (v *fakeVenue) ConvertDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

func (v *fakeVenue) RawHistoricalKlines(_ context.Context, _ market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	v.fetchCalls++
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	var out []market.Candle
	for slot := start; slot.Before(end); slot = slot.Add(interval.Duration()) {
		if c, ok := v.candles[slot.UnixMilli()]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *fakeVenue) HistoricalKlines(context.Context, market.Pair, market.Interval, time.Time, time.Time) ([]market.Candle, error) {
	return nil, errors.New("not implemented")
}
func (v *fakeVenue) PlaceOrder(context.Context, market.Order) (market.OrderID, error) {
	return market.OrderID{}, errors.New("not implemented")
}
func (v *fakeVenue) CheckOrder(context.Context, market.OrderID) (market.OrderStatus, error) {
	return "", errors.New("not implemented")
}
func (v *fakeVenue) CancelOrder(context.Context, market.OrderID) error {
	return errors.New("not implemented")
}
func (v *fakeVenue) AllOrders(context.Context, market.Pair) ([]Record, error)  { return nil, nil }
func (v *fakeVenue) OpenOrders(context.Context, market.Pair) ([]Record, error) { return nil, nil }
func (v *fakeVenue) Portfolio(context.Context) (market.Portfolio, error)       { return nil, nil }
func (v *fakeVenue) AssetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newTestCache(t *testing.T) *candlecache.Cache {
	t.Helper()
	store, err := candlecache.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return candlecache.New(store)
}

func TestCachedKlinesFetchesOnceThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)

	venue := newFakeVenue(pair, market.Minute1, start, 10, 11, 12, 13, 14)
	cache := newTestCache(t)

	got, err := CachedKlines(ctx, venue, cache, pair, market.Minute1, start, end)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, 1, venue.fetchCalls)

	// second call is served without touching the venue
	got, err = CachedKlines(ctx, venue, cache, pair, market.Minute1, start, end)
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, 1, venue.fetchCalls)
}

func TestCachedKlinesFetchesOnlyGaps(t *testing.T) {
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)

	venue := newFakeVenue(pair, market.Minute1, start, 10, 11, 12, 13, 14, 15)
	cache := newTestCache(t)

	// warm minutes 0-1, then widen to 0-5: the second call fetches the
	// single remaining gap [2, 6)
	_, err := CachedKlines(ctx, venue, cache, pair, market.Minute1, start, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, venue.fetchCalls)

	got, err := CachedKlines(ctx, venue, cache, pair, market.Minute1, start, start.Add(6*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 6)
	require.Equal(t, 2, venue.fetchCalls)
}

func TestCachedKlinesDataIntegrityError(t *testing.T) {
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)

	// venue is missing minute 2 entirely
	venue := newFakeVenue(pair, market.Minute1, start, 10, 11)
	cache := newTestCache(t)

	_, err := CachedKlines(ctx, venue, cache, pair, market.Minute1, start, start.Add(4*time.Minute))
	var integrityErr *DataIntegrityError
	require.ErrorAs(t, err, &integrityErr)
	require.Equal(t, "fake", integrityErr.Exchange)
	require.NotEmpty(t, integrityErr.Gaps)
	require.Equal(t, start.Add(2*time.Minute), integrityErr.Gaps[0].Start)
	// verify ran once: the initial gap scan plus a single re-check
	require.Equal(t, 1, venue.fetchCalls)
}

func TestCachedKlinesWrapsVenueFailure(t *testing.T) {
	ctx := context.Background()
	pair, _ := market.ParsePair("BTC/USDT")
	start := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)

	venue := newFakeVenue(pair, market.Minute1, start, 10)
	venue.fetchErr = errors.New("boom")
	cache := newTestCache(t)

	_, err := CachedKlines(ctx, venue, cache, pair, market.Minute1, start, start.Add(time.Minute))
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, venue.fetchErr)
}
