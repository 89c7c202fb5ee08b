package strategy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"klinesim/internal/exchange"
	"klinesim/internal/exchange/emulator"
	"klinesim/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// stubHandler records placed orders and serves a fixed portfolio.
type stubHandler struct {
	orders    []market.Order
	portfolio market.Portfolio
}

func (s *stubHandler) Name() string                                    { return "stub" }
func (s *stubHandler) ConvertInterval(interval market.Interval) string { return interval.String() }
func (s *stubHandler) ConvertPairSymbol(pair market.Pair) string       { return pair.Symbol() }
func (s *stubHandler) ConvertDate(t time.Time) string                  { return t.UTC().String() }

func (s *stubHandler) RawHistoricalKlines(context.Context, market.Pair, market.Interval, time.Time, time.Time) ([]market.Candle, error) {
	return nil, nil
}
func (s *stubHandler) HistoricalKlines(context.Context, market.Pair, market.Interval, time.Time, time.Time) ([]market.Candle, error) {
	return nil, nil
}

func (s *stubHandler) PlaceOrder(_ context.Context, order market.Order) (market.OrderID, error) {
	s.orders = append(s.orders, order)
	return market.OrderID{Pair: order.Pair, ID: int64(len(s.orders))}, nil
}
func (s *stubHandler) CheckOrder(context.Context, market.OrderID) (market.OrderStatus, error) {
	return market.OrderFilled, nil
}
func (s *stubHandler) CancelOrder(context.Context, market.OrderID) error { return nil }
func (s *stubHandler) AllOrders(context.Context, market.Pair) ([]exchange.Record, error) {
	return nil, nil
}
func (s *stubHandler) OpenOrders(context.Context, market.Pair) ([]exchange.Record, error) {
	return nil, nil
}
func (s *stubHandler) Portfolio(context.Context) (market.Portfolio, error) {
	return s.portfolio.Clone(), nil
}
func (s *stubHandler) AssetBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	return s.portfolio.Balance(asset), nil
}

func feed(t *testing.T, s Strategy, h exchange.Handler, closes []float64) {
	t.Helper()
	start := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	for i, close := range closes {
		e := emulator.Event{
			Pair:     s.Pair(),
			Interval: s.Interval(),
			Time:     start.Add(time.Duration(i+1) * s.Interval().Duration()),
			Candle: market.Candle{
				Pair:     s.Pair(),
				Interval: s.Interval(),
				OpenTime: start.Add(time.Duration(i) * s.Interval().Duration()),
				Close:    close,
			},
		}
		require.NoError(t, s.OnCandle(context.Background(), h, e))
	}
}

func TestSMACrossTradesOnCrossovers(t *testing.T) {
	pair, _ := market.ParsePair("BTC/USDT")
	s, err := NewSMACross(SMACrossConfig{
		Pair:     pair,
		Interval: market.Minute15,
		Fast:     2,
		Slow:     3,
		Volume:   0.5,
	})
	require.NoError(t, err)

	h := &stubHandler{portfolio: market.NewPortfolio(map[string]float64{"USDT": 10000})}
	feed(t, s, h, []float64{10, 9, 8, 7, 12, 15, 9, 5})

	require.Len(t, h.orders, 2)
	require.Equal(t, market.Buy, h.orders[0].Side)
	require.Equal(t, market.MarketOrder, h.orders[0].Type)
	require.Equal(t, 0.5, h.orders[0].Volume)
	require.Equal(t, market.Sell, h.orders[1].Side)
}

func TestSMACrossConfigValidation(t *testing.T) {
	pair, _ := market.ParsePair("BTC/USDT")
	_, err := NewSMACross(SMACrossConfig{Pair: pair, Interval: market.Minute15, Fast: 25, Slow: 7, Volume: 1})
	require.Error(t, err)
	_, err = NewSMACross(SMACrossConfig{Pair: pair, Interval: market.Minute15, Volume: 0})
	require.Error(t, err)
}

func TestRecorderMarksToMarket(t *testing.T) {
	pair, _ := market.ParsePair("BTC/USDT")
	r := NewRecorder(pair, market.Minute1)
	h := &stubHandler{portfolio: market.NewPortfolio(map[string]float64{"BTC": 2, "USDT": 100})}

	feed(t, r, h, []float64{50, 60})

	points := r.Points()
	require.Len(t, points, 2)
	require.Equal(t, 200.0, points[0].Equity)
	require.Equal(t, 220.0, points[1].Equity)
}

func TestLoadProfilesAndBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  - strategy: sma_cross
    pair: BTC/USDT
    interval: 15m
    params:
      fast: 7
      slow: 25
      volume: 0.1
`), 0o644))

	profiles, err := LoadProfiles(path)
	require.NoError(t, err)
	require.Len(t, profiles, 1)

	s, err := Build(profiles[0])
	require.NoError(t, err)
	require.Equal(t, "sma_cross", s.Name())
	require.Equal(t, market.Minute15, s.Interval())
	require.Equal(t, "BTCUSDT", s.Pair().Symbol())

	profiles[0].Strategy = "nope"
	_, err = Build(profiles[0])
	require.Error(t, err)
}
