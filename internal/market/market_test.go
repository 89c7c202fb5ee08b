package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC", p.Asset)
	assert.Equal(t, "USDT", p.Currency)
	assert.Equal(t, "BTCUSDT", p.Symbol())

	_, err = ParsePair("BTCUSDT")
	assert.Error(t, err)
}

func TestParseInterval(t *testing.T) {
	iv, err := ParseInterval(" 1M ")
	require.NoError(t, err)
	assert.Equal(t, Minute1, iv)
	assert.Equal(t, time.Minute, iv.Duration())

	_, err = ParseInterval("2w")
	assert.Error(t, err)
}

func TestIntervalAlignment(t *testing.T) {
	base := time.Date(2021, 4, 1, 10, 2, 30, 0, time.UTC)

	assert.Equal(t, time.Date(2021, 4, 1, 10, 2, 0, 0, time.UTC), Minute1.AlignDown(base))
	assert.Equal(t, time.Date(2021, 4, 1, 10, 3, 0, 0, time.UTC), Minute1.AlignUp(base))
	assert.Equal(t, time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC), Hour1.AlignDown(base))

	aligned := time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, aligned, Hour1.AlignUp(aligned))
	assert.True(t, Hour1.IsAligned(aligned))
	assert.False(t, Hour1.IsAligned(base))
}

func TestSupportedIntervalsSorted(t *testing.T) {
	keys := SupportedIntervals()
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1].Duration(), keys[i].Duration())
	}
}

func TestCandleCloseTimeAndSpan(t *testing.T) {
	c := Candle{
		Interval: Minute5,
		OpenTime: time.Date(2021, 4, 1, 10, 0, 0, 0, time.UTC),
		Open:     100, High: 110, Low: 95, Close: 105,
	}
	assert.Equal(t, time.Date(2021, 4, 1, 10, 5, 0, 0, time.UTC), c.CloseTime())
	assert.True(t, c.Spans(100))
	assert.True(t, c.Spans(95))
	assert.False(t, c.Spans(94.99))
}

func TestOrderValidate(t *testing.T) {
	pair := NewPair("BTC", "USDT")

	assert.NoError(t, NewMarketSell(pair, 1).Validate())
	assert.Error(t, NewMarketSell(pair, 0).Validate())
	assert.Error(t, NewLimitBuy(pair, 1, 0).Validate())
	assert.Error(t, NewMarketBuy(Pair{}, 1).Validate())
}

func TestPortfolioCloneIsolation(t *testing.T) {
	p := NewPortfolio(map[string]float64{"BTC": 100})

	clone := p.Clone()
	clone["ETH"] = decimal.NewFromInt(100)

	assert.True(t, p.Balance("ETH").IsZero())
	assert.True(t, p.Balance("BTC").Equal(decimal.NewFromInt(100)))
	assert.Equal(t, []string{"BTC", "ETH"}, clone.Assets())
}
