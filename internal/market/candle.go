package market

import "time"

// Candle is one OHLCV bar. Identity within an exchange is the
// (Pair, Interval, OpenTime) tuple; OpenTime sits on the interval grid.
// Candles are immutable once stored: the cache inserts them and never
// rewrites them.
type Candle struct {
	Exchange string    `json:"exchange"`
	Pair     Pair      `json:"pair"`
	Interval Interval  `json:"interval"`
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// CloseTime is the exclusive end of the bar.
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Interval.Duration())
}

// Spans reports whether price falls inside the bar's traded range.
func (c Candle) Spans(price float64) bool {
	return price >= c.Low && price <= c.High
}

// Before orders candles by open time.
func (c Candle) Before(other Candle) bool {
	return c.OpenTime.Before(other.OpenTime)
}
