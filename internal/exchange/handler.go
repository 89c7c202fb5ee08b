// Package exchange defines the capability contract every venue adapter
// implements, real or emulated, plus the cache-aware historical fetch they
// share. Adapters compose; the emulator decorates a real handler and
// overrides only the trading subset.
package exchange

import (
	"context"
	"time"

	"klinesim/internal/market"

	"github.com/shopspring/decimal"
)

// Handler is implemented by every venue adapter.
type Handler interface {
	Name() string

	// Pure conversions to venue vocabulary. No side effects.
	ConvertInterval(interval market.Interval) string
	ConvertPairSymbol(pair market.Pair) string
	ConvertDate(t time.Time) string

	// RawHistoricalKlines fetches [start, end) directly from the venue with
	// no cache awareness. The emulator forwards this verbatim to the handler
	// it wraps, so a replay reads the same bytes as a live query.
	RawHistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error)

	// HistoricalKlines is the public cache-aware entry point: gaps are
	// computed, fetched, persisted, and the window re-read from the cache.
	HistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error)

	PlaceOrder(ctx context.Context, order market.Order) (market.OrderID, error)
	CheckOrder(ctx context.Context, id market.OrderID) (market.OrderStatus, error)
	CancelOrder(ctx context.Context, id market.OrderID) error
	AllOrders(ctx context.Context, pair market.Pair) ([]Record, error)
	OpenOrders(ctx context.Context, pair market.Pair) ([]Record, error)

	// Portfolio returns a detached snapshot; AssetBalance reads zero for
	// unknown assets rather than failing.
	Portfolio(ctx context.Context) (market.Portfolio, error)
	AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Record is an order as the venue tracks it after placement.
type Record struct {
	ID         market.OrderID     `json:"id"`
	Order      market.Order       `json:"order"`
	Status     market.OrderStatus `json:"status"`
	Price      float64            `json:"price,omitempty"` // execution price once filled
	PlacedAt   time.Time          `json:"placed_at"`
	ExecutedAt time.Time          `json:"executed_at,omitempty"`
}
