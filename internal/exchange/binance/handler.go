// Package binance adapts the Binance spot API to the exchange.Handler
// contract. Trading and account calls go through the official SDK; the
// historical kline path is a plain REST call so replies stay byte-stable
// and inspectable.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"klinesim/internal/candlecache"
	"klinesim/internal/exchange"
	"klinesim/internal/market"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultRateLimitPerMin = 1100 // spot REST weight budget, leave headroom

type Config struct {
	APIKey          string
	APISecret       string
	Testnet         bool
	RESTBaseURL     string
	HTTPTimeout     time.Duration
	RateLimitPerMin int
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.RateLimitPerMin <= 0 {
		c.RateLimitPerMin = defaultRateLimitPerMin
	}
	if c.RESTBaseURL == "" {
		if c.Testnet {
			c.RESTBaseURL = "https://testnet.binance.vision"
		} else {
			c.RESTBaseURL = "https://api.binance.com"
		}
	}
	return c
}

// Handler implements exchange.Handler against Binance spot.
type Handler struct {
	cfg     Config
	client  *binance.Client
	cache   *candlecache.Cache
	limiter *rate.Limiter
}

func New(cfg Config, cache *candlecache.Cache) (*Handler, error) {
	if cache == nil {
		return nil, fmt.Errorf("candle cache is required")
	}
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	client.HTTPClient.Timeout = final.HTTPTimeout
	return &Handler{
		cfg:     final,
		client:  client,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(float64(final.RateLimitPerMin)/60.0), 10),
	}, nil
}

func (h *Handler) Name() string { return "binance" }

// ConvertInterval maps to the venue interval token; the internal keys are
// already Binance vocabulary.
func (h *Handler) ConvertInterval(interval market.Interval) string {
	return interval.String()
}

func (h *Handler) ConvertPairSymbol(pair market.Pair) string {
	return pair.Symbol()
}

func (h *Handler) ConvertDate(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// HistoricalKlines is the cache-aware public entry point.
func (h *Handler) HistoricalKlines(ctx context.Context, pair market.Pair, interval market.Interval, start, end time.Time) ([]market.Candle, error) {
	return exchange.CachedKlines(ctx, h, h.cache, pair, interval, start, end)
}

func (h *Handler) PlaceOrder(ctx context.Context, order market.Order) (market.OrderID, error) {
	if err := order.Validate(); err != nil {
		return market.OrderID{}, err
	}
	svc := h.client.NewCreateOrderService().
		Symbol(h.ConvertPairSymbol(order.Pair)).
		Side(binance.SideType(order.Side)).
		Quantity(formatQty(order.Volume))
	switch order.Type {
	case market.MarketOrder:
		svc = svc.Type(binance.OrderTypeMarket)
	case market.LimitOrder:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatQty(order.Price))
	default:
		return market.OrderID{}, fmt.Errorf("unsupported order type: %s", order.Type)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return market.OrderID{}, err
	}
	return market.OrderID{Pair: order.Pair, ID: res.OrderID}, nil
}

func (h *Handler) CheckOrder(ctx context.Context, id market.OrderID) (market.OrderStatus, error) {
	res, err := h.client.NewGetOrderService().
		Symbol(h.ConvertPairSymbol(id.Pair)).
		OrderID(id.ID).
		Do(ctx)
	if err != nil {
		return "", err
	}
	return convertStatus(res.Status), nil
}

func (h *Handler) CancelOrder(ctx context.Context, id market.OrderID) error {
	_, err := h.client.NewCancelOrderService().
		Symbol(h.ConvertPairSymbol(id.Pair)).
		OrderID(id.ID).
		Do(ctx)
	return err
}

func (h *Handler) AllOrders(ctx context.Context, pair market.Pair) ([]exchange.Record, error) {
	orders, err := h.client.NewListOrdersService().
		Symbol(h.ConvertPairSymbol(pair)).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return convertOrders(pair, orders), nil
}

func (h *Handler) OpenOrders(ctx context.Context, pair market.Pair) ([]exchange.Record, error) {
	orders, err := h.client.NewListOpenOrdersService().
		Symbol(h.ConvertPairSymbol(pair)).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	return convertOrders(pair, orders), nil
}

func (h *Handler) Portfolio(ctx context.Context) (market.Portfolio, error) {
	account, err := h.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	portfolio := make(market.Portfolio)
	for _, b := range account.Balances {
		free, err1 := decimal.NewFromString(b.Free)
		locked, err2 := decimal.NewFromString(b.Locked)
		if err1 != nil || err2 != nil {
			continue
		}
		total := free.Add(locked)
		if !total.IsZero() {
			portfolio[b.Asset] = total
		}
	}
	return portfolio, nil
}

func (h *Handler) AssetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	portfolio, err := h.Portfolio(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return portfolio.Balance(asset), nil
}

func convertOrders(pair market.Pair, orders []*binance.Order) []exchange.Record {
	out := make([]exchange.Record, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		rec := exchange.Record{
			ID: market.OrderID{Pair: pair, ID: o.OrderID},
			Order: market.Order{
				Pair:   pair,
				Side:   market.OrderSide(o.Side),
				Type:   convertOrderType(o.Type),
				Volume: parseFloat(o.OrigQuantity),
				Price:  parseFloat(o.Price),
			},
			Status:   convertStatus(o.Status),
			Price:    parseFloat(o.Price),
			PlacedAt: time.UnixMilli(o.Time).UTC(),
		}
		if rec.Status == market.OrderFilled {
			rec.ExecutedAt = time.UnixMilli(o.UpdateTime).UTC()
		}
		out = append(out, rec)
	}
	return out
}

func convertOrderType(t binance.OrderType) market.OrderType {
	if t == binance.OrderTypeLimit {
		return market.LimitOrder
	}
	return market.MarketOrder
}

func convertStatus(s binance.OrderStatusType) market.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return market.OrderNew
	case binance.OrderStatusTypeFilled:
		return market.OrderFilled
	default:
		// canceled, rejected, expired: nothing left to execute
		return market.OrderCanceled
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
