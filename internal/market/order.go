package market

import "fmt"

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

type OrderType string

const (
	MarketOrder OrderType = "MARKET"
	LimitOrder  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of an order. FILLED and CANCELED are
// terminal; an order never leaves a terminal state.
type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled
}

// Order is a trading instruction. Price is meaningful for limit orders only.
type Order struct {
	Pair   Pair      `json:"pair"`
	Side   OrderSide `json:"side"`
	Type   OrderType `json:"type"`
	Volume float64   `json:"volume"`
	Price  float64   `json:"price,omitempty"`
}

func NewMarketBuy(pair Pair, volume float64) Order {
	return Order{Pair: pair, Side: Buy, Type: MarketOrder, Volume: volume}
}

func NewMarketSell(pair Pair, volume float64) Order {
	return Order{Pair: pair, Side: Sell, Type: MarketOrder, Volume: volume}
}

func NewLimitBuy(pair Pair, volume, price float64) Order {
	return Order{Pair: pair, Side: Buy, Type: LimitOrder, Volume: volume, Price: price}
}

func NewLimitSell(pair Pair, volume, price float64) Order {
	return Order{Pair: pair, Side: Sell, Type: LimitOrder, Volume: volume, Price: price}
}

// Validate rejects orders the venue would refuse outright.
func (o Order) Validate() error {
	if o.Pair.IsZero() {
		return fmt.Errorf("order pair is required")
	}
	if o.Volume <= 0 {
		return fmt.Errorf("order volume must be positive, got %v", o.Volume)
	}
	if o.Type == LimitOrder && o.Price <= 0 {
		return fmt.Errorf("limit price must be positive, got %v", o.Price)
	}
	return nil
}

// OrderID is the opaque handle returned at placement and used for every
// later lookup. The venue assigns ids per pair.
type OrderID struct {
	Pair Pair  `json:"pair"`
	ID   int64 `json:"id"`
}

func (id OrderID) String() string {
	return fmt.Sprintf("%s#%d", id.Pair.Symbol(), id.ID)
}
