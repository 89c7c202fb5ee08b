package market

import (
	"fmt"
	"strings"
)

// Pair is a tradable asset/quote-currency combination. Immutable; identity
// is the (Asset, Currency) tuple.
type Pair struct {
	Asset    string `json:"asset"`
	Currency string `json:"currency"`
}

func NewPair(asset, currency string) Pair {
	return Pair{
		Asset:    strings.ToUpper(strings.TrimSpace(asset)),
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
}

// Symbol returns the concatenated venue symbol (e.g. BTCUSDT).
func (p Pair) Symbol() string {
	return p.Asset + p.Currency
}

func (p Pair) String() string {
	return p.Asset + "/" + p.Currency
}

func (p Pair) IsZero() bool {
	return p.Asset == "" || p.Currency == ""
}

// ParsePair accepts "BTC/USDT" or "BTC-USDT".
func ParsePair(s string) (Pair, error) {
	s = strings.TrimSpace(s)
	for _, sep := range []string{"/", "-"} {
		if asset, currency, ok := strings.Cut(s, sep); ok {
			p := NewPair(asset, currency)
			if !p.IsZero() {
				return p, nil
			}
		}
	}
	return Pair{}, fmt.Errorf("invalid pair: %q", s)
}
