package market

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Portfolio maps asset symbols to balances. Balances are decimals so fill
// arithmetic stays exact; a missing asset reads as zero.
type Portfolio map[string]decimal.Decimal

// NewPortfolio builds a portfolio from float allocations (config input).
func NewPortfolio(alloc map[string]float64) Portfolio {
	p := make(Portfolio, len(alloc))
	for asset, amount := range alloc {
		p[asset] = decimal.NewFromFloat(amount)
	}
	return p
}

// Balance returns the balance for asset, zero when the asset is unknown.
func (p Portfolio) Balance(asset string) decimal.Decimal {
	if b, ok := p[asset]; ok {
		return b
	}
	return decimal.Zero
}

// Clone returns a detached copy. Mutating the copy never affects the source.
func (p Portfolio) Clone() Portfolio {
	out := make(Portfolio, len(p))
	for asset, balance := range p {
		out[asset] = balance
	}
	return out
}

// Assets returns the held asset symbols in stable order.
func (p Portfolio) Assets() []string {
	out := make([]string, 0, len(p))
	for asset := range p {
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}
