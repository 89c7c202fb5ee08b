// Package strategy defines the contract trading logic implements to run
// against any exchange.Handler, live or emulated.
package strategy

import (
	"context"
	"fmt"

	"klinesim/internal/exchange"
	"klinesim/internal/exchange/emulator"
	"klinesim/internal/market"
)

// Strategy reacts to completed candles of one interval. The handler it
// receives is whatever it was bound to, so the same strategy code trades a
// replay or a live venue.
type Strategy interface {
	Name() string
	Pair() market.Pair
	Interval() market.Interval
	OnCandle(ctx context.Context, h exchange.Handler, e emulator.Event) error
}

// Bind subscribes a strategy to an emulator's boundary events for its
// interval, filtered to its pair.
func Bind(em *emulator.Emulator, s Strategy) (emulator.Subscription, error) {
	if em == nil || s == nil {
		return 0, fmt.Errorf("emulator and strategy are required")
	}
	return em.Subscribe(s.Interval(), func(ctx context.Context, e emulator.Event) error {
		if e.Pair != s.Pair() {
			return nil
		}
		return s.OnCandle(ctx, em, e)
	})
}
