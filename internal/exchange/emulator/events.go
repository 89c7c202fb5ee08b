package emulator

import (
	"context"
	"sort"
	"sync"
	"time"

	"klinesim/internal/market"
)

// Event is delivered synchronously when a replay crosses an interval
// boundary. Candle is the bar that just completed for that interval; Time is
// its close, which is also the virtual clock at delivery.
type Event struct {
	Pair     market.Pair
	Interval market.Interval
	Time     time.Time
	Candle   market.Candle
}

// Listener reacts to one boundary event. Returning an error does not stop the
// replay; errors are collected and reported once the run finishes.
type Listener func(ctx context.Context, e Event) error

// Subscription identifies one registered listener for removal.
type Subscription int64

type subscriber struct {
	id Subscription
	fn Listener
}

// registry keeps per-interval listener lists in subscription order, so a
// replay delivers events deterministically.
type registry struct {
	mu     sync.Mutex
	nextID Subscription
	subs   map[market.Interval][]subscriber
}

func newRegistry() *registry {
	return &registry{subs: make(map[market.Interval][]subscriber)}
}

func (r *registry) subscribe(interval market.Interval, fn Listener) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.subs[interval] = append(r.subs[interval], subscriber{id: r.nextID, fn: fn})
	return r.nextID
}

func (r *registry) unsubscribe(id Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for interval, list := range r.subs {
		for i, s := range list {
			if s.id == id {
				r.subs[interval] = append(list[:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// intervals returns the subscribed intervals ordered by duration ascending,
// so on a shared boundary the finer interval fires first.
func (r *registry) intervals() []market.Interval {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]market.Interval, 0, len(r.subs))
	for interval, list := range r.subs {
		if len(list) > 0 {
			out = append(out, interval)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration() < out[j].Duration() })
	return out
}

func (r *registry) listeners(interval market.Interval) []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.subs[interval]
	out := make([]Listener, 0, len(list))
	for _, s := range list {
		out = append(out, s.fn)
	}
	return out
}
