package exchange

import (
	"errors"
	"fmt"
	"time"

	"klinesim/internal/candlecache"
	"klinesim/internal/market"
)

var (
	// ErrInsufficientBalance rejects a fill that would drive a balance
	// negative. The portfolio is untouched when this is returned.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUnknownOrder marks lookups for an id this handler never issued.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrOrderFilled rejects cancellation of an already-filled order.
	ErrOrderFilled = errors.New("order already filled")
)

// DataIntegrityError reports that a fetch-and-store cycle did not close the
// gaps it was meant to cover. It is surfaced to the caller instead of
// retried, so a broken venue feed cannot loop the fetch path forever.
type DataIntegrityError struct {
	Exchange string
	Pair     market.Pair
	Interval market.Interval
	Gaps     []candlecache.Period
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("%s %s %s: %d missing periods remain after fetch (first %s)",
		e.Exchange, e.Pair, e.Interval, len(e.Gaps), e.Gaps[0])
}

// FetchError wraps a venue client failure unchanged; the cache layer never
// masks or retries it.
type FetchError struct {
	Exchange string
	Pair     market.Pair
	Interval market.Interval
	Start    time.Time
	End      time.Time
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s %s fetch [%s, %s) failed: %v",
		e.Exchange, e.Pair, e.Interval,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
