package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Interval is a fixed sampling granularity. The set is finite and every
// member carries a non-zero duration; calendar-length periods (months) are
// deliberately absent.
type Interval string

const (
	Minute1  Interval = "1m"
	Minute3  Interval = "3m"
	Minute5  Interval = "5m"
	Minute15 Interval = "15m"
	Minute30 Interval = "30m"
	Hour1    Interval = "1h"
	Hour2    Interval = "2h"
	Hour4    Interval = "4h"
	Hour6    Interval = "6h"
	Hour8    Interval = "8h"
	Hour12   Interval = "12h"
	Day1     Interval = "1d"
	Day3     Interval = "3d"
	Week1    Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Minute1:  time.Minute,
	Minute3:  3 * time.Minute,
	Minute5:  5 * time.Minute,
	Minute15: 15 * time.Minute,
	Minute30: 30 * time.Minute,
	Hour1:    time.Hour,
	Hour2:    2 * time.Hour,
	Hour4:    4 * time.Hour,
	Hour6:    6 * time.Hour,
	Hour8:    8 * time.Hour,
	Hour12:   12 * time.Hour,
	Day1:     24 * time.Hour,
	Day3:     72 * time.Hour,
	Week1:    7 * 24 * time.Hour,
}

// ParseInterval returns the normalized interval definition.
func ParseInterval(input string) (Interval, error) {
	key := Interval(strings.ToLower(strings.TrimSpace(input)))
	if _, ok := intervalDurations[key]; !ok {
		return "", fmt.Errorf("unsupported interval: %s", input)
	}
	return key, nil
}

// SupportedIntervals returns all interval keys sorted by duration.
func SupportedIntervals() []Interval {
	keys := make([]Interval, 0, len(intervalDurations))
	for k := range intervalDurations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return intervalDurations[keys[i]] < intervalDurations[keys[j]]
	})
	return keys
}

func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

func (iv Interval) String() string { return string(iv) }

// AlignDown truncates t to the interval grid (UTC epoch based).
func (iv Interval) AlignDown(t time.Time) time.Time {
	return t.Truncate(iv.Duration())
}

// AlignUp rounds t up to the next grid boundary; aligned inputs are returned
// unchanged.
func (iv Interval) AlignUp(t time.Time) time.Time {
	down := iv.AlignDown(t)
	if down.Equal(t) {
		return t
	}
	return down.Add(iv.Duration())
}

// IsAligned reports whether t sits exactly on the interval grid.
func (iv Interval) IsAligned(t time.Time) bool {
	return iv.AlignDown(t).Equal(t)
}
