package timewindow

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownPeriod is returned for period selectors outside the supported set.
var ErrUnknownPeriod = errors.New("unknown period")

// Period is a relative time-window selector.
type Period string

const (
	Period15m    Period = "15m"
	Period1h     Period = "1h"
	Period6h     Period = "6h"
	Period24h    Period = "24h"
	Period7d     Period = "7d"
	Period30d    Period = "30d"
	PeriodCustom Period = "custom"
)

// FallbackPeriod is used when custom period has no usable range.
const FallbackPeriod = Period7d

var lookback = map[Period]time.Duration{
	Period15m: 15 * time.Minute,
	Period1h:  time.Hour,
	Period6h:  6 * time.Hour,
	Period24h: 24 * time.Hour,
	Period7d:  7 * 24 * time.Hour,
	Period30d: 30 * 24 * time.Hour,
}

// Window is a half-open [From, To) time range.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Empty reports whether window contains no instant.
func (w Window) Empty() bool {
	return !w.From.Before(w.To)
}

// Contains reports whether at falls inside [From, To).
// Params: instant to test.
// Returns: true when From <= at < To.
func (w Window) Contains(at time.Time) bool {
	return !at.Before(w.From) && at.Before(w.To)
}

// ParsePeriod normalizes a period selector.
// Params: raw selector text; empty selects the fallback period.
// Returns: period or ErrUnknownPeriod.
func ParsePeriod(raw string) (Period, error) {
	value := Period(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return FallbackPeriod, nil
	}
	if value == PeriodCustom {
		return value, nil
	}
	if _, ok := lookback[value]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
	}
	return value, nil
}

// Lookback returns relative duration for non-custom period.
// Params: period selector.
// Returns: duration and true when period is relative.
func Lookback(period Period) (time.Duration, bool) {
	d, ok := lookback[period]
	return d, ok
}

// Resolve maps period selector to a concrete window anchored at now.
// Params: period, optional custom range, and snapshot time.
// Returns: [now-lookback, now) or the custom range; custom without usable range falls back to 7d.
func Resolve(period Period, custom *Window, now time.Time) (Window, error) {
	if period == PeriodCustom {
		if custom != nil && !custom.Empty() {
			return *custom, nil
		}
		period = FallbackPeriod
	}
	d, ok := lookback[period]
	if !ok {
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
	return Window{From: now.Add(-d), To: now}, nil
}
