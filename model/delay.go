package model

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// RetryDelay is the jitter window added on top of exponential backoff.
// A zero window disables sleeping between attempts.
type RetryDelay struct {
	Min time.Duration
	Max time.Duration
}

// FixedDelay is a window of width zero.
func FixedDelay(d time.Duration) RetryDelay {
	return RetryDelay{Min: d, Max: d}
}

// ParseRetryDelay reads "2", "0.5" or "1-3" (seconds).
func ParseRetryDelay(s string) (RetryDelay, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RetryDelay{}, nil
	}
	lo, hi, isRange := strings.Cut(s, "-")
	low, err := parseSeconds(lo)
	if err != nil {
		return RetryDelay{}, fmt.Errorf("retry delay %q: %w", s, err)
	}
	if !isRange {
		d := FixedDelay(low)
		return d, d.Validate()
	}
	high, err := parseSeconds(hi)
	if err != nil {
		return RetryDelay{}, fmt.Errorf("retry delay %q: %w", s, err)
	}
	d := RetryDelay{Min: low, Max: high}
	if err := d.Validate(); err != nil {
		return RetryDelay{}, err
	}
	return d, nil
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// Validate rejects negative or inverted windows.
func (d RetryDelay) Validate() error {
	if d.Min < 0 || d.Max < 0 {
		return &ValidationError{Field: "retry_backoff", Reason: "must not be negative"}
	}
	if d.Max < d.Min {
		return &ValidationError{Field: "retry_backoff", Reason: "max is smaller than min"}
	}
	return nil
}

func (d RetryDelay) IsZero() bool {
	return d.Min == 0 && d.Max == 0
}

// Jitter draws uniformly from [Min, Max].
func (d RetryDelay) Jitter() time.Duration {
	return d.JitterFrom(rand.Float64)
}

// JitterFrom is Jitter with an explicit source in [0, 1).
func (d RetryDelay) JitterFrom(float func() float64) time.Duration {
	if d.Max <= d.Min {
		return d.Min
	}
	span := float64(d.Max - d.Min)
	return d.Min + time.Duration(float()*span)
}

func (d RetryDelay) String() string {
	if d.Min == d.Max {
		return strconv.FormatFloat(d.Min.Seconds(), 'f', -1, 64)
	}
	return strconv.FormatFloat(d.Min.Seconds(), 'f', -1, 64) + "-" + strconv.FormatFloat(d.Max.Seconds(), 'f', -1, 64)
}
