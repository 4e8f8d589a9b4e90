// Package update defines the poll interval and the state that holds it.
package update

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// Interval is the delay between poll cycles, in milliseconds (the unit the
// server uses on the wire).
type Interval int64

// DefaultInterval favors fast startup; the server slows the loop down with
// an update_interval command once the page is up.
const DefaultInterval Interval = 50

// MaxInterval is the longest interval that still fits a time.Duration.
const MaxInterval Interval = math.MaxInt64 / Interval(time.Millisecond)

// ErrInvalidInterval is returned for update_interval payloads that are not a
// positive whole number of milliseconds.
var ErrInvalidInterval = errors.New("invalid update interval")

// Duration returns the interval as a time.Duration. Values above
// MaxInterval saturate instead of wrapping negative.
func (i Interval) Duration() time.Duration {
	if i > MaxInterval {
		return math.MaxInt64
	}
	return time.Duration(i) * time.Millisecond
}

// String returns string representation.
func (i Interval) String() string {
	return strconv.FormatInt(int64(i), 10) + "ms"
}

// Parse decodes an update_interval payload. The payload must be a JSON
// number with an integral, positive value; 200 and 200.0 are both accepted.
func Parse(payload json.RawMessage) (Interval, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] == '"' || trimmed[0] == 'n' {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, describe(trimmed))
	}

	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInterval, describe(trimmed))
	}

	ms, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f > float64(MaxInterval) || f != float64(int64(f)) {
			return 0, fmt.Errorf("%w: %s is not a whole number of milliseconds", ErrInvalidInterval, n)
		}
		ms = int64(f)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%w: %d must be > 0", ErrInvalidInterval, ms)
	}
	if Interval(ms) > MaxInterval {
		return 0, fmt.Errorf("%w: %d exceeds %d", ErrInvalidInterval, ms, MaxInterval)
	}
	return Interval(ms), nil
}

func describe(raw []byte) string {
	if len(raw) == 0 {
		return "empty payload"
	}
	return string(raw)
}

// State holds the current poll interval. The loop is its only writer; reads
// from other goroutines are safe.
type State struct {
	ms atomic.Int64
}

// NewState returns a State initialised to initial, or DefaultInterval if
// initial is not positive.
func NewState(initial Interval) *State {
	if initial <= 0 {
		initial = DefaultInterval
	}
	s := &State{}
	s.ms.Store(int64(initial))
	return s
}

// Get returns the current interval.
func (s *State) Get() Interval {
	return Interval(s.ms.Load())
}

// Set replaces the interval and returns the previous value.
func (s *State) Set(i Interval) Interval {
	return Interval(s.ms.Swap(int64(i)))
}
