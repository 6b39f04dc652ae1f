// Package schedule dispenses page refresh intervals from a fixed cyclic
// pattern.
package schedule

import (
	"errors"
	"sync"
	"time"
)

// ErrEmptyPattern is returned for a pattern with no entries.
var ErrEmptyPattern = errors.New("refresh pattern is empty")

// Schedule cycles through a pattern of intervals. Safe for concurrent use.
type Schedule struct {
	mu      sync.Mutex
	pattern []time.Duration
	idx     int
}

// New builds a schedule from a pattern of second counts.
func New(seconds []int) (*Schedule, error) {
	if len(seconds) == 0 {
		return nil, ErrEmptyPattern
	}
	pattern := make([]time.Duration, 0, len(seconds))
	for _, s := range seconds {
		if s <= 0 {
			return nil, errors.New("refresh pattern entries must be positive")
		}
		pattern = append(pattern, time.Duration(s)*time.Second)
	}
	return &Schedule{pattern: pattern}, nil
}

// Next returns the current interval and advances the cycle.
func (s *Schedule) Next() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.pattern[s.idx]
	s.idx = (s.idx + 1) % len(s.pattern)
	return d
}

// FastRetry returns the first interval of the pattern without moving the cycle.
func (s *Schedule) FastRetry() time.Duration {
	return s.pattern[0]
}

// Len is the pattern length.
func (s *Schedule) Len() int {
	return len(s.pattern)
}

// ShouldRefreshNow reports whether more than interval has passed since last.
func ShouldRefreshNow(last time.Time, interval time.Duration, now time.Time) bool {
	return now.Sub(last) > interval
}
