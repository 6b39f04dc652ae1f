package schedule

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

var defaultPattern = []int{1800, 1545, 2110, 1850, 1340}

func TestNextCycles(t *testing.T) {
	s, err := New(defaultPattern)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for round := 0; round < 2; round++ {
		for _, want := range defaultPattern {
			if got := s.Next(); got != time.Duration(want)*time.Second {
				t.Fatalf("round %d: expected %ds, got %s", round, want, got)
			}
		}
	}
}

func TestFastRetryDoesNotAdvance(t *testing.T) {
	s, _ := New(defaultPattern)
	s.Next()
	s.Next()
	if got := s.FastRetry(); got != 1800*time.Second {
		t.Fatalf("expected 1800s fast retry, got %s", got)
	}
	if got := s.Next(); got != 2110*time.Second {
		t.Fatalf("expected cycle to continue at 2110s, got %s", got)
	}
}

func TestNewRejectsBadPatterns(t *testing.T) {
	if _, err := New(nil); err != ErrEmptyPattern {
		t.Fatalf("expected ErrEmptyPattern, got %v", err)
	}
	if _, err := New([]int{10, 0}); err == nil {
		t.Fatalf("expected error for zero entry")
	}
}

func TestShouldRefreshNow(t *testing.T) {
	last := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if ShouldRefreshNow(last, time.Minute, last.Add(time.Minute)) {
		t.Fatalf("expected no refresh at exactly the interval")
	}
	if !ShouldRefreshNow(last, time.Minute, last.Add(time.Minute+time.Second)) {
		t.Fatalf("expected refresh after the interval")
	}
}

func TestNextIsCyclicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pattern := rapid.SliceOfN(rapid.IntRange(1, 5000), 1, 8).Draw(t, "pattern")
		s, err := New(pattern)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		n := rapid.IntRange(0, 40).Draw(t, "draws")
		for i := 0; i < n; i++ {
			want := time.Duration(pattern[i%len(pattern)]) * time.Second
			if got := s.Next(); got != want {
				t.Fatalf("draw %d: expected %s, got %s", i, want, got)
			}
			if s.FastRetry() != time.Duration(pattern[0])*time.Second {
				t.Fatalf("fast retry must always be the first entry")
			}
		}
	})
}
