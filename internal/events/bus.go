package events

import (
	"sync"
	"time"
)

// Bus provides simple in-process pub/sub. Slow subscribers miss events
// rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs []chan any
}

func NewBus() *Bus { return &Bus{} }

// Subscribe returns a channel receiving every event published afterwards.
func (b *Bus) Subscribe(buffer int) <-chan any {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Publish is a no-op on a nil bus.
func (b *Bus) Publish(ev any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// CallStarted is published when a new row appears.
type CallStarted struct {
	CallID  string
	Number  string
	Country string
	At      time.Time
}

// CallCompleted is published when a row disappears and is handed to a worker.
type CallCompleted struct {
	CallID string
	At     time.Time
}

// CallProcessed is published once a worker finished a call.
type CallProcessed struct {
	CallID  string
	Outcome string
	Bytes   int64
	OTP     string
	Err     string
	At      time.Time
}

// StateChanged is published on every control loop transition.
type StateChanged struct {
	RunID string
	From  string
	To    string
	At    time.Time
}

// RefreshDone is published after each scheduled reload.
type RefreshDone struct {
	RunID string
	OK    bool
	Next  time.Duration
	At    time.Time
}

// ChallengeSeen is published when a challenge was detected.
type ChallengeSeen struct {
	RunID   string
	Outcome string
	At      time.Time
}
