// Package eventbus is an in-process fanout of small domain signals
// (snapshot refreshed, matches found, notification sent) so components can
// observe each other without direct references.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event topics published by coefbot components.
const (
	SnapshotRefreshed = "snapshot.refreshed"
	SnapshotFailed    = "snapshot.fetch_failed"
	MatchesFound      = "poller.matches"
	TrackingChanged   = "tracking.changed"
	NotifySent        = "notifier.sent"
	NotifyFailed      = "notifier.failed"
	NotifyDeduped     = "notifier.deduped"
	NotifyDropped     = "notifier.dropped"
)

// Event carries a topic and a small, JSON-friendly payload.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers; slow subscribers lose events.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so a channel is never closed mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, topic string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: topic, Time: time.Now(), Data: data})
}
