package eventbus

import (
	"sync"
	"time"
)

// Event is an in-process signal about the delivery pipeline: a post moving
// through its lifecycle or a credential being replaced.
//
// Contract:
//   - Publish never blocks; a slow subscriber drops events instead of
//     stalling the executor or the token service.
//   - Data is small and JSON-serializable (maps of scalars).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types emitted by the delivery pipeline.
const (
	TypePostQueued    = "post.queued"
	TypePostAttempt   = "post.attempt"
	TypePostPublished = "post.published"
	TypePostFailed    = "post.failed"
	TypeTokenRefresh  = "token.refreshed"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's goroutine.
func New() Bus {
	return &bus{subs: map[uint64]chan Event{}}
}

type bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]chan Event
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, ch := range b.snapshot() {
		trySend(ch, e)
	}
}

// snapshot copies the subscriber set so Publish holds no locks while
// attempting sends.
func (b *bus) snapshot() []chan Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		out = append(out, ch)
	}
	return out
}

// trySend delivers without blocking. A concurrent Unsubscribe may close the
// channel mid-send; the recover absorbs that race.
func trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
