package speech

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStopped   EventKind = "stopped"
)

// Event is a job lifecycle transition. It carries no job id,
// path or pid.
type Event struct {
	Kind   EventKind
	Audio  bool
	Detail string
	At     time.Time
}

func eventForResult(r Result, wantsAudio bool) Event {
	e := Event{Audio: wantsAudio, At: time.Now()}
	switch r.Outcome {
	case OutcomeStarted, OutcomeAudio:
		e.Kind = EventCompleted
	case OutcomeStopped:
		e.Kind = EventStopped
	default:
		e.Kind = EventFailed
		e.Detail = r.Message()
	}
	return e
}

const subscriberBuffer = 64

type broker struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Event)}
}

func (b *broker) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	b.nextID++
	id := b.nextID
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// publish never blocks; slow subscribers miss events.
func (b *broker) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
