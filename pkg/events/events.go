// Package events implements the gateway's publish-subscribe fan-out: engine
// tasks publish state changes, and any number of presentation layers
// subscribe to a best-effort stream of them.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed enumeration of event types a Bus can carry.
type Kind string

const (
	CountUpdated         Kind = "COUNT_UPDATED"
	ProgressUpdated      Kind = "PROGRESS_UPDATED"
	StateChanged         Kind = "STATE_CHANGED"
	DeviceHeartbeat      Kind = "DEVICE_HEARTBEAT"
	DeviceReset          Kind = "DEVICE_RESET"
	StaleCounterDetected Kind = "STALE_COUNTER_DETECTED"
	LecturaCompleted     Kind = "LECTURA_COMPLETED"
	IncrementRejected    Kind = "INCREMENT_REJECTED"
	SyncStarted          Kind = "SYNC_STARTED"
	SyncCompleted        Kind = "SYNC_COMPLETED"
	EngineFailed         Kind = "ENGINE_FAILED"
)

// Event is one published occurrence. ID is assigned by Publish if left
// blank, letting an SSE consumer resume a dropped stream from the last ID
// it saw. Payload carries kind-specific data (e.g. a device ID, a delta, a
// progress ratio) as a plain map so the Bus itself stays decoupled from
// every publisher's concrete types.
type Event struct {
	ID      string
	Kind    Kind
	At      time.Time
	Payload map[string]any
}

// defaultQueueSize is the per-subscriber channel capacity unless overridden.
const defaultQueueSize = 64

// Bus fans out events to subscribers. A slow subscriber drops its oldest
// pending event rather than blocking the publisher; the underlying state
// change has always already been persisted by the time Publish is called.
type Bus struct {
	queueSize int

	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	mu sync.Mutex
	ch chan Event
}

// New creates a Bus whose subscriber channels have the given capacity (the
// default of 64 is used when size <= 0).
func New(size int) *Bus {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Bus{queueSize: size, subs: make(map[int]*subscriber)}
}

// Subscription is a handle returned by Subscribe. Call Unsubscribe when the
// caller is done reading; C is closed after Unsubscribe.
type Subscription struct {
	id     int
	bus    *Bus
	C      <-chan Event
	source *subscriber
}

// Subscribe registers a new subscriber and returns a handle exposing its
// event channel.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.queueSize)}
	id := b.next
	b.next++
	b.subs[id] = sub

	return &Subscription{id: id, bus: b, C: sub.ch, source: sub}
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	_, ok := s.bus.subs[s.id]
	if ok {
		delete(s.bus.subs, s.id)
	}
	s.bus.mu.Unlock()

	if ok {
		close(s.source.ch)
	}
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose channel is full has its oldest queued event discarded to
// make room.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(ev)
	}
}

func (s *subscriber) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- ev:
		return
	default:
	}

	// channel full: drop the oldest queued event, then push.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// SubscriberCount reports the number of active subscriptions, mainly for
// diagnostics and the Control API's status endpoint.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
