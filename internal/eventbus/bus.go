// Package eventbus is an in-process fan-out of small lifecycle signals
// (task runs, deliveries, planner passes) used for logging and metrics.
package eventbus

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by adhanbot components.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	TimerFired = "timer.fired"

	PlanFinished     = "planner.finished"
	SweepFinished    = "subscription.swept"
	OrderIssued      = "subscription.order_issued"
	OrderActivated   = "subscription.activated"
	BroadcastDone    = "broadcast.finished"
	DeliverySent     = "notifier.sent"
	DeliveryFailed   = "notifier.failed"
	DeliveryDeduped  = "notifier.deduped"
	DeliveryDropped  = "notifier.dropped"
	DeliveryEnqueued = "notifier.queued"
)

// Event is a lightweight signal. Publish never blocks; a slow subscriber
// loses events once its buffer is full.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a buffered receiver. With prefixes, only events
	// whose Type starts with one of them are delivered.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts events lost to full subscriber buffers.
	Dropped() uint64
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[*subscriber]struct{}{}}
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	return slices.ContainsFunc(s.prefixes, func(p string) bool { return strings.HasPrefix(typ, p) })
}

type memBus struct {
	// Publish sends under the read lock; unsubscribe closes under the
	// write lock, so a send never hits a closed channel.
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, max(buffer, 1)), prefixes: slices.Clone(prefixes)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}
