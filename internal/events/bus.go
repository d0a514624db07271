// Package events carries run progress from the engine to the CLI, the SSE
// stream and the metrics collectors.
//
// Delivery is lossy by default: a subscriber that falls behind loses its
// oldest buffered event so a slow consumer never stalls a run. Completion
// subscribers (SubscribePriority) are lossless and only see events sent
// with PublishPriority.
package events

import (
	"sync"
	"sync/atomic"
)

const (
	defaultBuffer    = 100
	completionBuffer = 50
)

type subscription struct {
	ch       chan Event
	types    map[string]bool // empty: every type
	run      string          // empty: every run
	lossless bool
}

func (s *subscription) wants(ev Event) bool {
	if len(s.types) > 0 && !s.types[ev.EventType()] {
		return false
	}
	return s.run == "" || s.run == ev.RunID()
}

// offer delivers ev without blocking, evicting the oldest buffered event
// when full. It reports how many events were lost.
func (s *subscription) offer(ev Event) int64 {
	select {
	case s.ch <- ev:
		return 0
	default:
	}
	var lost int64
	select {
	case <-s.ch:
		lost++
	default:
	}
	select {
	case s.ch <- ev:
	default:
		lost++
	}
	return lost
}

// EventBus fans events out to subscribers. A nil *EventBus accepts
// publishes and discards them.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscription
	buffer  int
	dropped atomic.Int64
	closed  bool
}

// New creates a bus whose regular subscriptions buffer bufferSize events.
func New(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBuffer
	}
	return &EventBus{buffer: bufferSize}
}

// Subscribe receives events of the given types from every run, or every
// event when no types are given.
func (eb *EventBus) Subscribe(types ...string) <-chan Event {
	return eb.SubscribeForRun("", types...)
}

// SubscribeForRun is Subscribe restricted to one run. An empty runID
// matches every run.
func (eb *EventBus) SubscribeForRun(runID string, types ...string) <-chan Event {
	sub := &subscription{
		ch:    make(chan Event, eb.buffer),
		types: make(map[string]bool, len(types)),
		run:   runID,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	return eb.add(sub)
}

// SubscribePriority receives every event sent with PublishPriority and
// nothing else. Sends block until the subscriber has room, so the reader
// must keep draining.
func (eb *EventBus) SubscribePriority() <-chan Event {
	return eb.add(&subscription{ch: make(chan Event, completionBuffer), lossless: true})
}

func (eb *EventBus) add(sub *subscription) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[:0]
	for _, sub := range eb.subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	eb.subs = kept
}

// Publish delivers ev to the matching regular subscribers.
func (eb *EventBus) Publish(ev Event) {
	eb.dispatch(ev, false)
}

// PublishPriority delivers ev like Publish and, blocking, to every
// completion subscriber.
func (eb *EventBus) PublishPriority(ev Event) {
	eb.dispatch(ev, true)
}

func (eb *EventBus) dispatch(ev Event, priority bool) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}

	for _, sub := range eb.subs {
		switch {
		case sub.lossless:
			if priority {
				sub.ch <- ev
			}
		case sub.wants(ev):
			if lost := sub.offer(ev); lost > 0 {
				eb.dropped.Add(lost)
			}
		}
	}
}

// DroppedCount returns how many events slow subscribers have lost.
func (eb *EventBus) DroppedCount() int64 {
	if eb == nil {
		return 0
	}
	return eb.dropped.Load()
}

// Close closes every subscription. Later publishes are discarded.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}
