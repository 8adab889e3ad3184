// Copyright (c) 2026 Savora. All rights reserved.
// Author: duc.hoangminh.vn@gmail.com

package auth

import (
	"sync"
	"time"
)

// StateEvent describes one session state transition.
type StateEvent struct {
	Previous  State
	Current   State
	ExpiresAt time.Time
	At        time.Time
}

// Subscription is a handle to a stream of [StateEvent]s.
//
// # Leak Safety
//
// Every subscriber MUST call [Subscription.Unsubscribe] when done. The
// broadcaster holds a reference to the channel until then; ad hoc callback
// slices without unsubscribe handles are exactly the listener leak this
// type exists to prevent.
type Subscription struct {
	events      chan StateEvent
	broadcaster *Broadcaster
	id          int
	once        sync.Once
}

// Events returns the receive-only event stream.
func (s *Subscription) Events() <-chan StateEvent { return s.events }

// Unsubscribe detaches the subscription and closes its channel. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broadcaster.remove(s.id)
	})
}

// Broadcaster fans session state transitions out to subscribers.
//
// # Delivery
//
// Publishing never blocks: each subscriber channel is buffered, and a
// subscriber that has fallen behind simply misses intermediate events.
// Session listeners only care about the latest state, so lossy delivery
// is correct here.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan StateEvent
	nextID      int
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[int]chan StateEvent)}
}

// Subscribe registers a new listener and returns its handle.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	events := make(chan StateEvent, 8)
	b.subscribers[id] = events

	return &Subscription{events: events, broadcaster: b, id: id}
}

// Publish delivers event to every live subscriber without blocking.
func (b *Broadcaster) Publish(event StateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, events := range b.subscribers {
		select {
		case events <- event:
		default:
			// Subscriber is backed up; drop the stale event.
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broadcaster) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if events, found := b.subscribers[id]; found {
		delete(b.subscribers, id)
		close(events)
	}
}
