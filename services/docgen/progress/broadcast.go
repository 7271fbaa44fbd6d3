// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package progress

import (
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber live event buffer.
const DefaultBufferSize = 100

// ErrUnknownEvent is returned by Decode for an unrecognized type tag.
var ErrUnknownEvent = errors.New("unknown event type")

// Subscription is one subscriber's view of a run's events.
//
// The channel returned by Events is closed when the run finishes or the
// subscription is closed.
type Subscription struct {
	ch     chan Event
	b      *broadcaster
	lagged atomic.Uint64
	once   sync.Once
}

// Events returns the receive side of the subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Lagged returns how many events were dropped because the subscriber
// fell behind.
func (s *Subscription) Lagged() uint64 { return s.lagged.Load() }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.b != nil {
		s.b.remove(s)
	}
}

func (s *Subscription) closeChannel() {
	s.once.Do(func() { close(s.ch) })
}

// broadcaster delivers events to every subscriber without blocking the
// publisher. A full subscriber buffer drops its oldest event so the
// subscriber skips forward.
//
// Callers serialize publish and add externally; TaskState does so under
// its own lock.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	size   int
	closed bool
}

func newBroadcaster(size int) *broadcaster {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &broadcaster{subs: make(map[*Subscription]struct{}), size: size}
}

// add registers a subscriber whose channel already holds replay. The
// channel capacity covers the replay plus the live buffer.
func (b *broadcaster) add(replay []Event) *Subscription {
	s := &Subscription{ch: make(chan Event, len(replay)+b.size), b: b}
	for _, e := range replay {
		s.ch <- e
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closeChannel()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *broadcaster) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		deliver(s, e)
	}
}

func deliver(s *Subscription, e Event) {
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		select {
		case <-s.ch:
			s.lagged.Add(1)
		default:
		}
	}
}

func (b *broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
	s.closeChannel()
}

// close ends every subscription. Later publishes are dropped and later
// subscribers receive only their replay.
func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closeChannel()
	}
	b.subs = nil
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
