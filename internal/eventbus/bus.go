// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus is the live event bus: it assigns monotonic ids to
// lifecycle events, retains the last 1000 in a ring buffer for
// reconnect replay, and fans them out to bounded per-subscriber queues.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// ringCapacity is the number of most recent events retained for replay.
const ringCapacity = 1000

// subscriberQueueDepth is the bounded outbound queue length K per
// subscriber before it is considered slow and dropped.
const subscriberQueueDepth = 256

// Event is one lifecycle occurrence broadcast on the bus. Type-specific
// fields live in Data; Bus itself is agnostic to the event vocabulary.
type Event struct {
	ID        uint64         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DiskSpaceLow satisfies exporter.Notifier, letting the bus surface the
// exporter's disk-full condition as an ordinary lifecycle event rather
// than exposing exporter internals to callers.
func (b *Bus) DiskSpaceLow() {
	b.Publish("DiskSpaceLow", nil)
}

// subscriber is one live SSE connection's delivery queue.
type subscriber struct {
	id       uint64
	queue    chan Event
	closedCh chan struct{}
	once     sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.closedCh) })
}

// Bus is the concurrency-safe event bus. The zero value is not usable;
// construct one with New.
type Bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	counter uint64
	ring    []Event // oldest first, capped at ringCapacity
	subs    map[uint64]*subscriber
	nextSub uint64
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger, subs: make(map[uint64]*subscriber)}
}

// Publish assigns the next monotonic id to an event of the given type,
// appends it to the ring buffer (evicting the oldest if at capacity), and
// enqueues it to every live subscriber. A subscriber whose queue is full
// is dropped rather than blocking the publisher, matching the drop-slow
// backpressure strategy.
func (b *Bus) Publish(eventType string, data map[string]any) Event {
	b.mu.Lock()
	b.counter++
	event := Event{ID: b.counter, Type: eventType, Timestamp: time.Now(), Data: data}

	b.ring = append(b.ring, event)
	if len(b.ring) > ringCapacity {
		b.ring = b.ring[1:]
	}

	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- event:
		default:
			b.dropSlowSubscriber(s)
		}
	}
	return event
}

func (b *Bus) dropSlowSubscriber(s *subscriber) {
	b.logger.Warn("eventbus: subscriber queue overflowed, dropping", slog.Uint64("subscriber_id", s.id))
	b.Unsubscribe(s.id)
	s.close()
}

// Subscribe registers a new subscriber and returns its id, its event
// channel, and a channel closed when the subscriber has been dropped
// (queue overflow) so the HTTP handler knows to terminate the response.
// If lastEventID is non-nil and still present in the ring, every retained
// event with a strictly greater id is replayed (in order) before this
// call returns, so the caller can start reading from queue without
// missing anything; if lastEventID predates the ring's oldest entry, no
// replay happens and the subscriber proceeds live, per the "does not
// replay history" rule for a stale reconnect id.
func (b *Bus) Subscribe(lastEventID *uint64) (id uint64, queue <-chan Event, closed <-chan struct{}, replayed []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	s := &subscriber{
		id:       b.nextSub,
		queue:    make(chan Event, subscriberQueueDepth),
		closedCh: make(chan struct{}),
	}
	b.subs[s.id] = s

	// Replay whatever the ring still holds with id > lastEventID. If the
	// gap since lastEventID is wider than the ring (events were evicted),
	// this simply resumes with the oldest surviving event rather than
	// erroring: partial replay beats none.
	if lastEventID != nil {
		for _, e := range b.ring {
			if e.ID > *lastEventID {
				replayed = append(replayed, e)
			}
		}
	}

	return s.id, s.queue, s.closedCh, replayed
}

// TotalSubscriberCount returns the number of live SSE subscribers,
// satisfying tracing.SubscriberCounter for the subscriber-count gauge.
func (b *Bus) TotalSubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Unsubscribe removes a subscriber. It is idempotent.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Shutdown drops every live subscriber, closing their closed channel so
// handlers can send a final ":" comment and terminate cleanly.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[uint64]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}
