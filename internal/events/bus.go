// Package events provides an in-process publish/subscribe bus. A Bus is an
// explicit instance owned by the application root and passed to the
// components that publish or listen; there are no package-level listeners.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Topic names an event stream.
type Topic string

// TopicOrderStatusChanged fires after a transition is persisted.
const TopicOrderStatusChanged Topic = "order.status_changed"

// Event is one published message.
type Event struct {
	Topic   Topic
	At      time.Time
	Payload any
}

// Handler consumes events. Handlers run synchronously on the publisher's goroutine.
type Handler func(ctx context.Context, ev Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus fans events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Topic][]subscriber
	logger *slog.Logger
}

// NewBus constructs an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[Topic][]subscriber), logger: logger}
}

// Subscription is returned by Subscribe; Unsubscribe detaches the handler.
type Subscription struct {
	bus   *Bus
	topic Topic
	id    uint64
	once  sync.Once
}

// Subscribe attaches handler to topic.
func (b *Bus) Subscribe(topic Topic, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: handler})
	return &Subscription{bus: b, topic: topic, id: id}
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

func (b *Bus) remove(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[topic]
	for i, sub := range list {
		if sub.id == id {
			b.subs[topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers ev to every current subscriber of its topic, in
// subscription order. A panicking handler is logged and skipped.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[ev.Topic]...)
	b.mu.RUnlock()

	for _, sub := range list {
		b.deliver(ctx, sub, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", slog.String("topic", string(ev.Topic)), slog.Any("panic", r))
		}
	}()
	sub.handler(ctx, ev)
}

// Len reports the number of subscribers on topic.
func (b *Bus) Len(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
