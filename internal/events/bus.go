package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler receives events synchronously from Publish.
type Handler func(Event)

// AllTopics subscribes a handler to every topic.
const AllTopics = "*"

// EventBus is a channel-based pub-sub event bus with optional function
// subscribers. Channel delivery never blocks; a full channel drops the event.
// Handlers run on the publishing goroutine, each inside its own recover so a
// panicking handler neither stops delivery to the others nor reaches the
// publisher.
type EventBus struct {
	mu       sync.RWMutex
	subs     map[string][]chan Event // topic -> subscriber channels
	allSubs  []chan Event            // channels subscribed to all topics
	handlers map[string][]Handler    // topic (or AllTopics) -> handlers
	closed   bool
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:     make(map[string][]chan Event),
		allSubs:  make([]chan Event, 0),
		handlers: make(map[string][]Handler),
	}
}

// Subscribe creates a subscription to a specific topic.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// SubscribeAll creates a subscription to all topics.
// bufSize defaults to 256 if <= 0.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}

	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}

	b.allSubs = append(b.allSubs, ch)
	return ch
}

// SubscribeFunc registers fn for topic, or for every topic with AllTopics.
func (b *EventBus) SubscribeFunc(topic string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.handlers[topic] = append(b.handlers[topic], fn)
}

// Publish delivers event to the topic's subscribers and to all-topic
// subscribers.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}

	for _, ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}

	handlers := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[AllTopics]))
	handlers = append(handlers, b.handlers[topic]...)
	handlers = append(handlers, b.handlers[AllTopics]...)
	b.mu.RUnlock()

	// Handlers run outside the lock so they may publish themselves.
	for _, fn := range handlers {
		invoke(fn, topic, event)
	}
}

func invoke(fn Handler, topic string, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"component": "events",
				"topic":     topic,
				"event":     event.EventType(),
				"panic":     r,
			}).Error("event handler panicked")
		}
	}()
	fn(event)
}

// Close closes the event bus and all subscriber channels.
// Safe to call multiple times.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
	b.handlers = nil
}
