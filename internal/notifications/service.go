package notifications

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Subscriber receives events in real-time. Send must not block; a slow
// subscriber drops events rather than stalling the tracker.
type Subscriber interface {
	Send(event Event) error
	ID() string
}

// Publisher is the narrow interface components publish through.
type Publisher interface {
	Publish(eventType EventType, payload any)
}

// Service fans events out to subscribers.
type Service struct {
	subscribers map[string]Subscriber
	mu          sync.RWMutex
	now         func() time.Time
}

// NewService creates a new notification service
func NewService() *Service {
	return &Service{
		subscribers: make(map[string]Subscriber),
		now:         time.Now,
	}
}

// Subscribe adds a subscriber for real-time events
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// SubscriberCount returns the number of subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Publish stamps and broadcasts an event. Subscribers see events in
// publish order.
func (s *Service) Publish(eventType EventType, payload any) {
	s.broadcast(Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.now().UTC(),
	})
}

func (s *Service) broadcast(e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscribers {
		_ = sub.Send(e)
	}
}

// ChannelSubscriber buffers events on a channel and drops them when full.
type ChannelSubscriber struct {
	id      string
	ch      chan Event
	dropped atomic.Int64
	closed  atomic.Bool
	once    sync.Once
}

// NewChannelSubscriber creates a subscriber with the given buffer size.
func NewChannelSubscriber(id string, size int) *ChannelSubscriber {
	if id == "" {
		id = uuid.New().String()
	}
	if size <= 0 {
		size = 64
	}
	return &ChannelSubscriber{id: id, ch: make(chan Event, size)}
}

// ID returns the subscriber id.
func (c *ChannelSubscriber) ID() string { return c.id }

// Send enqueues an event without blocking.
func (c *ChannelSubscriber) Send(e Event) error {
	if c.closed.Load() {
		return nil
	}
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
	return nil
}

// Events returns the receive side of the buffer.
func (c *ChannelSubscriber) Events() <-chan Event { return c.ch }

// Dropped returns how many events were discarded on a full buffer.
func (c *ChannelSubscriber) Dropped() int64 { return c.dropped.Load() }

// Close marks the subscriber closed. Unsubscribe it first; the channel is
// left open so a concurrent Send cannot panic.
func (c *ChannelSubscriber) Close() {
	c.once.Do(func() { c.closed.Store(true) })
}
