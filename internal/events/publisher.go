package events

import (
	"sync"
	"sync/atomic"
)

// Publisher is the sink for reconciliation events. Delivery is
// best-effort: a slow subscriber loses events rather than blocking the
// reconcile loop, and drops are counted so losing them is observable.
type Publisher interface {
	// Publish sends an event to every subscriber interested in its type.
	Publish(event Event)
	// Subscribe returns a channel receiving the named event types. With
	// no types, the channel receives everything.
	Subscribe(types ...EventType) <-chan Event
	// Unsubscribe removes a subscription channel and closes it.
	Unsubscribe(ch <-chan Event)
	// Close shuts down the publisher and all subscriptions.
	Close()
}

// subscriber pairs a delivery channel with the event types it wants.
// A nil type set means all types.
type subscriber struct {
	ch    chan Event
	types map[EventType]struct{}
}

func (s *subscriber) wants(t EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// MemoryPublisher is the in-memory Publisher used by the daemon.
type MemoryPublisher struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	closed      bool
	dropped     atomic.Uint64
}

// PublisherOption configures a MemoryPublisher.
type PublisherOption func(*MemoryPublisher)

// WithBufferSize sets the channel buffer size for subscribers.
func WithBufferSize(size int) PublisherOption {
	return func(p *MemoryPublisher) {
		p.bufferSize = size
	}
}

// NewMemoryPublisher creates a new in-memory publisher.
func NewMemoryPublisher(opts ...PublisherOption) *MemoryPublisher {
	p := &MemoryPublisher{
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish delivers the event to every subscriber whose type filter
// matches. Non-blocking: a full buffer drops the event for that
// subscriber and bumps the drop counter.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, sub := range p.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			p.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving the named event types, or all
// events when no types are given.
func (p *MemoryPublisher) Subscribe(types ...EventType) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	sub := &subscriber{ch: make(chan Event, p.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	p.subscribers = append(p.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes a subscription channel and closes it.
func (p *MemoryPublisher) Unsubscribe(ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub.ch == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Dropped returns how many events were lost to full subscriber buffers.
func (p *MemoryPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close shuts down the publisher and closes all subscription channels.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, sub := range p.subscribers {
		close(sub.ch)
	}
	p.subscribers = nil
}

// NopPublisher is a no-op publisher for tests or when events are disabled.
type NopPublisher struct{}

// NewNopPublisher creates a no-op publisher.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish does nothing.
func (p *NopPublisher) Publish(event Event) {}

// Subscribe returns a closed channel.
func (p *NopPublisher) Subscribe(types ...EventType) <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}

// Unsubscribe does nothing.
func (p *NopPublisher) Unsubscribe(ch <-chan Event) {}

// Close does nothing.
func (p *NopPublisher) Close() {}
