package analytics

import (
	"context"
	"sync"
)

// Queue decouples the request path from persistence: handlers publish view
// events and a background recorder consumes them.
type Queue interface {
	Publish(ctx context.Context, event ViewEvent) error
	Subscribe() Subscription
	Close() error
}

// Subscription delivers queued events until closed.
type Subscription interface {
	Events() <-chan ViewEvent
	Close()
}

// MemoryQueue is a buffered channel fan-out used when Redis is not
// configured.
type MemoryQueue struct {
	mu     sync.Mutex
	subs   []*memorySubscription
	buffer int
	closed bool
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{buffer: buffer}
}

func (q *MemoryQueue) Publish(_ context.Context, event ViewEvent) error {
	q.mu.Lock()
	subs := append([]*memorySubscription(nil), q.subs...)
	q.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
	return nil
}

func (q *MemoryQueue) Subscribe() Subscription {
	sub := &memorySubscription{ch: make(chan ViewEvent, q.buffer), queue: q}
	q.mu.Lock()
	if !q.closed {
		q.subs = append(q.subs, sub)
	}
	q.mu.Unlock()
	return sub
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	subs := q.subs
	q.subs = nil
	q.closed = true
	q.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

func (q *MemoryQueue) remove(target *memorySubscription) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.subs {
		if sub == target {
			q.subs = append(q.subs[:i], q.subs[i+1:]...)
			return
		}
	}
}

type memorySubscription struct {
	queue *MemoryQueue
	ch    chan ViewEvent
	once  sync.Once
	mu    sync.Mutex
	done  bool
}

func (s *memorySubscription) Events() <-chan ViewEvent { return s.ch }

func (s *memorySubscription) deliver(event ViewEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Analytics are lossy under pressure, never blocking.
	}
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		s.queue.remove(s)
		close(s.ch)
	})
}
