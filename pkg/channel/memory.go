package channel

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process topic bus. It backs the "memory" driver used in
// development and tests, where every replica lives in one process.
// Slow subscribers lose messages instead of blocking publishers.
// All methods are safe for concurrent use.
type MemoryBus struct {
	topics     map[string]map[*memorySubscription]struct{}
	bufferSize int
	closed     bool
	seq        atomic.Uint64
	mu         sync.RWMutex
	cleanupWg  sync.WaitGroup
}

// NewMemoryBus creates a bus whose subscribers buffer up to bufferSize
// messages each (minimum 1).
func NewMemoryBus(bufferSize int) *MemoryBus {
	return &MemoryBus{
		topics:     make(map[string]map[*memorySubscription]struct{}),
		bufferSize: max(bufferSize, 1),
	}
}

// Publish delivers msg to every current subscriber of topic without blocking.
// Ack.Receivers counts the subscribers that actually got it.
func (b *MemoryBus) Publish(ctx context.Context, topic string, msg Message) (Ack, error) {
	if msg.Body == "" {
		return Ack{}, fmt.Errorf("%w: empty message", ErrPayloadRejected)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return Ack{}, ErrClosed
	}

	var delivered int64
	for sub := range b.topics[topic] {
		if sub.send(msg) {
			delivered++
			continue
		}
		// Drop the slow subscriber asynchronously; taking the write lock here
		// would deadlock against our read lock.
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			b.unsubscribe(topic, sub)
		}()
	}

	id := strconv.FormatUint(b.seq.Add(1), 10)
	return Ack{MessageID: id, Receivers: delivered}, nil
}

// Subscribe registers a subscriber for topic. The subscription is removed when
// ctx is cancelled or Close is called.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		ch:   make(chan Message, b.bufferSize),
		done: make(chan struct{}),
	}
	sub.unsubscribe = func() { b.unsubscribe(topic, sub) }

	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*memorySubscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}

	if ctx.Done() != nil {
		b.cleanupWg.Add(1)
		go func() {
			defer b.cleanupWg.Done()
			select {
			case <-ctx.Done():
				b.unsubscribe(topic, sub)
			case <-sub.done:
			}
		}()
	}

	return sub, nil
}

// SubscriberCount returns the number of live subscribers of topic.
func (b *MemoryBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Ping fails once the bus is closed.
func (b *MemoryBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts the bus down and closes every subscription. Safe to call twice.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var subs []*memorySubscription
	for _, set := range b.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	clear(b.topics)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}

	b.cleanupWg.Wait()
	return nil
}

func (b *MemoryBus) unsubscribe(topic string, sub *memorySubscription) {
	b.mu.Lock()
	if set, ok := b.topics[topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.topics, topic)
		}
	}
	b.mu.Unlock()

	sub.close()
}

type memorySubscription struct {
	ch          chan Message
	closed      bool
	done        chan struct{}
	mu          sync.RWMutex
	unsubscribe func()
}

func (s *memorySubscription) Messages() <-chan Message { return s.ch }

// Close detaches the subscription from the bus and closes its channel.
func (s *memorySubscription) Close() error {
	s.unsubscribe()
	return nil
}

func (s *memorySubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		close(s.done)
		s.closed = true
	}
}

func (s *memorySubscription) send(msg Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}
