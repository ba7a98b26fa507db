package broker

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryBuffer = 64

// Memory is a channel-scoped in-process pub/sub hub. Each subscription owns a
// buffered queue; Publish never blocks, and a subscriber whose queue is full
// misses the payload (delivery is best-effort).
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
	closed bool
}

// NewMemory creates a ready-to-use Memory broker. A non-positive buffer selects
// the default queue size.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &Memory{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

var _ Broker = (*Memory)(nil)

// Subscribe registers a new subscription for channel.
func (b *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		ch:      make(chan []byte, b.buffer),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	return sub, nil
}

// Publish copies payload to every subscriber of channel without blocking.
func (b *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.subs[channel] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Ping reports whether the broker still accepts operations.
func (b *Memory) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further operations. Existing subscriptions stay readable until
// they are closed by their owners.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Subscribers returns the number of live subscriptions on channel.
func (b *Memory) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

// unsubscribe removes sub from its channel set, cleaning up empty channels.
func (b *Memory) unsubscribe(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.channel)
		}
	}
}

type memorySubscription struct {
	broker    *Memory
	channel   string
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *memorySubscription) Receive(ctx context.Context, wait time.Duration) ([]byte, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrNoMessage
	}
}

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.unsubscribe(s)
		close(s.done)
	})
	return nil
}
