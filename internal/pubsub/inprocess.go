package pubsub

import (
	"context"
	"sync"
)

// InProcessBus is an in-memory Bus for tests and single-process
// deployments. It satisfies the same at-least-once contract as RedisBus:
// a slow subscriber can miss messages published while its channel buffer
// is full, so consumers still must re-derive rather than trust payloads.
type InProcessBus struct {
	mu   sync.Mutex
	subs map[Topic][]chan []byte
}

// NewInProcessBus returns an empty bus.
func NewInProcessBus() *InProcessBus {
	return &InProcessBus{subs: make(map[Topic][]chan []byte)}
}

// Publish fans payload out to every current subscriber of topic,
// non-blockingly: a full subscriber channel drops the message rather than
// stalling the publisher.
func (b *InProcessBus) Publish(ctx context.Context, topic Topic, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new channel for topic, removed automatically when
// ctx is cancelled.
func (b *InProcessBus) Subscribe(ctx context.Context, topic Topic) (<-chan []byte, error) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Close is a no-op; there is no external connection to release.
func (b *InProcessBus) Close() error { return nil }

var _ Bus = (*InProcessBus)(nil)
