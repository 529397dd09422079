package store

import "sync"

// subscriberBuffer is the channel buffer size for each subscriber.
const subscriberBuffer = 100

// Broadcaster fans values out to subscribers.
//
// Subscribers receive values via buffered channels (buffer size 100). Values
// are sent non-blocking; if a subscriber's buffer is full, the value is
// dropped for that subscriber to prevent blocking the publisher.
//
// The zero value is ready to use. Broadcaster is safe for concurrent use.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	closed      bool
}

// Subscribe creates a new subscription and returns a channel for receiving
// values. Subscribing to a closed broadcaster returns a closed channel.
//
// Caller must call [Broadcaster.Unsubscribe] when done to prevent resource
// leaks.
func (b *Broadcaster[T]) Subscribe() <-chan T {
	ch := make(chan T, subscriberBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if b.subscribers == nil {
		b.subscribers = make(map[chan T]struct{})
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
//
// Safe to call multiple times or with an unknown channel.
func (b *Broadcaster[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subCh := range b.subscribers {
		if subCh == ch {
			delete(b.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

// Publish sends v to all active subscribers without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			// subscriber is slow, drop the value
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
