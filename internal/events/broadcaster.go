// Package events provides a fan-out broadcaster for session and upload state streams.
package events

import (
	"encoding/json"
	"sync"

	"github.com/casefiles/casefiles/internal/metrics"
)

// Broadcaster manages subscribers and publishes values of type T.
type Broadcaster[T any] struct {
	topic string

	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	closed      bool
}

// NewBroadcaster creates a new broadcaster. topic labels subscriber metrics.
func NewBroadcaster[T any](topic string) *Broadcaster[T] {
	return &Broadcaster[T]{
		topic:       topic,
		subscribers: make(map[chan T]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	metrics.AddSubscribers(b.topic, 1)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
		metrics.AddSubscribers(b.topic, -1)
	}
}

// Publish sends a value to all subscribers. Non-blocking: drops values
// for slow consumers.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			// Drop for slow consumer
		}
	}
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		close(ch)
	}
	metrics.AddSubscribers(b.topic, -len(b.subscribers))
	b.subscribers = make(map[chan T]struct{})
}

// Count returns the current number of subscribers.
func (b *Broadcaster[T]) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Marshal serializes a published value for an SSE data line.
func Marshal[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}
