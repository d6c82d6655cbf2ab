// Package memory provides an in-process Broker implementation.
//
// Delivery is synchronous: Broadcast invokes every subscriber before
// returning. It backs tests and single-process deployments; a distributed
// deployment substitutes a networked broker behind the same interface.
package memory

import (
	"context"
	"sync"

	"github.com/louisbranch/gametable/internal/realtime"
)

// Broker fans events out to in-process subscribers.
type Broker struct {
	mu       sync.Mutex
	nextID   uint64
	channels map[string]map[uint64]realtime.Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{channels: make(map[string]map[uint64]realtime.Handler)}
}

// Subscribe registers a handler on a channel.
func (b *Broker) Subscribe(ctx context.Context, channel string, handler realtime.Handler) (realtime.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	if subs == nil {
		subs = make(map[uint64]realtime.Handler)
		b.channels[channel] = subs
	}
	b.nextID++
	subID := b.nextID
	subs[subID] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.channels[channel], subID)
	}, nil
}

// Broadcast delivers an event to every subscriber of the channel.
func (b *Broker) Broadcast(ctx context.Context, channel string, event realtime.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	handlers := make([]realtime.Handler, 0, len(b.channels[channel]))
	for _, handler := range b.channels[channel] {
		handlers = append(handlers, handler)
	}
	b.mu.Unlock()

	for _, handler := range handlers {
		handler(event)
	}
	return nil
}
