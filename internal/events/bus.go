package events

import (
	"context"
	"errors"
	"sync"
)

// Handler receives events from a Bus.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id   uint64
	kind Kind
	fn   Handler
}

// Bus is an in-process emitter. Handlers run synchronously on the emitting
// goroutine in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for events of kind, or for every event when kind
// is empty. The returned function removes the subscription.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, fn: fn})
	return func() { b.remove(id) }
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler and joins their errors.
func (b *Bus) Emit(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.kind != "" && s.kind != e.Kind {
			continue
		}
		if err := s.fn(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
