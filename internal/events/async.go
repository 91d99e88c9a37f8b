package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrBufferFull = errors.New("events: buffer full, event dropped")
	ErrClosed     = errors.New("events: emitter closed")
)

const DefaultBuffer = 256

type queued struct {
	ctx context.Context
	e   Event
}

// Async delivers events to another emitter from a background goroutine.
// Emit never blocks: when the buffer is full the event is dropped and
// logged.
type Async struct {
	next   Emitter
	logger *zap.Logger
	ch     chan queued
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the delivery goroutine. buffer <= 0 uses DefaultBuffer.
func NewAsync(next Emitter, buffer int, logger *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:   next,
		logger: logger,
		ch:     make(chan queued, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Emit(ctx context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.ch <- queued{ctx: context.WithoutCancel(ctx), e: e}:
		return nil
	default:
		a.logger.Warn("event buffer full, dropping event",
			zap.String("kind", string(e.Kind)),
			zap.String("key", e.Key()),
		)
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for q := range a.ch {
		if err := a.deliver(q); err != nil {
			a.logger.Warn("event delivery failed",
				zap.String("kind", string(q.e.Kind)),
				zap.String("key", q.e.Key()),
				zap.Error(err),
			)
		}
	}
}

func (a *Async) deliver(q queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("events: emitter panic: %v", r)
		}
	}()
	return a.next.Emit(q.ctx, q.e)
}

// Close stops accepting events and waits for the buffer to drain.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	<-a.done
	return nil
}
