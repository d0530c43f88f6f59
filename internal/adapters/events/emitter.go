// Package events delivers domain events to in-process subscribers.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

type subscriber struct {
	id uint64
	fn func(event interface{})
}

// Emitter fans events out to subscribers synchronously, in registration
// order. Emit never fails the caller: a panicking subscriber is recovered
// and logged, and delivery continues.
type Emitter struct {
	mu          sync.RWMutex
	nextID      uint64
	subscribers []subscriber
	logger      *slog.Logger
}

func NewEmitter(logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{logger: logger.With("component", "event-emitter")}
}

// Subscribe registers fn and returns its unsubscribe function.
func (e *Emitter) Subscribe(fn func(event interface{})) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.subscribers = append(e.subscribers, subscriber{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subscribers {
			if s.id == id {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter) Emit(event interface{}) {
	e.mu.RLock()
	subs := make([]subscriber, len(e.subscribers))
	copy(subs, e.subscribers)
	e.mu.RUnlock()

	for _, s := range subs {
		e.deliver(s, event)
	}
}

func (e *Emitter) deliver(s subscriber, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event subscriber panicked", "panic", r, "event_type", fmt.Sprintf("%T", event))
		}
	}()
	s.fn(event)
}
