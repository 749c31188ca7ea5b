// Package events delivers lifecycle notifications to an explicit list of
// observers. Delivery is fire-and-forget: observer errors and panics are
// logged and never reach the component that emitted the event.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ignite/lifecycle-engine/internal/domain"
	"github.com/ignite/lifecycle-engine/internal/pkg/logger"
)

// Observer receives every emitted event.
type Observer func(ctx context.Context, e domain.Event)

// Bus fans an event out to its observers in registration order.
// A nil *Bus drops events.
type Bus struct {
	observers []Observer
}

// NewBus returns a Bus with the given observers.
func NewBus(observers ...Observer) *Bus {
	return &Bus{observers: observers}
}

// Emit calls every observer synchronously.
func (b *Bus) Emit(ctx context.Context, e domain.Event) {
	if b == nil {
		return
	}
	for _, o := range b.observers {
		notify(ctx, o, e)
	}
}

func notify(ctx context.Context, o Observer, e domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("[Events] observer panic", "event", e.EventName(), "customer_id", e.Subject(), "panic", p)
		}
	}()
	o(ctx, e)
}

// Envelope is the wire shape used by the outbound sinks.
type Envelope struct {
	Name     string          `json:"event"`
	Subject  string          `json:"customer_id"`
	EmitTime time.Time       `json:"emitted_at"`
	Payload  json.RawMessage `json:"payload"`
}

func encode(e domain.Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Name:     e.EventName(),
		Subject:  e.Subject(),
		EmitTime: time.Now().UTC(),
		Payload:  payload,
	})
}

// LogSink writes each event as a structured log line.
func LogSink() Observer {
	return func(_ context.Context, e domain.Event) {
		payload, _ := json.Marshal(e)
		logger.Info("[Events] "+e.EventName(), "customer_id", e.Subject(), "payload", string(payload))
	}
}

// Collector keeps every event in memory.
type Collector struct {
	mu     sync.Mutex
	events []domain.Event
}

// Observe is the Observer for this collector.
func (c *Collector) Observe(_ context.Context, e domain.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

// Events returns a snapshot of the collected events.
func (c *Collector) Events() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Event(nil), c.events...)
}

// Named returns the collected events with the given name.
func (c *Collector) Named(name string) []domain.Event {
	var out []domain.Event
	for _, e := range c.Events() {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}
