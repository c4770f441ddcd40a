package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shipshape-io/shipshape/pkg/engine"
)

// Subscriber receives run events. Subscribers run on the bus dispatch
// goroutine, one event at a time in publish order, so a progress
// renderer sees the timeline exactly as the engine produced it.
type Subscriber func(event *engine.Event)

// Filter decides whether a subscriber sees an event.
type Filter func(event *engine.Event) bool

type subscriberEntry struct {
	fn     Subscriber
	filter Filter
}

// Bus fans engine run events out to subscribers. It implements
// engine.EventPublisher: Publish never blocks the coordinating
// goroutine; events beyond the buffer are dropped and counted.
type Bus struct {
	buffer  chan *engine.Event
	dropped atomic.Int64

	mu          sync.RWMutex
	subscribers []subscriberEntry
	closed      bool

	wg sync.WaitGroup
}

// NewBus creates the bus and starts its dispatch goroutine.
func NewBus(cfg EventsConfig) *Bus {
	size := cfg.BufferSize
	if size <= 0 {
		size = 1024
	}
	b := &Bus{
		buffer: make(chan *engine.Event, size),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a subscriber. A nil filter receives everything.
// Subscribing after Shutdown is a no-op.
func (b *Bus) Subscribe(fn Subscriber, filter Filter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subscribers = append(b.subscribers, subscriberEntry{fn: fn, filter: filter})
}

// Publish queues one event for dispatch.
func (b *Bus) Publish(ctx context.Context, event *engine.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus closed")
	}

	select {
	case b.buffer <- event:
		return nil
	default:
		b.dropped.Add(1)
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Dropped returns the number of events discarded on a full buffer.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for event := range b.buffer {
		b.mu.RLock()
		subs := b.subscribers
		b.mu.RUnlock()

		for _, entry := range subs {
			if entry.filter != nil && !entry.filter(event) {
				continue
			}
			entry.fn(event)
		}
	}
}

// Shutdown stops intake, drains queued events, and waits for the
// dispatch goroutine up to the context deadline.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.buffer)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus shutdown timeout")
	}
}

// ByType passes only the given event types.
func ByType(types ...engine.EventType) Filter {
	set := make(map[engine.EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event *engine.Event) bool {
		return set[event.Type]
	}
}

// ByHost passes only events concerning one host.
func ByHost(host string) Filter {
	return func(event *engine.Event) bool {
		return event.Host == host
	}
}

// ByLevel passes events at or above the given severity.
func ByLevel(minLevel string) Filter {
	rank := map[string]int{"info": 0, "warning": 1, "error": 2}
	min := rank[minLevel]
	return func(event *engine.Event) bool {
		return rank[event.Level] >= min
	}
}
