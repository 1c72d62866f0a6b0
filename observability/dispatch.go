package observability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultDispatchBuffer = 256

// Dispatcher decouples event producers from the Observer behind a bounded
// buffer. Emit never blocks: if the buffer is full the event is counted and
// dropped. Session-critical code paths emit through a Dispatcher so telemetry
// can never stall a session.
type Dispatcher struct {
	observer Observer
	events   chan Event
	dropped  atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher starts a Dispatcher draining into observer. Buffer <= 0 uses
// the default. Call Close to stop the drain goroutine.
func NewDispatcher(observer Observer, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	d := &Dispatcher{
		observer: observer,
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}
	go d.drain()
	return d
}

// Emit records an event at the given level. Never blocks.
func (d *Dispatcher) Emit(eventType EventType, level Level, source string, data map[string]any) {
	event := Event{
		Type:      eventType,
		Level:     level,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      data,
	}
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the count of events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops the drain goroutine after flushing buffered events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.events)
		<-d.done
	})
}

func (d *Dispatcher) drain() {
	defer close(d.done)
	for event := range d.events {
		d.observer.OnEvent(context.Background(), event)
	}
}
