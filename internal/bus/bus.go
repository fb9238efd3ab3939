// Package bus provides the in-process publish/subscribe dispatcher that
// decouples task store mutations from reactive consumers. Events are a
// wake-up mechanism only: there is no persistence or replay, so every
// consumer must be safe to re-derive its decisions from store state.
package bus

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/planion/planion/pkg/models"
)

// Handler consumes a single event. Handlers for the same event run
// independently with no ordering guarantee between them; events for the same
// task are delivered in the order the store published them.
type Handler func(models.Event)

// queueSize bounds the per-task dispatch backlog. A consumer that falls this
// far behind loses events, which it must tolerate by re-deriving from the
// store.
const queueSize = 128

// Bus dispatches events to subscribers. Dispatch is fire-and-forget relative
// to the publisher: Publish returns without waiting for handlers. Per-task
// ordering is preserved by funneling each task's events through a dedicated
// dispatch queue.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[models.EventType][]Handler
	queues      map[string]chan models.Event
	closed      bool

	pending      sync.WaitGroup
	droppedCount atomic.Uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[models.EventType][]Handler),
		queues:      make(map[string]chan models.Event),
	}
}

// Subscribe registers a handler for an event type. Multiple handlers per
// type are allowed.
func (b *Bus) Subscribe(typ models.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[typ] = append(b.subscribers[typ], h)
}

// Publish dispatches the event to all subscribers registered for its type.
// It returns immediately. If the task's dispatch queue is full the event is
// dropped and counted; consumers recover by re-reading the store.
func (b *Bus) Publish(event models.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	q, ok := b.queues[event.TaskID]
	if !ok {
		q = make(chan models.Event, queueSize)
		b.queues[event.TaskID] = q
		go b.drain(q)
	}
	b.pending.Add(1)
	b.mu.Unlock()

	select {
	case q <- event:
	default:
		b.pending.Done()
		count := b.droppedCount.Add(1)
		if count%10 == 1 {
			log.Printf("[bus] WARNING: dispatch queue full for task %s, dropped event (total dropped: %d): type=%s",
				event.TaskID, count, event.Type)
		}
	}
}

// drain delivers events for a single task, one at a time and in order.
func (b *Bus) drain(q chan models.Event) {
	for event := range q {
		b.mu.RLock()
		handlers := make([]Handler, len(b.subscribers[event.Type]))
		copy(handlers, b.subscribers[event.Type])
		b.mu.RUnlock()

		for _, h := range handlers {
			b.invoke(h, event)
		}
		b.pending.Done()
	}
}

// invoke runs a handler, recovering panics so one misbehaving consumer
// cannot take down dispatch for the task.
func (b *Bus) invoke(h Handler, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[bus] handler panic on %s for task %s: %v", event.Type, event.TaskID, r)
		}
	}()
	h(event)
}

// DroppedCount returns the total number of events dropped due to backlog.
func (b *Bus) DroppedCount() uint64 {
	return b.droppedCount.Load()
}

// Flush blocks until every event published so far has been delivered.
// Intended for shutdown and tests.
func (b *Bus) Flush() {
	b.pending.Wait()
}

// Close flushes pending events and stops all dispatch queues. Publish after
// Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.pending.Wait()

	b.mu.Lock()
	for id, q := range b.queues {
		close(q)
		delete(b.queues, id)
	}
	b.mu.Unlock()
}
