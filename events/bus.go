// Package events implements the typed event bus every dispatch and
// reconciliation operation publishes to. The bus itself is ambient
// infrastructure; concrete sinks (log exporters, tracing pipelines) are
// external collaborators registered as EventSinks.
package events

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("events")

// Event is any value published to the bus. Concrete event types live in
// this package's event_types.go.
type Event interface {
	Name() string
}

// EventSink receives events fanned out by the bus's dispatch goroutine.
// A sink must not block for long; the bus has exactly one dispatcher and
// a slow sink delays every other sink.
type EventSink interface {
	OnEvent(Event)
}

// eventNode is a single element of the bus's internal lock-free queue.
type eventNode struct {
	value Event
	next  atomic.Pointer[eventNode]
}

// Bus is a multi-producer/single-consumer event queue: any number of
// goroutines may Publish concurrently; one internal goroutine drains the
// queue and fans each event out to every subscribed EventSink in
// registration order. Ordering across publishers is not guaranteed, only
// that each publisher's own events are delivered in the order it
// published them.
type Bus struct {
	head atomic.Pointer[eventNode]
	tail atomic.Pointer[eventNode]

	closed atomic.Bool
	done   sync.WaitGroup

	mu   sync.Mutex
	cond *sync.Cond

	sinksMu sync.RWMutex
	sinks   []EventSink
}

// NewBus creates a Bus and starts its dispatch goroutine.
func NewBus() *Bus {
	sentinel := &eventNode{}
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	b.head.Store(sentinel)
	b.tail.Store(sentinel)

	b.done.Add(1)
	go b.dispatch()

	return b
}

// Subscribe registers sink to receive every event published from now on.
func (b *Bus) Subscribe(sink EventSink) {
	b.sinksMu.Lock()
	defer b.sinksMu.Unlock()
	b.sinks = append(b.sinks, sink)
}

// Publish enqueues an event for delivery. It returns false if the bus is
// closed; the event is dropped in that case.
func (b *Bus) Publish(evt Event) bool {
	if evt == nil {
		return false
	}
	if b.closed.Load() {
		return false
	}

	newNode := &eventNode{value: evt}

	var backoff uint8
	for {
		tailNode := b.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				b.tail.CompareAndSwap(tailNode, newNode)
				b.cond.Signal()
				return true
			}
		} else {
			b.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// dispatch drains the queue and fans events out to every subscribed sink.
func (b *Bus) dispatch() {
	defer b.done.Done()

	for {
		hadItems := false

		for {
			head := b.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hadItems = true

			evt := next.value
			b.head.Store(next)
			next.value = nil

			b.sinksMu.RLock()
			sinks := b.sinks
			b.sinksMu.RUnlock()
			for _, sink := range sinks {
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Errorf("event sink panicked handling %s: %v", evt.Name(), r)
						}
					}()
					sink.OnEvent(evt)
				}()
			}
		}

		if !hadItems && b.closed.Load() {
			return
		}

		if !hadItems {
			b.mu.Lock()
			head := b.head.Load()
			if head.next.Load() == nil && !b.closed.Load() {
				b.cond.Wait()
			}
			b.mu.Unlock()
		}
	}
}

// Close stops accepting new events. Events already queued are still
// delivered before the dispatch goroutine exits. Close does not block for
// drain; use Drain for that.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.cond.Signal()
}

// Drain blocks until every already-published event has been delivered
// and the dispatch goroutine has exited. Close must be called first.
func (b *Bus) Drain() {
	b.done.Wait()
}
