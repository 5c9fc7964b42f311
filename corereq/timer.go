package corereq

import (
	"container/heap"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("corereq")

// timerEntry is a single scheduled deadline in the Timer's heap, keyed by
// the request's opaque so it can be deregistered in O(log n) before it
// fires.
type timerEntry struct {
	opaque   uint32
	deadline time.Time
	request  Request
	index    int
}

// timerHeap is a min-heap over timerEntry.deadline with O(1) key lookup
// through byKey.
type timerHeap struct {
	entries []*timerEntry
	byKey   map[uint32]*timerEntry
}

func (h *timerHeap) Len() int { return len(h.entries) }
func (h *timerHeap) Less(i, j int) bool {
	return h.entries[i].deadline.Before(h.entries[j].deadline)
}
func (h *timerHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
	h.byKey[e.opaque] = e
}
func (h *timerHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.entries = old[:n-1]
	delete(h.byKey, e.opaque)
	return e
}

// Timer registers requests against their deadlines and cancels each one
// with CancelTimeout when its deadline passes. One Timer typically backs
// an entire Core.
type Timer struct {
	mu   sync.Mutex
	heap *timerHeap

	wake   chan struct{}
	stop   chan struct{}
	stopWg sync.WaitGroup
}

// NewTimer creates a Timer and starts its background expiry goroutine.
func NewTimer() *Timer {
	t := &Timer{
		heap: &timerHeap{byKey: make(map[uint32]*timerEntry)},
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	t.stopWg.Add(1)
	go t.run()
	return t
}

// Register schedules req to be cancelled with CancelTimeout at
// req.Deadline(). Registering an already-registered opaque replaces its
// prior deadline.
func (t *Timer) Register(req Request) {
	t.mu.Lock()
	if existing, ok := t.heap.byKey[req.Opaque()]; ok {
		existing.deadline = req.Deadline()
		existing.request = req
		heap.Fix(t.heap, existing.index)
	} else {
		heap.Push(t.heap, &timerEntry{opaque: req.Opaque(), deadline: req.Deadline(), request: req})
	}
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Deregister removes the pending deadline registered for opaque, if any.
// Nothing in this module calls it: a request that completes stays
// registered until its deadline, where the timeout Cancel is a no-op on
// an already-completed request.
func (t *Timer) Deregister(opaque uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.heap.byKey[opaque]; ok {
		heap.Remove(t.heap, e.index)
	}
}

// Close stops the Timer's background goroutine. Already-registered
// requests are left untouched; callers are expected to have already
// cancelled or completed them (e.g. via Core.Shutdown).
func (t *Timer) Close() {
	close(t.stop)
	t.stopWg.Wait()
}

func (t *Timer) run() {
	defer t.stopWg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		t.mu.Lock()
		var nextDelay time.Duration
		if t.heap.Len() == 0 {
			nextDelay = time.Hour
		} else {
			nextDelay = time.Until(t.heap.entries[0].deadline)
			if nextDelay < 0 {
				nextDelay = 0
			}
		}
		t.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(nextDelay)

		select {
		case <-t.stop:
			return
		case <-t.wake:
			continue
		case <-timer.C:
			t.expireDue()
		}
	}
}

// expireDue pops and cancels every entry whose deadline has passed.
func (t *Timer) expireDue() {
	now := time.Now()
	var due []*timerEntry

	t.mu.Lock()
	for t.heap.Len() > 0 && !t.heap.entries[0].deadline.After(now) {
		due = append(due, heap.Pop(t.heap).(*timerEntry))
	}
	t.mu.Unlock()

	for _, e := range due {
		log.Debugf("request %s timed out", OperationIDFromOpaque(e.opaque))
		e.request.Cancel(CancelTimeout)
	}
}

// Len reports the number of currently scheduled deadlines. Intended for
// tests and diagnostics.
func (t *Timer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.heap.Len()
}
