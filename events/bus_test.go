package events

import (
	"sync"
	"testing"
	"time"
)

type testEvent struct{ name string }

func (e testEvent) Name() string { return e.name }

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) OnEvent(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func waitForCount(t *testing.T, s *recordingSink, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.count() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, got %d", want, s.count())
}

func TestBusDeliversPublishedEventsToSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sink := &recordingSink{}
	b.Subscribe(sink)

	b.Publish(testEvent{name: "one"})
	b.Publish(testEvent{name: "two"})

	waitForCount(t, sink, 2)
	if sink.events[0].Name() != "one" || sink.events[1].Name() != "two" {
		t.Errorf("expected in-order delivery, got %+v", sink.events)
	}
}

func TestBusFansOutToEverySubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a, c := &recordingSink{}, &recordingSink{}
	b.Subscribe(a)
	b.Subscribe(c)

	b.Publish(testEvent{name: "broadcast"})

	waitForCount(t, a, 1)
	waitForCount(t, c, 1)
}

func TestBusPublishAfterCloseIsDropped(t *testing.T) {
	b := NewBus()
	b.Close()
	b.Drain()

	if ok := b.Publish(testEvent{name: "late"}); ok {
		t.Error("expected Publish to report false once the bus is closed")
	}
}

func TestBusPublishNilEventIsRejected(t *testing.T) {
	b := NewBus()
	defer b.Close()

	if ok := b.Publish(nil); ok {
		t.Error("expected Publish(nil) to report false")
	}
}

func TestBusDeliversQueuedEventsBeforeClosing(t *testing.T) {
	b := NewBus()
	sink := &recordingSink{}
	b.Subscribe(sink)

	for i := 0; i < 50; i++ {
		b.Publish(testEvent{name: "e"})
	}
	b.Close()
	b.Drain()

	if sink.count() != 50 {
		t.Errorf("expected all 50 queued events delivered before shutdown, got %d", sink.count())
	}
}

func TestBusSinkPanicDoesNotStopDispatch(t *testing.T) {
	b := NewBus()
	defer b.Close()

	b.Subscribe(panickingSink{})
	sink := &recordingSink{}
	b.Subscribe(sink)

	b.Publish(testEvent{name: "one"})
	waitForCount(t, sink, 1)
}

type panickingSink struct{}

func (panickingSink) OnEvent(Event) { panic("boom") }

func TestBusConcurrentPublishersAllDeliver(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sink := &recordingSink{}
	b.Subscribe(sink)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Publish(testEvent{name: "e"})
			}
		}()
	}
	wg.Wait()

	waitForCount(t, sink, 200)
}
