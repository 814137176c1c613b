package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/twinbattle/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe("test.event", func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeRoundCompleted, func(e Event) {
		received = e
	})

	bus.Publish(NewRoundCompletedEvent("b1", 3, 2, 2, 1, 20, 20, 50, 40))

	if received == nil {
		t.Fatal("Handler should have received the event")
	}
	rc, ok := received.(RoundCompletedEvent)
	if !ok {
		t.Fatalf("received %T, want RoundCompletedEvent", received)
	}
	if rc.Round != 3 || rc.RedTotalScore != 50 || rc.BlueTotalScore != 40 || rc.VerifiedPatches != 1 {
		t.Errorf("unexpected payload %+v", rc)
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) { order = append(order, "wildcard") })
	bus.Subscribe("test.event", func(e Event) { order = append(order, "first") })
	bus.Subscribe("test.event", func(e Event) { order = append(order, "second") })

	bus.Publish(newBaseEvent("test.event"))

	want := []string{"first", "second", "wildcard"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("other.event", func(e Event) {
		t.Error("handler for other.event should not be called")
	})
	bus.Publish(newBaseEvent("test.event"))
}

func TestBus_PublishOnNilBus(t *testing.T) {
	var bus *Bus
	bus.Publish(NewRoundStartedEvent("b1", 1)) // must not panic
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	keep := bus.Subscribe("test.event", func(e Event) { calls++ })
	drop := bus.Subscribe("test.event", func(e Event) { calls += 100 })

	if !bus.Unsubscribe(drop) {
		t.Fatal("Unsubscribe should return true for a known ID")
	}
	if bus.Unsubscribe(drop) {
		t.Error("Unsubscribe should return false the second time")
	}
	bus.Publish(newBaseEvent("test.event"))
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !bus.Unsubscribe(keep) || bus.SubscriptionCount() != 0 {
		t.Error("expected no subscriptions left")
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("a", func(Event) {})
	bus.SubscribeAll(func(Event) {})
	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, "debug"))

	secondCalled := false
	bus.Subscribe("test.event", func(e Event) { panic("boom") })
	bus.Subscribe("test.event", func(e Event) { secondCalled = true })

	bus.Publish(newBaseEvent("test.event"))

	if !secondCalled {
		t.Error("second handler should run after the first panics")
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe("test.event", func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(newBaseEvent("test.event"))
		}()
	}
	wg.Wait()

	if count != 50 {
		t.Errorf("count = %d, want 50", count)
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := bus.Subscribe("x", func(Event) {})
		if seen[id] {
			t.Fatalf("duplicate subscription ID %q", id)
		}
		seen[id] = true
	}
}

func TestEventConstructors(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewBattleStartedEvent("b", "/t", "copy", 1, 5), TypeBattleStarted},
		{NewBattlePausedEvent("b", 2, "stop requested"), TypeBattlePaused},
		{NewBattleCompletedEvent("b", 5, 10, 20, "/r.md"), TypeBattleCompleted},
		{NewRoundStartedEvent("b", 1), TypeRoundStarted},
		{NewTwinRestoredEvent("b", 1, "red", 0, nil), TypeTwinRestored},
		{NewPhaseCompletedEvent("b", 1, "blue", "act", "2 patches"), TypePhaseCompleted},
		{NewCheckpointSavedEvent("b", 2), TypeCheckpointSaved},
	}
	for _, tt := range tests {
		if got := tt.event.EventType(); got != tt.want {
			t.Errorf("EventType() = %q, want %q", got, tt.want)
		}
		if tt.event.Timestamp().IsZero() {
			t.Errorf("%s has zero timestamp", tt.want)
		}
	}

	restored := NewTwinRestoredEvent("b", 1, "blue", 0, errTest("loadvm failed"))
	if restored.Err != "loadvm failed" {
		t.Errorf("TwinRestoredEvent.Err = %q", restored.Err)
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
