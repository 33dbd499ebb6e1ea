package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, TaskDispatched)

	bus.Publish(New(TaskDispatched, "task_1", "agent-1", "dispatched", nil))
	bus.Publish(New(TaskStatusChanged, "task_1", "", "inbox -> assigned", nil))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != TaskDispatched {
		t.Errorf("expected task_dispatched, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(New(TaskCreated, "task_1", "", "created", nil))
	bus.Publish(New(TaskCompleted, "task_1", "agent-1", "done", nil))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	unsub := bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	unsub()

	bus.Publish(New(TaskCreated, "task_1", "", "created", nil))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("expected 0 events after unsubscribe, got %d", count)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(New(TaskStatusChanged, "task_1", "", "change", nil))
	}

	got := rb.Get(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	bus.Publish(New(TaskCreated, "task_1", "", "created", nil))
	bus.Publish(New(TaskDispatched, "task_1", "agent-1", "dispatched", nil))

	history := bus.History(10)
	if len(history) != 2 {
		t.Fatalf("expected 2 events in history, got %d", len(history))
	}
	if history[0].Type != TaskCreated || history[1].Type != TaskDispatched {
		t.Errorf("history out of order: %v, %v", history[0].Type, history[1].Type)
	}
}
