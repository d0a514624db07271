package events

import (
	"sync"
	"testing"
	"time"
)

func TestEventBus_Subscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewRunStartedEvent("run-1", "full", 3))

	select {
	case received := <-ch:
		if received.EventType() != TypeRunStarted {
			t.Errorf("expected %s, got %s", TypeRunStarted, received.EventType())
		}
		if received.RunID() != "run-1" {
			t.Errorf("expected run-1, got %s", received.RunID())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestEventBus_SubscribeByType(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	nodeCh := bus.Subscribe(TypeNodeStatus)
	allCh := bus.Subscribe()

	bus.Publish(NewRunStartedEvent("run-1", "full", 1))
	bus.Publish(NewNodeStatusEvent("run-1", "n1", "text", "running"))

	for i := 0; i < 2; i++ {
		select {
		case <-allCh:
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh should receive event %d", i)
		}
	}

	select {
	case received := <-nodeCh:
		if received.EventType() != TypeNodeStatus {
			t.Errorf("expected node_status, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("nodeCh should receive node event")
	}
	select {
	case e := <-nodeCh:
		t.Errorf("nodeCh should not receive %s", e.EventType())
	default:
	}
}

func TestEventBus_SubscribeForRun(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	chA := bus.SubscribeForRun("run-a")
	bus.Publish(NewNodeStatusEvent("run-a", "n1", "text", "success"))
	bus.Publish(NewNodeStatusEvent("run-b", "n1", "text", "success"))

	count := 0
drain:
	for {
		select {
		case e := <-chA:
			count++
			if e.RunID() != "run-a" {
				t.Errorf("received event for %s", e.RunID())
			}
		default:
			break drain
		}
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestEventBus_PriorityNeverDrops(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority()

	for i := 0; i < 100; i++ {
		bus.Publish(NewNodeStatusEvent("run-1", "n1", "text", "running"))
	}

	bus.PublishPriority(NewRunCompletedEvent("run-1", "success", time.Second))

	select {
	case received := <-priorityCh:
		if received.EventType() != TypeRunCompleted {
			t.Errorf("expected run_completed, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("priority event was dropped")
	}
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 10; i++ {
		bus.Publish(NewNodeStatusEvent("run-1", "n1", "text", "running"))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected some events to be dropped")
	}
	if len(ch) != 5 {
		t.Errorf("buffered events = %d, want 5", len(ch))
	}
}

func TestEventBus_ConcurrentPublish(t *testing.T) {
	bus := New(100)
	defer bus.Close()

	ch := bus.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewNodeStatusEvent("run-1", "n1", "text", "running"))
			}
		}()
	}
	wg.Wait()

	if len(ch) == 0 {
		t.Error("should have received some events")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestEventBus_NilAndClosed(t *testing.T) {
	var nilBus *EventBus
	nilBus.Publish(NewRunStartedEvent("run-1", "full", 1))
	nilBus.PublishPriority(NewRunCompletedEvent("run-1", "failed", 0))

	bus := New(1)
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()
	bus.Publish(NewRunStartedEvent("run-1", "full", 1))

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
}

func TestEventBus_PrioritySkipsRegularPublish(t *testing.T) {
	bus := New(5)
	defer bus.Close()

	priorityCh := bus.SubscribePriority()
	bus.Publish(NewRunCompletedEvent("run-1", "success", 0))
	if len(priorityCh) != 0 {
		t.Errorf("priority subscriber got %d regular events", len(priorityCh))
	}
}

func TestEventBus_SubscribeAfterClose(t *testing.T) {
	bus := New(1)
	bus.Close()

	ch := bus.SubscribeForRun("run-1")
	if _, ok := <-ch; ok {
		t.Error("subscription on a closed bus should be closed")
	}
	bus.Unsubscribe(ch)
}
