package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_PublishInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got []Type
	bus.SubscribeAll(func(e Event) { got = append(got, e.Type) })

	for _, typ := range []Type{AgentStart, TurnStart, MessageStart, MessageEnd, TurnEnd, AgentEnd} {
		bus.Publish(Event{Type: typ})
	}

	want := []Type{AgentStart, TurnStart, MessageStart, MessageEnd, TurnEnd, AgentEnd}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received Event
	unsub := bus.Subscribe(MessageEnd, func(e Event) { received = e })
	defer unsub()

	bus.Publish(Event{Type: TurnStart})
	bus.Publish(Event{Type: MessageEnd, Data: "m1"})

	if received.Type != MessageEnd {
		t.Errorf("Expected message_end, got %v", received.Type)
	}
	if received.Data != "m1" {
		t.Errorf("Expected 'm1', got %v", received.Data)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count int32
	unsub := bus.Subscribe(TurnEnd, func(e Event) { atomic.AddInt32(&count, 1) })
	other := bus.SubscribeAll(func(e Event) { atomic.AddInt32(&count, 10) })

	bus.Publish(Event{Type: TurnEnd})
	if atomic.LoadInt32(&count) != 11 {
		t.Errorf("Expected 11 before unsub, got %d", count)
	}

	unsub()
	other()

	bus.Publish(Event{Type: TurnEnd})
	if atomic.LoadInt32(&count) != 11 {
		t.Errorf("Expected still 11 after unsub, got %d", count)
	}
}

func TestBus_PublishAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(QueueUpdate, func(e Event) { wg.Done() })
	}
	bus.PublishAsync(Event{Type: QueueUpdate})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for async delivery")
	}
}

func TestBus_Stream(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	bus.Publish(Event{Type: ToolExecutionStart, Data: ToolExecutionStartData{ToolCallID: "c1", ToolName: "read"}})

	select {
	case msg := <-msgs:
		msg.Ack()
		if msg.Metadata.Get("type") != string(ToolExecutionStart) {
			t.Errorf("Expected type metadata, got %q", msg.Metadata.Get("type"))
		}
		var decoded struct {
			Type Type `json:"type"`
			Data struct {
				ToolName string `json:"toolName"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Data.ToolName != "read" {
			t.Errorf("Expected toolName read, got %q", decoded.Data.ToolName)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for streamed event")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	var count int32
	bus.SubscribeAll(func(e Event) { atomic.AddInt32(&count, 1) })

	if err := bus.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	bus.Publish(Event{Type: AgentStart})
	if atomic.LoadInt32(&count) != 0 {
		t.Errorf("Expected no delivery after close, got %d", count)
	}

	unsub := bus.Subscribe(AgentStart, func(Event) {})
	unsub()
}
