package events

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(KindStateChanged, func(e Event) {
		received <- e
	})

	at := time.Now().UTC()
	bus.Publish(StateChanged{Path: "state/workflow.json", At: at})

	select {
	case e := <-received:
		sc, ok := e.(StateChanged)
		if !ok {
			t.Fatalf("event = %T, want StateChanged", e)
		}
		if sc.Path != "state/workflow.json" || !sc.At.Equal(at) {
			t.Errorf("event = %+v", sc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestBus_KindIsolation(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(KindAuditAppended, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(StateChanged{Path: "state/workflow.json"})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 0 {
		t.Errorf("audit subscriber received %d state events", len(got))
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 10)
	unsubscribe := bus.Subscribe(KindStateChanged, func(e Event) {
		received <- e
	})
	unsubscribe()

	bus.Publish(StateChanged{Path: "x"})
	select {
	case <-received:
		t.Error("unsubscribed subscriber received an event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SubscriberPanicContained(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(KindStateChanged, func(Event) {
		panic("bad subscriber")
	})
	bus.Subscribe(KindStateChanged, func(e Event) {
		received <- e
	})

	bus.Publish(StateChanged{Path: "x"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("panicking sibling starved the healthy subscriber")
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(KindStateChanged, func(Event) {
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(StateChanged{Path: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	close(block)
}
