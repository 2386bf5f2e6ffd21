package realtime

import "testing"

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(1)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelB()

	if n := h.Publish(Event{Name: EventChatMessage, Payload: "hi"}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if ev := <-a; ev.Name != EventChatMessage || ev.Payload != "hi" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// b has not drained its buffer, so the next event is dropped for it only.
	if n := h.Publish(Event{Name: EventPoll}); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
	<-b

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		// drain the buffered poll event, the channel must then be closed
		if _, ok := <-a; ok {
			t.Fatalf("channel should be closed after cancel")
		}
	}
	if h.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", h.Subscribers())
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	h.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	cancel()

	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscribing to a closed hub yields a closed channel")
	}
	if h.Publish(Event{Name: EventPoll}) != 0 {
		t.Fatalf("closed hub delivers nothing")
	}
}
