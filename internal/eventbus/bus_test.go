package eventbus

import "testing"

func TestPublishFiltersByPrefix(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	dispatch, unsubDispatch := b.Subscribe(4, "dispatch.")
	defer unsubDispatch()

	b.Publish(Event{Type: "dispatch.sent"})
	b.Publish(Event{Type: "config.reloaded"})

	if got := len(all); got != 2 {
		t.Fatalf("all subscriber got %d events, want 2", got)
	}
	if got := len(dispatch); got != 1 {
		t.Fatalf("dispatch subscriber got %d events, want 1", got)
	}
	if e := <-dispatch; e.Type != "dispatch.sent" || e.Time.IsZero() {
		t.Fatalf("event = %+v", e)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if len(ch) != 1 {
		t.Fatalf("buffer len = %d, want 1", len(ch))
	}
	unsub()
	unsub()
	b.Publish(Event{Type: "c"})
	if e := <-ch; e.Type != "a" {
		t.Fatalf("first event = %q, want a", e.Type)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
}
