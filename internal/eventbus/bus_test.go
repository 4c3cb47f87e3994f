package eventbus

import (
	"testing"
)

func TestPublishFiltersByPrefix(t *testing.T) {
	t.Parallel()
	b := New()
	alarms, unsubA := b.Subscribe(4, "alarm.")
	defer unsubA()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: AlarmFired, Data: AlarmEvent{ID: "wake_7_0", OK: true}})
	b.Publish(Event{Type: ConfigReloaded})

	e := <-alarms
	if e.Type != AlarmFired || e.Time.IsZero() {
		t.Fatalf("alarm subscriber got %+v", e)
	}
	select {
	case e := <-alarms:
		t.Fatalf("alarm subscriber got unexpected %s", e.Type)
	default:
	}
	if got := len(all); got != 2 {
		t.Fatalf("catch-all subscriber has %d events, want 2", got)
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	if e := <-ch; e.Type != "a" {
		t.Fatalf("kept %q, want the first event", e.Type)
	}

	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after unsubscribe")
	}
	// publishing after unsubscribe must not panic
	b.Publish(Event{Type: "c"})
}
