package events

import "testing"

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewBus()

	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Publish(Event{Type: EventAlertCreated, AlertID: "OSP-2026-00001"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case event := <-ch:
			if event.Type != EventAlertCreated || event.AlertID != "OSP-2026-00001" {
				t.Errorf("%s: got %+v", name, event)
			}
			if event.Timestamp.IsZero() {
				t.Errorf("%s: timestamp not stamped", name)
			}
		default:
			t.Errorf("%s: no event delivered", name)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe("sub")
	bus.Unsubscribe("sub")

	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	if bus.SubscriberCount() != 0 {
		t.Fatalf("subscriber count: %d", bus.SubscriberCount())
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(Event{Type: EventScanCompleted})
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("slow")

	// Overfill the buffer; Publish must never block.
	for i := 0; i < 64; i++ {
		bus.Publish(Event{Type: EventAlertCreated})
	}

	delivered := 0
	for {
		select {
		case <-ch:
			delivered++
			continue
		default:
		}
		break
	}
	if delivered == 0 || delivered >= 64 {
		t.Errorf("delivered %d events, want a full-but-bounded buffer", delivered)
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	bus := NewBus()

	old := bus.Subscribe("dup")
	fresh := bus.Subscribe("dup")

	if _, ok := <-old; ok {
		t.Fatal("old channel not closed on resubscribe")
	}

	bus.Publish(Event{Type: EventRuleChanged})
	select {
	case event := <-fresh:
		if event.Type != EventRuleChanged {
			t.Errorf("got %+v", event)
		}
	default:
		t.Fatal("fresh channel got nothing")
	}
	if bus.SubscriberCount() != 1 {
		t.Fatalf("subscriber count: %d", bus.SubscriberCount())
	}
}
