package events

import "testing"

func TestEmitDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(4)
	defer b.Unsubscribe(ch)

	b.Emit(NewTraffic, Envelope{Status: "ok", Data: 42})

	select {
	case evt := <-ch:
		if evt.Name != NewTraffic || evt.Body.Data != 42 {
			t.Fatalf("got %#v", evt)
		}
	default:
		t.Fatal("expected event to be delivered")
	}
}

func TestEmitDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Emit(PauseTraffic, Envelope{Status: "ok"})
	b.Emit(PauseTraffic, Envelope{Status: "dropped"}) // buffer full, dropped, must not block

	evt := <-ch
	if evt.Body.Status != "ok" {
		t.Fatalf("expected first event to survive, got %#v", evt)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected no second event, got %#v", extra)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}
}
