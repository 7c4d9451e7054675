package status

import (
	"errors"
	"testing"
)

func TestSubscribeDeliversCurrentStateOnce(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(StateConnecting, nil)

	var got []StateEvent
	unsub := b.Subscribe(func(ev StateEvent) { got = append(got, ev) })
	defer unsub()

	if len(got) != 1 {
		t.Fatalf("expected 1 initial event, got %d", len(got))
	}
	if got[0].Old != StateConnecting || got[0].New != StateConnecting {
		t.Fatalf("unexpected initial event: %+v", got[0])
	}
}

func TestPublishNotifiesInSubscriptionOrder(t *testing.T) {
	b := NewBroadcaster()

	var order []string
	unsubA := b.Subscribe(func(ev StateEvent) {
		if ev.Old != ev.New {
			order = append(order, "a")
		}
	})
	defer unsubA()
	unsubB := b.Subscribe(func(ev StateEvent) {
		if ev.Old != ev.New {
			order = append(order, "b")
		}
	})
	defer unsubB()

	b.Publish(StateConnecting, nil)
	b.Publish(StateConnected, nil)

	want := []string{"a", "b", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("expected %d notifications, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("wrong order: %v", order)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()

	count := 0
	unsub := b.Subscribe(func(ev StateEvent) {
		if ev.Old != ev.New {
			count++
		}
	})

	b.Publish(StateConnecting, nil)
	unsub()
	unsub() // second call is harmless
	b.Publish(StateConnected, nil)

	if count != 1 {
		t.Fatalf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestPublishSameStateIsNoOp(t *testing.T) {
	b := NewBroadcaster()

	transitions := 0
	defer b.Subscribe(func(ev StateEvent) {
		if ev.Old != ev.New {
			transitions++
		}
	})()

	b.Publish(StateDisconnected, nil)
	b.Publish(StateDisconnected, errors.New("ignored"))

	if transitions != 0 {
		t.Fatalf("expected no transitions, got %d", transitions)
	}
}

func TestPublishCarriesCause(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(StateConnected, nil)

	cause := errors.New("abnormal close")
	var got StateEvent
	defer b.Subscribe(func(ev StateEvent) { got = ev })()

	b.Publish(StateDisconnected, cause)

	if got.New != StateDisconnected || !errors.Is(got.Err, cause) {
		t.Fatalf("unexpected event: %+v", got)
	}
}
