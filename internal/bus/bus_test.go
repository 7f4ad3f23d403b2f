package bus

import "testing"

func TestPublishSubscribe(t *testing.T) {
	b := New()
	var got []Event
	unsub := b.Subscribe(ConnectionStateChanged, func(evt Event) {
		got = append(got, evt)
	})
	defer unsub()

	b.Publish(ConnectionStateChanged, "connected")

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Name != ConnectionStateChanged || got[0].Payload != "connected" {
		t.Errorf("event = %+v, want connection_state_changed/connected", got[0])
	}
}

func TestDeliveryInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := range 5 {
		b.Subscribe(Typing, func(Event) { order = append(order, i) })
	}

	b.Publish(Typing, nil)

	for i, v := range order {
		if v != i {
			t.Fatalf("delivery order = %v, want subscription order", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("got %d deliveries, want 5", len(order))
	}
}

func TestExactNameMatch(t *testing.T) {
	b := New()
	var calls int
	b.Subscribe(Typing, func(Event) { calls++ })

	b.Publish(QueuePosition, 3)
	b.Publish(Typing, nil)

	if calls != 1 {
		t.Errorf("got %d calls, want 1 (only the typing event)", calls)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var calls int
	unsub := b.Subscribe(Typing, func(Event) { calls++ })
	unsub()

	b.Publish(Typing, nil)

	if calls != 0 {
		t.Errorf("got %d calls after unsubscribe, want 0", calls)
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New()
	// Must not panic or block.
	b.Publish(CallReport, nil)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	b := New()
	var calls int
	var unsub func()
	unsub = b.Subscribe(Typing, func(Event) {
		calls++
		unsub()
	})
	b.Subscribe(Typing, func(Event) { calls++ })

	b.Publish(Typing, nil)
	b.Publish(Typing, nil)

	// First publish reaches both handlers, second only the survivor.
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestDuplicateDeliveryIsHarmless(t *testing.T) {
	b := New()
	seen := make(map[any]int)
	b.Subscribe(ContactsUpdate, func(evt Event) { seen[evt.Payload]++ })

	// The server may redeliver the same notification after a reconnect;
	// subscribers just reload, so double delivery only increments a counter.
	b.Publish(ContactsUpdate, "req-1")
	b.Publish(ContactsUpdate, "req-1")

	if seen["req-1"] != 2 {
		t.Errorf("deliveries = %d, want 2", seen["req-1"])
	}
}
