package status

import (
	"testing"

	"github.com/cargomart/cargomart-go/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Disconnected},
		{Connected, Reconnecting},
		{Reconnecting, Connecting},
		{Connected, Closed},
		{Disconnected, Closed},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if err := m.Transition(Reconnecting); err == nil {
		t.Error("Transition(DISCONNECTED -> RECONNECTING) should fail")
	}
}

func TestClosedIsTerminal(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Closed); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Connecting); err == nil {
		t.Error("Transition(CLOSED -> CONNECTING) should fail")
	}
}

// TestReconnectCycle verifies the socket-drop loop:
// CONNECTED -> RECONNECTING -> CONNECTING -> CONNECTED.
func TestReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	for _, s := range []State{Reconnecting, Connecting, Connected} {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	var got []StatusChange
	b.Subscribe(bus.ConnectionStateChanged, func(evt bus.Event) {
		change, ok := evt.Payload.(StatusChange)
		if !ok {
			t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
		}
		got = append(got, change)
	})

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].From != Disconnected || got[0].To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", got[0].From, got[0].To)
	}
}

// walkTo transitions the machine to a target state via the canonical path.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected: {},
		Connecting:   {Connecting},
		Connected:    {Connecting, Connected},
		Reconnecting: {Connecting, Connected, Reconnecting},
		Closed:       {Closed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
