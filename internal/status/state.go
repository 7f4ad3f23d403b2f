// Package status tracks the lifecycle of the realtime connection.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cargomart/cargomart-go/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. RECONNECTING is only
// reachable from CONNECTED: a socket drop during the initial dial stays in
// CONNECTING and retries there. CLOSED is terminal and reachable from
// anywhere via a deliberate Close.
var validTransitions = map[State][]State{
	Disconnected: {Connecting, Closed},
	Connecting:   {Connected, Connecting, Disconnected, Closed},
	Connected:    {Reconnecting, Closed},
	Reconnecting: {Connecting, Closed},
	Closed:       {},
}

// Machine enforces connection state transitions and announces each change
// on the bus so UI indicators (typing banners, queue position, the passive
// "reconnecting" chip) can follow liveness.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// StatusChange is the payload published with every transition.
type StatusChange struct {
	From State
	To   State
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition moves to a new state or fails if the transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.ConnectionStateChanged, StatusChange{From: from, To: to})
	}
	return nil
}
