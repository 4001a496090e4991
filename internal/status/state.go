package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/mpp/internal/bus"
)

// State represents a connection lifecycle state.
type State string

const (
	Stopped    State = "STOPPED"
	Connecting State = "CONNECTING"
	Connected  State = "CONNECTED"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Stopped:    {Connecting},
	Connecting: {Connected, Stopped},
	Connected:  {Connecting, Stopped},
}

// Machine tracks and enforces the state of one account connection.
type Machine struct {
	mu      sync.RWMutex
	current State
	account string
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Stopped state.
func NewMachine(b *bus.Bus, accountID string) *Machine {
	return &Machine{
		current: Stopped,
		account: accountID,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	m.set(to)
	return nil
}

// CompareAndTransition moves to "to" only when the current state is "from".
func (m *Machine) CompareAndTransition(from, to State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != from || !slices.Contains(validTransitions[from], to) {
		return false
	}
	m.set(to)
	return true
}

// Stop forces the Stopped state from anywhere. It reports whether the state changed.
func (m *Machine) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == Stopped {
		return false
	}
	m.set(Stopped)
	return true
}

func (m *Machine) set(to State) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindConnectionState,
			Timestamp: time.Now(),
			Payload: StatusChange{
				Account: m.account,
				From:    from,
				To:      to,
			},
		})
	}
}

// StatusChange is the payload for connection state events.
type StatusChange struct {
	Account string
	From    State
	To      State
}
