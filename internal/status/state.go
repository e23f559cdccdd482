package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/brunakemp/juschat/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. AuthRequired is
// reachable from any connected state because the backend can invalidate a
// token at any time (401 on any call).
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Syncing, AuthRequired, Error},
	Syncing:      {Ready, Degraded, AuthRequired, Error},
	Ready:        {Degraded, AuthRequired, Error},
	Degraded:     {Ready, Connecting, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind: "session.status_changed",
			At:   time.Now(),
			Data: StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
