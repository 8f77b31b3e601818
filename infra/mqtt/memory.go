package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilianp07/parlock/core/unitbus"
)

// Sent is one command recorded by a MemoryBus.
type Sent struct {
	Command unitbus.Command
	UnitID  string
}

// MemoryBus is an in-process unitbus.Bus. Units listed in Units answer
// register queries, commands are recorded, and doors report closed right
// after an unlock unless DoorsStayOpen is set. It backs dry runs without a
// broker and tests.
type MemoryBus struct {
	mu            sync.Mutex
	Units         []string
	FailIDs       map[string]bool
	DoorsStayOpen bool
	sent          []Sent
	onRegister    func(string)
	closed        map[string]bool
}

var (
	_ unitbus.Bus        = (*MemoryBus)(nil)
	_ unitbus.DoorSensor = (*MemoryBus)(nil)
)

// NewMemoryBus returns a bus whose units answer register queries.
func NewMemoryBus(units ...string) *MemoryBus {
	return &MemoryBus{Units: units, FailIDs: map[string]bool{}, closed: map[string]bool{}}
}

func (m *MemoryBus) OnRegister(fn func(string)) {
	m.mu.Lock()
	m.onRegister = fn
	m.mu.Unlock()
}

// QueryRegister replays a register reply for every unit, twice, the way a
// unit that hears the broadcast and its own retry would.
func (m *MemoryBus) QueryRegister(context.Context) error {
	m.mu.Lock()
	fn := m.onRegister
	units := append([]string(nil), m.Units...)
	m.sent = append(m.sent, Sent{Command: unitbus.Register})
	m.mu.Unlock()
	if fn == nil {
		return nil
	}
	for _, id := range units {
		fn(id)
		fn(id)
	}
	return nil
}

func (m *MemoryBus) record(cmd unitbus.Command, unitID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[unitID] {
		return fmt.Errorf("%s %s: publish failed", cmd, unitID)
	}
	m.sent = append(m.sent, Sent{Command: cmd, UnitID: unitID})
	switch cmd {
	case unitbus.Unlock:
		m.closed[unitID] = !m.DoorsStayOpen
	case unitbus.Lock:
		delete(m.closed, unitID)
	}
	return nil
}

func (m *MemoryBus) Unlock(_ context.Context, unitID string) error {
	return m.record(unitbus.Unlock, unitID)
}

func (m *MemoryBus) Lock(_ context.Context, unitID string) error {
	return m.record(unitbus.Lock, unitID)
}

// WaitClosed returns at once when the door was closed after the last
// unlock, otherwise it waits for ctx.
func (m *MemoryBus) WaitClosed(ctx context.Context, unitID string) error {
	m.mu.Lock()
	closed := m.closed[unitID]
	m.mu.Unlock()
	if closed {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Sent returns the recorded commands in order.
func (m *MemoryBus) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

func (m *MemoryBus) Close() error { return nil }
