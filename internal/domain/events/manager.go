// Package events registers for device notifications and tracks which of them
// have already been applied, so that stale notifications are not replayed on
// the next launch.
package events

import (
	"sort"

	"github.com/edumarques81/yoganc/internal/infra/vpc"
	"github.com/rs/zerolog/log"
)

// Status is the subscription state of a device class.
type Status int

const (
	Unregistered Status = iota
	Registering
	Open
	Closed
)

func (s Status) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// State is the persisted subscription state of one device class.
type State struct {
	Open         bool
	Acknowledged map[uint32]bool
	Known        map[uint32]vpc.Value
}

// Store persists subscription state between launches.
type Store interface {
	LoadEvents(class string) (State, error)
	SaveEvents(class string, st State) error
}

// Registrar issues the subscribe call against the device.
type Registrar interface {
	RegisterForEvents(codes []uint32) bool
}

// Handler applies an event. It returns true when the event state was
// presented, which marks the code as acknowledged.
type Handler func(code uint32, desc Descriptor, payload vpc.Value) bool

// Manager owns the subscription of a single device class. It is not safe for
// concurrent use; the session actor serializes all calls.
type Manager struct {
	reg     Registrar
	class   string
	table   Table
	known   bool
	status  Status
	handler Handler

	wasOpen  bool
	ack      map[uint32]bool
	payloads map[uint32]vpc.Value
	replayed map[uint32]bool
}

// NewManager creates a manager for class, restoring state from st when non-nil.
func NewManager(reg Registrar, class string, st Store, handler Handler) *Manager {
	table, ok := TableFor(class)
	m := &Manager{
		reg:      reg,
		class:    class,
		table:    table,
		known:    ok,
		handler:  handler,
		ack:      make(map[uint32]bool),
		payloads: make(map[uint32]vpc.Value),
		replayed: make(map[uint32]bool),
	}
	if st == nil || !ok {
		return m
	}

	saved, err := st.LoadEvents(class)
	if err != nil {
		log.Warn().Err(err).Str("class", class).Msg("Failed to load event state")
		return m
	}
	m.wasOpen = saved.Open
	for code, v := range saved.Acknowledged {
		if table.Contains(code) {
			m.ack[code] = v
		}
	}
	for code, v := range saved.Known {
		if table.Contains(code) {
			m.payloads[code] = v
		}
	}
	return m
}

// Class returns the device class tag.
func (m *Manager) Class() string { return m.class }

// Status returns the current subscription state.
func (m *Manager) Status() Status { return m.status }

// IsOpen reports whether the subscription is usable.
func (m *Manager) IsOpen() bool { return m.status == Open }

// WasOpen reports whether the class was open when state was last saved.
func (m *Manager) WasOpen() bool { return m.wasOpen }

// Table returns the event table of the class.
func (m *Manager) Table() Table { return m.table }

// RegisterNotification subscribes to the class event table and reports
// whether the subscription is open. Calling it again while open is a no-op.
func (m *Manager) RegisterNotification() bool {
	if !m.known {
		log.Error().Str("class", m.class).Msg("Unknown device class, events disabled")
		return false
	}
	if m.status == Open {
		return true
	}

	m.status = Registering
	if !m.reg.RegisterForEvents(m.table.Codes) {
		log.Warn().Str("class", m.class).Msg("Event registration rejected")
		m.status = Unregistered
		return false
	}
	m.status = Open
	log.Info().Str("class", m.class).Int("codes", len(m.table.Codes)).Msg("Registered for events")
	return true
}

// LoadEvents replays the last known state of every code that has not been
// acknowledged yet. Each code is replayed at most once per session.
func (m *Manager) LoadEvents() int {
	if m.status != Open {
		log.Debug().Str("class", m.class).Str("status", m.status.String()).Msg("Skip loadEvents")
		return 0
	}

	n := 0
	for _, code := range m.table.Codes {
		payload, ok := m.payloads[code]
		if !ok || m.ack[code] || m.replayed[code] {
			continue
		}
		m.replayed[code] = true
		desc, _ := m.table.Lookup(code)
		if m.handler != nil {
			m.handler(code, desc, payload)
		}
		m.ack[code] = true
		n++
	}
	if n > 0 {
		log.Info().Str("class", m.class).Int("replayed", n).Msg("Replayed pending events")
	}
	return n
}

// Handle dispatches a notification received from the device.
func (m *Manager) Handle(n vpc.Notification) bool {
	if m.status != Open {
		log.Debug().Uint32("code", n.Code).Msg("Event ignored, subscription not open")
		return false
	}
	desc, ok := m.table.Lookup(n.Code)
	if !ok {
		log.Debug().Uint32("code", n.Code).Str("class", m.class).Msg("Unknown event")
		return false
	}

	m.payloads[n.Code] = n.Payload
	handled := false
	if m.handler != nil {
		handled = m.handler(n.Code, desc, n.Payload)
	}
	m.ack[n.Code] = handled
	return handled
}

// Acknowledged reports whether code has been acknowledged.
func (m *Manager) Acknowledged(code uint32) bool { return m.ack[code] }

// Pending returns the codes with a known state that is not acknowledged yet.
func (m *Manager) Pending() []uint32 {
	var out []uint32
	for code := range m.payloads {
		if !m.ack[code] {
			out = append(out, code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close marks the subscription closed. Acknowledgement state is kept.
func (m *Manager) Close() {
	if m.status == Closed {
		return
	}
	log.Debug().Str("class", m.class).Msg("Event subscription closed")
	m.status = Closed
}

// Save writes the subscription state to st.
func (m *Manager) Save(st Store) error {
	if !m.known {
		return nil
	}
	state := State{
		Open:         m.status == Open,
		Acknowledged: make(map[uint32]bool, len(m.ack)),
		Known:        make(map[uint32]vpc.Value, len(m.payloads)),
	}
	for code, v := range m.ack {
		state.Acknowledged[code] = v
	}
	for code, v := range m.payloads {
		state.Known[code] = v
	}
	return st.SaveEvents(m.class, state)
}
