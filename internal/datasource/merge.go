package datasource

import (
	"slices"
	"sync"

	"calview/internal/model"
)

// Merger combines several named sources into one appointment set. Each Set
// replaces one source's share and returns a reset carrying the union,
// ordered by source name. On ID clashes the later source wins.
type Merger struct {
	mu   sync.Mutex
	sets map[string][]*model.Appointment
}

func NewMerger() *Merger {
	return &Merger{sets: make(map[string][]*model.Appointment)}
}

// Set replaces the appointments of source name. A nil slice drops it.
func (m *Merger) Set(name string, appts []*model.Appointment) Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	if appts == nil {
		delete(m.sets, name)
	} else {
		m.sets[name] = appts
	}

	names := make([]string, 0, len(m.sets))
	for n := range m.sets {
		names = append(names, n)
	}
	slices.Sort(names)

	c := NewCollection(nil)
	for _, n := range names {
		c.add(m.sets[n])
	}
	return Change{Action: ActionReset, Appointments: c.items}
}

// Sources lists the names currently contributing appointments.
func (m *Merger) Sources() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sets))
	for n := range m.sets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
