package datasource

import (
	"fmt"

	"calview/internal/model"
)

// Action is the kind of change a data source reports.
type Action int

const (
	ActionAdd Action = iota
	ActionRemove
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionReset:
		return "reset"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Change is one notification from a data source. For ActionRemove only the
// appointment IDs matter.
type Change struct {
	Action       Action
	Appointments []*model.Appointment
}

// Collection is the raw appointment set the calendar reads from. Items are
// kept in insertion order; Add with a known ID replaces in place.
type Collection struct {
	items []*model.Appointment
	index map[string]int
}

func NewCollection(appts []*model.Appointment) *Collection {
	c := &Collection{}
	c.reset(appts)
	return c
}

func (c *Collection) reset(appts []*model.Appointment) {
	c.items = make([]*model.Appointment, 0, len(appts))
	c.index = make(map[string]int, len(appts))
	c.add(appts)
}

func (c *Collection) add(appts []*model.Appointment) {
	for _, a := range appts {
		if a == nil {
			continue
		}
		a = a.Clone()
		if i, ok := c.index[a.ID]; ok && a.ID != "" {
			c.items[i] = a
			continue
		}
		c.index[a.ID] = len(c.items)
		c.items = append(c.items, a)
	}
}

func (c *Collection) remove(appts []*model.Appointment) {
	drop := make(map[string]bool, len(appts))
	for _, a := range appts {
		if a != nil {
			drop[a.ID] = true
		}
	}
	kept := c.items[:0]
	for _, a := range c.items {
		if !drop[a.ID] {
			kept = append(kept, a)
		}
	}
	// Clear the tail so removed appointments can be collected.
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = nil
	}
	c.items = kept
	c.index = make(map[string]int, len(kept))
	for i, a := range kept {
		c.index[a.ID] = i
	}
}

// Apply folds a change into the collection.
func (c *Collection) Apply(ch Change) error {
	if c.index == nil {
		c.reset(nil)
	}
	switch ch.Action {
	case ActionAdd:
		c.add(ch.Appointments)
	case ActionRemove:
		c.remove(ch.Appointments)
	case ActionReset:
		c.reset(ch.Appointments)
	default:
		return fmt.Errorf("datasource: unsupported action %s", ch.Action)
	}
	return nil
}

// Appointments returns clones of the current items.
func (c *Collection) Appointments() []*model.Appointment {
	out := make([]*model.Appointment, len(c.items))
	for i, a := range c.items {
		out[i] = a.Clone()
	}
	return out
}

func (c *Collection) Len() int { return len(c.items) }
