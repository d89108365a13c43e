package timezone

import (
	"context"
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// Table is the loaded-timezone handle passed to every date computation.
// Until Load has completed, Loaded reports false and dependent work is
// expected to no-op and retry later.
type Table struct {
	mu     sync.RWMutex
	names  []string
	zones  map[string]*time.Location
	loaded bool
}

// NewTable prepares a table for the given IANA names. "UTC" and "Local"
// are always available.
func NewTable(names ...string) *Table {
	return &Table{
		names: names,
		zones: map[string]*time.Location{
			"UTC":   time.UTC,
			"Local": time.Local,
		},
	}
}

// Load resolves every registered name once. Unknown names are logged and
// skipped so one bad zone does not block the whole calendar.
func (t *Table) Load(ctx context.Context) error {
	for _, name := range t.names {
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "" {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			appLog.Error("timezone load failed", err, "name", name)
			continue
		}
		t.mu.Lock()
		t.zones[name] = loc
		t.mu.Unlock()
	}

	t.mu.Lock()
	t.loaded = true
	n := len(t.zones)
	t.mu.Unlock()

	appLog.Info("timezone table loaded", "zones", n)
	return nil
}

func (t *Table) Loaded() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

// Location returns the zone for name. An empty name yields (nil, nil),
// meaning "use times as given".
func (t *Table) Location(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	t.mu.RLock()
	loc, ok := t.zones[name]
	t.mu.RUnlock()
	if ok {
		return loc, nil
	}

	// Names seen after startup are resolved lazily and remembered.
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timezone: unknown zone %q: %w", name, err)
	}
	t.mu.Lock()
	t.zones[name] = loc
	t.mu.Unlock()
	return loc, nil
}

// Convert reads the wall clock of v in zone from and returns the same
// instant expressed in zone to. Empty zone names leave that side untouched.
func (t *Table) Convert(v time.Time, from, to string) time.Time {
	src, err := t.Location(from)
	if err != nil {
		appLog.Warn("timezone: keeping time as given", "zone", from, "err", err)
	}
	if src != nil {
		v = time.Date(v.Year(), v.Month(), v.Day(), v.Hour(), v.Minute(), v.Second(), v.Nanosecond(), src)
	}

	dst, err := t.Location(to)
	if err != nil {
		appLog.Warn("timezone: keeping time as given", "zone", to, "err", err)
	}
	if dst != nil {
		v = v.In(dst)
	}
	return v
}

// Normalize fills the appointment's actual start/end for display zone.
// All-day appointments keep their dates untouched.
func (t *Table) Normalize(a *model.Appointment, display string) {
	if a.IsAllDay {
		a.ActualStartTime = model.DateOf(a.StartTime)
		a.ActualEndTime = model.DateOf(a.EndTime)
		if a.ActualEndTime.Before(a.ActualStartTime) {
			a.ActualEndTime = a.ActualStartTime
		}
		return
	}

	endZone := a.EndTimeZone
	if endZone == "" {
		endZone = a.StartTimeZone
	}
	a.ActualStartTime = t.Convert(a.StartTime, a.StartTimeZone, display)
	a.ActualEndTime = t.Convert(a.EndTime, endZone, display)
	if a.ActualEndTime.Before(a.ActualStartTime) {
		a.ActualEndTime = a.ActualStartTime
	}
}

// NormalizeRegion is Normalize for time regions.
func (t *Table) NormalizeRegion(r *model.TimeRegion, display string) {
	r.ActualStartTime = t.Convert(r.StartTime, r.TimeZone, display)
	r.ActualEndTime = t.Convert(r.EndTime, r.TimeZone, display)
	if r.ActualEndTime.Before(r.ActualStartTime) {
		r.ActualEndTime = r.ActualStartTime
	}
}
