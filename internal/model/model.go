package model

import (
	"fmt"
	"strings"
	"time"
)

// Appointment is the canonical shape every data source is normalized into.
type Appointment struct {
	ID       string
	Subject  string
	Notes    string
	Location string
	Color    string

	// StartTime / EndTime are wall-clock times in StartTimeZone / EndTimeZone.
	// An empty zone means the times are used as given.
	StartTime     time.Time
	EndTime       time.Time
	StartTimeZone string
	EndTimeZone   string

	// IsAllDay appointments cover whole dates; their EndTime is the last
	// covered date, inclusive. Timed appointments end exclusively at EndTime.
	IsAllDay bool

	RecurrenceRule           string
	RecurrenceExceptionDates []time.Time
	// IsOccurrence marks a concrete instance expanded from a recurring master.
	IsOccurrence bool
	// RecurrenceID links a changed occurrence to its parent appointment.
	RecurrenceID string

	ResourceIDs []string

	// Data references the user object this appointment was built from.
	Data any

	// ActualStartTime / ActualEndTime are the display-zone normalized times
	// used for layout. They are rewritten on timezone change and expansion.
	ActualStartTime time.Time
	ActualEndTime   time.Time
}

// Clone returns a copy whose slices do not alias a.
func (a *Appointment) Clone() *Appointment {
	c := *a
	if a.RecurrenceExceptionDates != nil {
		c.RecurrenceExceptionDates = append([]time.Time(nil), a.RecurrenceExceptionDates...)
	}
	if a.ResourceIDs != nil {
		c.ResourceIDs = append([]string(nil), a.ResourceIDs...)
	}
	return &c
}

// IsRecurring reports whether the appointment is a recurrence master.
func (a *Appointment) IsRecurring() bool {
	return a.RecurrenceRule != "" && a.RecurrenceID == "" && !a.IsOccurrence
}

// StartDate is the first calendar date the appointment covers.
func (a *Appointment) StartDate() time.Time {
	return DateOf(a.ActualStartTime)
}

// EndDate is the last calendar date the appointment covers. A timed
// appointment ending exactly at midnight does not cover that date.
func (a *Appointment) EndDate() time.Time {
	e := a.ActualEndTime
	if !a.IsAllDay && e.After(a.ActualStartTime) && e.Equal(DateOf(e)) {
		return DateOf(e.AddDate(0, 0, -1))
	}
	if e.Before(a.ActualStartTime) {
		return a.StartDate()
	}
	return DateOf(e)
}

// IsSpanned reports a timed appointment that crosses at least one midnight.
func (a *Appointment) IsSpanned() bool {
	if a.IsAllDay {
		return false
	}
	return a.StartDate().Before(a.EndDate())
}

// HasResource reports whether id is one of the appointment's resources.
func (a *Appointment) HasResource(id string) bool {
	for _, r := range a.ResourceIDs {
		if r == id {
			return true
		}
	}
	return false
}

// TimeRegion is a blocked or labeled span such as a lunch break.
type TimeRegion struct {
	StartTime time.Time
	EndTime   time.Time
	TimeZone  string

	Text  string
	Color string

	RecurrenceRule           string
	RecurrenceExceptionDates []time.Time
	ResourceIDs              []string

	EnablePointerInteraction bool

	ActualStartTime time.Time
	ActualEndTime   time.Time
}

func (r *TimeRegion) Clone() *TimeRegion {
	c := *r
	if r.RecurrenceExceptionDates != nil {
		c.RecurrenceExceptionDates = append([]time.Time(nil), r.RecurrenceExceptionDates...)
	}
	if r.ResourceIDs != nil {
		c.ResourceIDs = append([]string(nil), r.ResourceIDs...)
	}
	return &c
}

// Resource is a row in resource-grouped views.
type Resource struct {
	ID          string
	DisplayName string
	Color       string
}

// AppointmentView is a per-render layout slot. EndIndex is exclusive.
type AppointmentView struct {
	Appointment  *Appointment
	StartIndex   int
	EndIndex     int
	Position     int
	MaxPositions int
}

// Intersects reports whether the index ranges of v and o overlap.
func (v *AppointmentView) Intersects(o *AppointmentView) bool {
	return v.StartIndex < o.EndIndex && o.StartIndex < v.EndIndex
}

type View int

const (
	ViewDay View = iota
	ViewWeek
	ViewWorkWeek
	ViewMonth
	ViewTimelineDay
	ViewTimelineWeek
	ViewTimelineWorkWeek
	ViewTimelineMonth
	ViewSchedule
)

var viewNames = []string{
	"day",
	"week",
	"workWeek",
	"month",
	"timelineDay",
	"timelineWeek",
	"timelineWorkWeek",
	"timelineMonth",
	"schedule",
}

func (v View) String() string {
	if int(v) < 0 || int(v) >= len(viewNames) {
		return fmt.Sprintf("View(%d)", int(v))
	}
	return viewNames[v]
}

// ParseView accepts the names produced by String, case-insensitively.
func ParseView(s string) (View, error) {
	for i, n := range viewNames {
		if strings.EqualFold(n, s) {
			return View(i), nil
		}
	}
	return ViewDay, fmt.Errorf("model: unknown view %q", s)
}

// IsTimeline reports the horizontal timeline variants.
func (v View) IsTimeline() bool {
	switch v {
	case ViewTimelineDay, ViewTimelineWeek, ViewTimelineWorkWeek, ViewTimelineMonth:
		return true
	}
	return false
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDate compares calendar dates, ignoring the clock and location.
func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// CompareDate orders a and b by calendar date only.
func CompareDate(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	switch {
	case ay != by:
		return cmpInt(ay, by)
	case am != bm:
		return cmpInt(int(am), int(bm))
	default:
		return cmpInt(ad, bd)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
