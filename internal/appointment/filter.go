package appointment

import (
	"time"

	"calview/internal/model"
	"calview/internal/recurrence"
	"calview/internal/timezone"
)

// Window is an inclusive range of calendar dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether date d falls inside w.
func (w Window) Contains(d time.Time) bool {
	return model.CompareDate(d, w.Start) >= 0 && model.CompareDate(d, w.End) <= 0
}

// Overlaps reports whether the date span [first, last] touches w.
func (w Window) Overlaps(first, last time.Time) bool {
	return model.CompareDate(first, w.End) <= 0 && model.CompareDate(last, w.Start) >= 0
}

// Options tune Visible.
type Options struct {
	// ClipToMonth narrows the window to the month of Month. Month views use
	// it to drop leading and trailing dates of neighbouring months.
	ClipToMonth bool
	Month       time.Time

	// ResourceID keeps only appointments assigned to that resource when set.
	ResourceID string

	// Zones resolves the zones recurring items are expanded in. Nil falls
	// back to time.LoadLocation.
	Zones *timezone.Table
}

// Clip applies opts.ClipToMonth to w.
func (o Options) Clip(w Window) Window {
	if !o.ClipToMonth {
		return w
	}
	y, m, _ := o.Month.Date()
	first := time.Date(y, m, 1, 0, 0, 0, 0, o.Month.Location())
	last := first.AddDate(0, 1, -1)
	if model.CompareDate(w.Start, first) < 0 {
		w.Start = first
	}
	if model.CompareDate(w.End, last) > 0 {
		w.End = last
	}
	return w
}

// Visible returns the appointments, with recurring masters expanded into
// occurrences, whose dates intersect w. The result has no defined order.
// Input appointments are never modified.
func Visible(w Window, appts []*model.Appointment, opts Options) []*model.Appointment {
	w = opts.Clip(w)
	out := make([]*model.Appointment, 0)
	if model.CompareDate(w.Start, w.End) > 0 {
		return out
	}

	for _, a := range appts {
		if opts.ResourceID != "" && len(a.ResourceIDs) > 0 && !a.HasResource(opts.ResourceID) {
			continue
		}
		if !a.IsRecurring() {
			if w.Overlaps(a.StartDate(), a.EndDate()) {
				out = append(out, a)
			}
			continue
		}
		for _, occ := range Occurrences(a, w, opts.Zones) {
			if w.Overlaps(occ.StartDate(), occ.EndDate()) {
				out = append(out, occ)
			}
		}
	}
	return out
}

// Occurrences expands a recurring master into occurrence clones reaching
// into w. Rules without COUNT or UNTIL are bounded by w.End.
//
// The rule steps in the appointment's own zone, so a 09:00 meeting stays at
// 09:00 there across DST; each occurrence is then moved into the zone of
// a.ActualStartTime, the display zone after normalization.
func Occurrences(a *model.Appointment, w Window, zones *timezone.Table) []*model.Appointment {
	display := a.ActualStartTime.Location()
	loc := display
	if !a.IsAllDay {
		loc = sourceLocation(a.StartTimeZone, a.StartTime.Location(), zones)
	}
	dur := a.ActualEndTime.Sub(a.ActualStartTime)
	starts := expandIn(a.RecurrenceRule, a.ActualStartTime.In(loc), w, recurrence.Options{
		Duration:       a.EndDate().Sub(a.StartDate()),
		ExceptionDates: a.RecurrenceExceptionDates,
	})

	out := make([]*model.Appointment, 0, len(starts))
	for _, s := range starts {
		c := a.Clone()
		c.IsOccurrence = true
		c.StartTimeZone, c.EndTimeZone = "", ""
		c.StartTime = s
		c.EndTime = s.Add(dur)
		c.ActualStartTime = s.In(display)
		c.ActualEndTime = c.ActualStartTime.Add(dur)
		if !w.Overlaps(c.StartDate(), c.EndDate()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// expandIn runs the rule with the clamp widened by a day on each side;
// occurrence dates in the source zone can differ from display dates.
func expandIn(rule string, start time.Time, w Window, opts recurrence.Options) []time.Time {
	opts.ClampStart = w.Start.AddDate(0, 0, -1)
	opts.ClampEnd = w.End.AddDate(0, 0, 1)
	return recurrence.Expand(rule, start, opts)
}

func sourceLocation(name string, fallback *time.Location, zones *timezone.Table) *time.Location {
	if name == "" {
		return fallback
	}
	var loc *time.Location
	var err error
	if zones != nil {
		loc, err = zones.Location(name)
	} else {
		loc, err = time.LoadLocation(name)
	}
	if err != nil || loc == nil {
		return fallback
	}
	return loc
}

// VisibleRegions is Visible for time regions. Regions scoped to resources
// are dropped unless opts.ResourceID is one of them.
func VisibleRegions(w Window, regions []*model.TimeRegion, opts Options) []*model.TimeRegion {
	w = opts.Clip(w)
	out := make([]*model.TimeRegion, 0)
	if model.CompareDate(w.Start, w.End) > 0 {
		return out
	}
	for _, r := range regions {
		if len(r.ResourceIDs) > 0 && !containsString(r.ResourceIDs, opts.ResourceID) {
			continue
		}
		if r.RecurrenceRule == "" {
			if w.Overlaps(r.ActualStartTime, regionLastDate(r)) {
				out = append(out, r)
			}
			continue
		}
		display := r.ActualStartTime.Location()
		loc := sourceLocation(r.TimeZone, r.StartTime.Location(), opts.Zones)
		dur := r.ActualEndTime.Sub(r.ActualStartTime)
		starts := expandIn(r.RecurrenceRule, r.ActualStartTime.In(loc), w, recurrence.Options{
			Duration:       regionLastDate(r).Sub(model.DateOf(r.ActualStartTime)),
			ExceptionDates: r.RecurrenceExceptionDates,
		})
		for _, s := range starts {
			c := r.Clone()
			c.RecurrenceRule = ""
			c.TimeZone = ""
			c.StartTime = s
			c.EndTime = s.Add(dur)
			c.ActualStartTime = s.In(display)
			c.ActualEndTime = c.ActualStartTime.Add(dur)
			if !w.Overlaps(c.ActualStartTime, regionLastDate(c)) {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

func regionLastDate(r *model.TimeRegion) time.Time {
	e := r.ActualEndTime
	if e.After(r.ActualStartTime) && e.Equal(model.DateOf(e)) {
		return model.DateOf(e.AddDate(0, 0, -1))
	}
	return model.DateOf(e)
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
