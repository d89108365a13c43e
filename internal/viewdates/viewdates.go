package viewdates

import (
	"slices"
	"time"

	"calview/internal/model"
)

// Options describe the view a date window is computed for.
type Options struct {
	View model.View

	// FirstDayOfWeek is 1 (Monday) .. 7 (Sunday). Out-of-range values mean 7.
	FirstDayOfWeek int

	// NonWorkingDays are removed from work-week views.
	NonWorkingDays []time.Weekday

	// NumberOfWeeks is the month view height, 1..6. Zero means 6.
	NumberOfWeeks int

	// NumberOfDays is the day view width. Zero means 1.
	NumberOfDays int
}

func (o Options) firstDay() int {
	if o.FirstDayOfWeek < 1 || o.FirstDayOfWeek > 7 {
		return 7
	}
	return o.FirstDayOfWeek
}

func (o Options) weeks() int {
	if o.NumberOfWeeks < 1 || o.NumberOfWeeks > 6 {
		return 6
	}
	return o.NumberOfWeeks
}

func (o Options) days() int {
	if o.NumberOfDays < 1 {
		return 1
	}
	return o.NumberOfDays
}

// ISOWeekday maps time.Weekday onto 1 (Monday) .. 7 (Sunday).
func ISOWeekday(w time.Weekday) int {
	return (int(w)+6)%7 + 1
}

// WeekStart returns the first date of the week containing d.
func WeekStart(d time.Time, firstDayOfWeek int) time.Time {
	diff := (ISOWeekday(d.Weekday()) - firstDayOfWeek + 7) % 7
	return model.DateOf(d).AddDate(0, 0, -diff)
}

func firstOfMonth(d time.Time) time.Time {
	y, m, _ := d.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, d.Location())
}

func run(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

// Visible returns the ordered dates a view shows around anchor. The result
// depends only on its inputs.
func Visible(anchor time.Time, o Options) []time.Time {
	switch o.View {
	case model.ViewDay, model.ViewTimelineDay:
		return run(model.DateOf(anchor), o.days())

	case model.ViewWeek, model.ViewTimelineWeek:
		return run(WeekStart(anchor, o.firstDay()), 7)

	case model.ViewWorkWeek, model.ViewTimelineWorkWeek:
		week := run(WeekStart(anchor, o.firstDay()), 7)
		work := make([]time.Time, 0, 7)
		for _, d := range week {
			if !slices.Contains(o.NonWorkingDays, d.Weekday()) {
				work = append(work, d)
			}
		}
		if len(work) == 0 {
			return week
		}
		return work

	case model.ViewMonth:
		if o.weeks() == 6 {
			return run(WeekStart(firstOfMonth(anchor), o.firstDay()), 42)
		}
		return run(WeekStart(anchor, o.firstDay()), o.weeks()*7)

	case model.ViewTimelineMonth:
		first := firstOfMonth(anchor)
		return run(first, first.AddDate(0, 1, -1).Day())

	default:
		return []time.Time{model.DateOf(anchor)}
	}
}

// Next returns the anchor of the following window.
func Next(anchor time.Time, o Options) time.Time {
	return step(anchor, o, 1)
}

// Previous returns the anchor of the preceding window.
func Previous(anchor time.Time, o Options) time.Time {
	return step(anchor, o, -1)
}

func step(anchor time.Time, o Options, dir int) time.Time {
	d := model.DateOf(anchor)
	switch o.View {
	case model.ViewDay, model.ViewTimelineDay:
		return d.AddDate(0, 0, dir*o.days())
	case model.ViewWeek, model.ViewTimelineWeek, model.ViewWorkWeek, model.ViewTimelineWorkWeek:
		return d.AddDate(0, 0, dir*7)
	case model.ViewMonth:
		if o.weeks() != 6 {
			return d.AddDate(0, 0, dir*7*o.weeks())
		}
		return firstOfMonth(d).AddDate(0, dir, 0)
	default:
		return firstOfMonth(d).AddDate(0, dir, 0)
	}
}

// intersects reports whether dates touch [min, max]; zero bounds are open.
func intersects(dates []time.Time, min, max time.Time) bool {
	if len(dates) == 0 {
		return false
	}
	if !max.IsZero() && model.CompareDate(dates[0], max) > 0 {
		return false
	}
	if !min.IsZero() && model.CompareDate(dates[len(dates)-1], min) < 0 {
		return false
	}
	return true
}

// CanMoveNext reports whether the next window shows any date in [min, max].
func CanMoveNext(anchor time.Time, o Options, min, max time.Time) bool {
	return intersects(Visible(Next(anchor, o), o), min, max)
}

// CanMovePrevious reports whether the previous window shows any date in [min, max].
func CanMovePrevious(anchor time.Time, o Options, min, max time.Time) bool {
	return intersects(Visible(Previous(anchor, o), o), min, max)
}

// Clamp snaps d into [min, max]. Zero bounds are open.
func Clamp(d, min, max time.Time) time.Time {
	if !min.IsZero() && d.Before(min) {
		return min
	}
	if !max.IsZero() && d.After(max) {
		return max
	}
	return d
}

// CurrentMonth is the month a window represents: the month of its middle date.
func CurrentMonth(dates []time.Time) time.Time {
	if len(dates) == 0 {
		return time.Time{}
	}
	return firstOfMonth(dates[len(dates)/2])
}

// DefaultResourceIndex picks the selected resource row. With grouping on
// and nothing selected (negative index) the first row is used.
func DefaultResourceIndex(grouping bool, selected int) int {
	if grouping && selected < 0 {
		return 0
	}
	return selected
}
