package layout

import (
	"sort"
	"time"

	"calview/internal/appointment"
	"calview/internal/model"
)

// MinTimedMinutes is the shortest span a timed appointment occupies when
// deciding overlap, so zero-length items still get their own slot.
const MinTimedMinutes = 30

const minutesPerDay = 24 * 60

// Assign gives every view a Position and MaxPositions.
//
// Views are placed first-fit in input order: each takes the smallest slot not
// used by an earlier view whose index range intersects it. MaxPositions is the
// highest slot used in the view's intersecting group plus one. Callers decide
// the order; sorting by start index makes MaxPositions equal the group's peak
// concurrency.
func Assign(views []*model.AppointmentView) {
	for i, v := range views {
		used := make(map[int]bool)
		for _, prev := range views[:i] {
			if prev.Intersects(v) {
				used[prev.Position] = true
			}
		}
		pos := 0
		for used[pos] {
			pos++
		}
		v.Position = pos
	}

	// Group views connected through intersections.
	parent := make([]int, len(views))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	for i := range views {
		for j := i + 1; j < len(views); j++ {
			if views[i].Intersects(views[j]) {
				parent[find(i)] = find(j)
			}
		}
	}

	peak := make(map[int]int)
	for i, v := range views {
		r := find(i)
		if v.Position+1 > peak[r] {
			peak[r] = v.Position + 1
		}
	}
	for i, v := range views {
		v.MaxPositions = peak[find(i)]
	}
}

// sortBySpan orders by start index, wider views first on ties, so wide
// items stay leftmost.
func sortBySpan(views []*model.AppointmentView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.StartIndex != b.StartIndex {
			return a.StartIndex < b.StartIndex
		}
		return a.EndIndex-a.StartIndex > b.EndIndex-b.StartIndex
	})
}

// dateRange maps [first, last] onto indices of dates. dates must be
// ascending but may skip days (work week). ok is false when no visible date
// falls inside the range.
func dateRange(dates []time.Time, first, last time.Time) (start, end int, ok bool) {
	start = sort.Search(len(dates), func(i int) bool {
		return model.CompareDate(dates[i], first) >= 0
	})
	end = sort.Search(len(dates), func(i int) bool {
		return model.CompareDate(dates[i], last) > 0
	})
	return start, end, start < end
}

// AllDayViews lays out all-day and spanned appointments across dates for
// the all-day band.
func AllDayViews(dates []time.Time, appts []*model.Appointment) []*model.AppointmentView {
	views := make([]*model.AppointmentView, 0)
	for _, a := range appts {
		if !a.IsAllDay && !a.IsSpanned() {
			continue
		}
		s, e, ok := dateRange(dates, a.StartDate(), a.EndDate())
		if !ok {
			continue
		}
		views = append(views, &model.AppointmentView{Appointment: a, StartIndex: s, EndIndex: e})
	}
	sortBySpan(views)
	Assign(views)
	return views
}

// MonthViews lays out every appointment across a month grid, splitting
// items that cross a week row into one view per row.
func MonthViews(dates []time.Time, appts []*model.Appointment) []*model.AppointmentView {
	views := make([]*model.AppointmentView, 0)
	for _, a := range appts {
		s, e, ok := dateRange(dates, a.StartDate(), a.EndDate())
		if !ok {
			continue
		}
		for s < e {
			rowEnd := (s/7 + 1) * 7
			if rowEnd > e {
				rowEnd = e
			}
			views = append(views, &model.AppointmentView{Appointment: a, StartIndex: s, EndIndex: rowEnd})
			s = rowEnd
		}
	}
	sortBySpan(views)
	Assign(views)
	return views
}

// DayViews lays out the timed, single-day appointments of date. Indices are
// minutes from midnight.
func DayViews(date time.Time, appts []*model.Appointment) []*model.AppointmentView {
	views := make([]*model.AppointmentView, 0)
	for _, a := range appts {
		if a.IsAllDay || a.IsSpanned() || !model.SameDate(a.ActualStartTime, date) {
			continue
		}
		start := minuteOfDay(a.ActualStartTime)
		end := start + int(a.ActualEndTime.Sub(a.ActualStartTime)/time.Minute)
		if end < start+MinTimedMinutes {
			end = start + MinTimedMinutes
		}
		views = append(views, &model.AppointmentView{Appointment: a, StartIndex: start, EndIndex: end})
	}
	sortBySpan(views)
	Assign(views)
	return views
}

// TimelineViews lays every appointment along a horizontal timeline. Indices
// are minutes counted over the visible dates only, so hidden non-working
// days take no room; all-day items cover whole days.
func TimelineViews(dates []time.Time, appts []*model.Appointment) []*model.AppointmentView {
	views := make([]*model.AppointmentView, 0)
	for _, a := range appts {
		s, e, ok := dateRange(dates, a.StartDate(), a.EndDate())
		if !ok {
			continue
		}
		start, end := s*minutesPerDay, e*minutesPerDay
		if !a.IsAllDay {
			if model.SameDate(dates[s], a.ActualStartTime) {
				start += minuteOfDay(a.ActualStartTime)
			}
			if model.SameDate(dates[e-1], a.ActualEndTime) {
				end = (e-1)*minutesPerDay + minuteOfDay(a.ActualEndTime)
			}
			if end < start+MinTimedMinutes {
				end = start + MinTimedMinutes
			}
		}
		views = append(views, &model.AppointmentView{Appointment: a, StartIndex: start, EndIndex: end})
	}
	sortBySpan(views)
	Assign(views)
	return views
}

// AgendaViews stacks the appointments touching date for a schedule list:
// all-day and spanned first, then by start time. Position is the row.
func AgendaViews(date time.Time, appts []*model.Appointment) []*model.AppointmentView {
	day := make([]*model.Appointment, 0)
	for _, a := range appts {
		if model.CompareDate(a.StartDate(), date) <= 0 && model.CompareDate(a.EndDate(), date) >= 0 {
			day = append(day, a)
		}
	}
	appointment.SortAllDayFirst(day)

	views := make([]*model.AppointmentView, 0, len(day))
	for i, a := range day {
		views = append(views, &model.AppointmentView{
			Appointment:  a,
			StartIndex:   i,
			EndIndex:     i + 1,
			Position:     i,
			MaxPositions: len(day),
		})
	}
	return views
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
