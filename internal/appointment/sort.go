package appointment

import (
	"sort"

	"calview/internal/model"
)

// SortByStart orders by start time, longer appointments first on ties.
// Equal keys keep their input order.
func SortByStart(appts []*model.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		if !a.ActualStartTime.Equal(b.ActualStartTime) {
			return a.ActualStartTime.Before(b.ActualStartTime)
		}
		return a.ActualEndTime.Sub(a.ActualStartTime) > b.ActualEndTime.Sub(b.ActualStartTime)
	})
}

// SortAllDayFirst puts all-day and spanned appointments ahead of timed
// ones, then orders each group by start time.
func SortAllDayFirst(appts []*model.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i], appts[j]
		ab, bb := a.IsAllDay || a.IsSpanned(), b.IsAllDay || b.IsSpanned()
		if ab != bb {
			return ab
		}
		return a.ActualStartTime.Before(b.ActualStartTime)
	})
}
