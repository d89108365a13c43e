package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"

	appLog "calview/internal/log"
	"calview/internal/model"
)

const defaultMaxOccurrences = 5000

// Options narrows an expansion.
type Options struct {
	// Duration is the length of each occurrence; it lets an occurrence that
	// starts before ClampStart but runs into it survive the clamp.
	Duration time.Duration

	// ClampStart / ClampEnd bound the result by calendar date, inclusive.
	// Zero values leave that side open.
	ClampStart time.Time
	ClampEnd   time.Time

	// ExceptionDates remove occurrences falling on the same calendar date.
	ExceptionDates []time.Time

	// Max caps the number of returned occurrences. Zero means 5000.
	Max int
}

var rruleDays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

var rruleFreq = map[Type]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

// ROption translates p into an rrule-go option anchored at start. An EndDate
// bound covers the whole UNTIL date, up to 23:59:59.
func (p Properties) ROption(start time.Time) rrule.ROption {
	opt := rrule.ROption{
		Freq:     rruleFreq[p.Type],
		Dtstart:  start,
		Interval: p.Interval,
		Wkst:     rrule.MO,
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	for _, d := range p.WeekDays {
		opt.Byweekday = append(opt.Byweekday, rruleDays[d])
	}
	if p.DayOfMonth != 0 {
		opt.Bymonthday = []int{p.DayOfMonth}
	}
	if p.Month != 0 {
		opt.Bymonth = []int{int(p.Month)}
	}
	if p.Week != 0 && len(p.WeekDays) > 0 {
		opt.Bysetpos = []int{p.Week}
	}

	switch p.RangeType {
	case Count:
		opt.Count = p.Count
	case EndDate:
		y, m, d := p.EndDate.Date()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, start.Location())
	}
	return opt
}

// Expand returns the ascending occurrence starts of rule anchored at start.
//
// A malformed rule yields no occurrences. A rule with neither COUNT nor UNTIL
// is only expanded when opts.ClampEnd is set; its end date is then taken from
// ClampEnd. Passing a ClampStart after ClampEnd is a caller bug and panics.
func Expand(rule string, start time.Time, opts Options) []time.Time {
	if !opts.ClampStart.IsZero() && !opts.ClampEnd.IsZero() &&
		model.CompareDate(opts.ClampStart, opts.ClampEnd) > 0 {
		panic("recurrence: clamp start is after clamp end")
	}

	p, err := Parse(rule)
	if err != nil {
		appLog.Debug("recurrence: ignoring malformed rule", "rule", rule, "err", err)
		return nil
	}

	if p.RangeType == NoEndDate {
		if opts.ClampEnd.IsZero() {
			appLog.Debug("recurrence: refusing unbounded expansion", "rule", rule)
			return nil
		}
		p.RangeType = EndDate
		p.EndDate = opts.ClampEnd
	}

	r, err := rrule.NewRRule(p.ROption(start))
	if err != nil {
		appLog.Debug("recurrence: rrule rejected rule", "rule", rule, "err", err)
		return nil
	}

	max := opts.Max
	if max <= 0 {
		max = defaultMaxOccurrences
	}

	out := make([]time.Time, 0)
	next := r.Iterator()
	for {
		occ, ok := next()
		if !ok {
			break
		}
		if !opts.ClampEnd.IsZero() && model.CompareDate(occ, opts.ClampEnd) > 0 {
			break
		}
		if occ.Before(start) {
			continue
		}
		if !opts.ClampStart.IsZero() && model.CompareDate(occ.Add(opts.Duration), opts.ClampStart) < 0 {
			continue
		}
		if isException(occ, opts.ExceptionDates) {
			continue
		}
		if len(out) == max {
			if opts.Max > 0 {
				appLog.Debug("recurrence: requested occurrence count reached", "rule", rule, "max", max)
			} else {
				appLog.Warn("recurrence: occurrence cap reached", "rule", rule, "cap", max)
			}
			break
		}
		out = append(out, occ)
	}
	return out
}

func isException(occ time.Time, exceptions []time.Time) bool {
	for _, ex := range exceptions {
		if model.SameDate(occ, ex) {
			return true
		}
	}
	return false
}
