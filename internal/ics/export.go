package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calview/internal/model"
)

const (
	productID = "-//calview//calview//EN"

	// stampLayout is the UTC DATE-TIME form used in override IDs.
	stampLayout = "20060102T150405Z"

	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
)

// Export serializes appointments as a VCALENDAR. Masters keep their rule
// and exceptions; overrides share their master's UID and carry a
// RECURRENCE-ID; all-day appointments get an exclusive DTEND again. Source
// namespaces added by Parse are stripped from UIDs so a re-import under the
// same source yields the same IDs.
func Export(appts []*model.Appointment, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	masters := make(map[string]*model.Appointment, len(appts))
	for _, a := range appts {
		if a.RecurrenceID == "" {
			masters[a.ID] = a
		}
	}

	for _, a := range appts {
		id := a.ID
		if a.RecurrenceID != "" {
			id = a.RecurrenceID
		}
		ev := cal.AddEvent(uid(id, a))
		ev.SetDtStampTime(now.UTC())
		if a.Subject != "" {
			ev.SetSummary(a.Subject)
		}
		if a.Notes != "" {
			ev.SetDescription(a.Notes)
		}
		if a.Location != "" {
			ev.SetLocation(a.Location)
		}

		if a.IsAllDay {
			ev.SetAllDayStartAt(model.DateOf(a.StartTime))
			ev.SetAllDayEndAt(model.DateOf(a.EndTime).AddDate(0, 0, 1))
		} else {
			ev.SetStartAt(a.ActualStartTime)
			ev.SetEndAt(a.ActualEndTime)
		}

		if a.RecurrenceID != "" {
			rid := recurrenceInstant(a, masters[a.RecurrenceID])
			if a.IsAllDay {
				ev.AddProperty(propRecurrenceID, rid.Format("20060102"),
					&ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}})
			} else {
				ev.AddProperty(propRecurrenceID, rid.UTC().Format(stampLayout))
			}
		}

		if a.RecurrenceRule != "" && a.RecurrenceID == "" {
			ev.SetProperty(ical.ComponentPropertyRrule, a.RecurrenceRule)
			for _, ex := range a.RecurrenceExceptionDates {
				if a.IsAllDay {
					ev.AddProperty(ical.ComponentPropertyExdate, ex.Format("20060102"),
						&ical.KeyValues{Key: string(ical.ParameterValue), Value: []string{"DATE"}})
					continue
				}
				ev.AddProperty(ical.ComponentPropertyExdate, exceptionInstant(a, ex).UTC().Format(stampLayout))
			}
		}
	}
	return cal.Serialize()
}

// exceptionInstant places an exception date at the master's start clock.
func exceptionInstant(a *model.Appointment, ex time.Time) time.Time {
	s := a.ActualStartTime
	y, m, d := ex.Date()
	return time.Date(y, m, d, s.Hour(), s.Minute(), s.Second(), 0, s.Location())
}

// uid strips a source namespace ("source/uid") when the appointment belongs
// to that source.
func uid(id string, a *model.Appointment) string {
	if src, rest, ok := strings.Cut(id, "/"); ok && rest != "" && a.HasResource(src) {
		return rest
	}
	return id
}

// recurrenceInstant is the original start of the occurrence an override
// replaces. Parsed overrides carry it in their ID; others fall back to the
// master's start clock on the override's date.
func recurrenceInstant(a, master *model.Appointment) time.Time {
	if stamp, ok := strings.CutPrefix(a.ID, a.RecurrenceID+"@"); ok {
		if t, err := time.Parse(stampLayout, stamp); err == nil {
			return t
		}
	}
	if master != nil {
		return exceptionInstant(master, a.StartDate())
	}
	return a.ActualStartTime
}
