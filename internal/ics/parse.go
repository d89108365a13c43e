package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calview/internal/appointment"
	appLog "calview/internal/log"
	"calview/internal/model"
)

var ErrEmptyBody = errors.New("ics: empty body")

// Event is a VEVENT reduced to the fields the calendar uses.
type Event struct {
	Source Source

	UID         string
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RRule   string
	ExDates []time.Time

	// RecurrenceID is set on an override of one occurrence of UID.
	RecurrenceID *time.Time
}

// key is the appointment ID for a master event. Sources share one
// calendar, so UIDs are namespaced by source ID.
func (e Event) key() string {
	if e.Source.ID == "" {
		return e.UID
	}
	return e.Source.ID + "/" + e.UID
}

func (e Event) id() string {
	if e.RecurrenceID == nil {
		return e.key()
	}
	return e.key() + "@" + e.RecurrenceID.UTC().Format(stampLayout)
}

func (e Event) parentID() string {
	if e.RecurrenceID == nil {
		return ""
	}
	return e.key()
}

var eventAdapter = appointment.FuncAdapter[Event]{
	IDFunc:             Event.id,
	SubjectFunc:        func(e Event) string { return e.Summary },
	NotesFunc:          func(e Event) string { return e.Description },
	LocationFunc:       func(e Event) string { return e.Location },
	StartFunc:          func(e Event) time.Time { return e.Start },
	EndFunc:            func(e Event) time.Time { return e.End },
	IsAllDayFunc:       func(e Event) bool { return e.AllDay },
	RecurrenceRuleFunc: func(e Event) string { return e.RRule },
	ExceptionDatesFunc: func(e Event) []time.Time { return e.ExDates },
	RecurrenceIDFunc:   Event.parentID,
	ResourceIDsFunc: func(e Event) []string {
		if e.Source.ID == "" {
			return nil
		}
		return []string{e.Source.ID}
	},
}

// ParseEvents reads every VEVENT in body. Events that cannot be read are
// logged and skipped.
func ParseEvents(src Source, body []byte) ([]Event, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return nil, err
	}

	events := make([]Event, 0)
	for _, ve := range cal.Events() {
		ev, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Error("ics vevent skipped", err, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}
	appLog.Info("ics parse completed", "id", src.ID, "url", redactURL(src.URL), "event_count", len(events))
	return events, nil
}

// Parse turns an ICS payload into appointments. An override of a single
// occurrence becomes its own appointment linked to the master through
// RecurrenceID, and the master gets that date as an exception.
func Parse(src Source, body []byte) ([]*model.Appointment, error) {
	events, err := ParseEvents(src, body)
	if err != nil {
		return nil, err
	}

	masters := make(map[string]int)
	for i, ev := range events {
		if ev.RecurrenceID == nil {
			masters[ev.key()] = i
		}
	}
	for _, ev := range events {
		if ev.RecurrenceID == nil {
			continue
		}
		if i, ok := masters[ev.key()]; ok && !containsInstant(events[i].ExDates, *ev.RecurrenceID) {
			events[i].ExDates = append(events[i].ExDates, *ev.RecurrenceID)
		}
	}
	return appointment.Ingest(events, eventAdapter), nil
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, v := range ts {
		if v.Equal(t) {
			return true
		}
	}
	return false
}

func paramValue(p *ical.IANAProperty, name string) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if vs, ok := p.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func isDateValue(p *ical.IANAProperty) bool {
	return strings.EqualFold(paramValue(p, "VALUE"), "DATE") || !strings.Contains(p.Value, "T")
}

func parseVEvent(src Source, ve *ical.VEvent) (Event, error) {
	ev := Event{Source: src}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return ev, errors.New("ics: missing UID")
	}
	ev.UID = uid.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		ev.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, errors.New("ics: missing DTSTART")
	}
	dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
	ev.AllDay = isDateValue(dtStart)

	var err error
	if ev.AllDay {
		if ev.Start, err = parseTime(dtStart.Value, time.UTC); err != nil {
			return ev, err
		}
		// DTEND of a date event is exclusive; the model keeps the last date.
		ev.End = ev.Start
		if dtEnd != nil {
			end, err := parseTime(dtEnd.Value, time.UTC)
			if err != nil {
				return ev, err
			}
			if last := model.DateOf(end).AddDate(0, 0, -1); last.After(ev.Start) {
				ev.End = last
			}
		}
	} else {
		if ev.Start, err = ve.GetStartAt(); err != nil {
			return ev, err
		}
		ev.End = ev.Start
		if dtEnd != nil {
			if ev.End, err = ve.GetEndAt(); err != nil {
				return ev, err
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		ev.RRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := zoneOf(paramValue(p, "TZID"), ev.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseTime(part, loc); err == nil {
				ev.ExDates = append(ev.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		loc := zoneOf(paramValue(p, "TZID"), ev.Start.Location())
		if t, err := parseTime(p.Value, loc); err == nil {
			ev.RecurrenceID = &t
		}
	}
	return ev, nil
}

func zoneOf(tzid string, fallback *time.Location) *time.Location {
	if tzid == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return fallback
	}
	return loc
}

// parseTime reads DATE, local DATE-TIME and UTC DATE-TIME values.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("ics: empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
