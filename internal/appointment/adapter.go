package appointment

import (
	"time"

	"github.com/google/uuid"

	"calview/internal/model"
)

// Adapter maps one host data shape onto Appointment fields. It is resolved
// once at ingestion rather than per field access.
type Adapter[T any] interface {
	ID(T) string
	Subject(T) string
	Notes(T) string
	Location(T) string
	Color(T) string
	Start(T) time.Time
	End(T) time.Time
	StartTimeZone(T) string
	EndTimeZone(T) string
	IsAllDay(T) bool
	RecurrenceRule(T) string
	ExceptionDates(T) []time.Time
	RecurrenceID(T) string
	ResourceIDs(T) []string
}

// FuncAdapter builds an Adapter from optional accessors. Start and End are
// required; every nil accessor yields the zero value.
type FuncAdapter[T any] struct {
	IDFunc             func(T) string
	SubjectFunc        func(T) string
	NotesFunc          func(T) string
	LocationFunc       func(T) string
	ColorFunc          func(T) string
	StartFunc          func(T) time.Time
	EndFunc            func(T) time.Time
	StartTimeZoneFunc  func(T) string
	EndTimeZoneFunc    func(T) string
	IsAllDayFunc       func(T) bool
	RecurrenceRuleFunc func(T) string
	ExceptionDatesFunc func(T) []time.Time
	RecurrenceIDFunc   func(T) string
	ResourceIDsFunc    func(T) []string
}

func str[T any](f func(T) string, v T) string {
	if f == nil {
		return ""
	}
	return f(v)
}

func (a FuncAdapter[T]) ID(v T) string             { return str(a.IDFunc, v) }
func (a FuncAdapter[T]) Subject(v T) string        { return str(a.SubjectFunc, v) }
func (a FuncAdapter[T]) Notes(v T) string          { return str(a.NotesFunc, v) }
func (a FuncAdapter[T]) Location(v T) string       { return str(a.LocationFunc, v) }
func (a FuncAdapter[T]) Color(v T) string          { return str(a.ColorFunc, v) }
func (a FuncAdapter[T]) StartTimeZone(v T) string  { return str(a.StartTimeZoneFunc, v) }
func (a FuncAdapter[T]) EndTimeZone(v T) string    { return str(a.EndTimeZoneFunc, v) }
func (a FuncAdapter[T]) RecurrenceRule(v T) string { return str(a.RecurrenceRuleFunc, v) }
func (a FuncAdapter[T]) RecurrenceID(v T) string   { return str(a.RecurrenceIDFunc, v) }

func (a FuncAdapter[T]) Start(v T) time.Time { return a.StartFunc(v) }
func (a FuncAdapter[T]) End(v T) time.Time   { return a.EndFunc(v) }

func (a FuncAdapter[T]) IsAllDay(v T) bool {
	if a.IsAllDayFunc == nil {
		return false
	}
	return a.IsAllDayFunc(v)
}

func (a FuncAdapter[T]) ExceptionDates(v T) []time.Time {
	if a.ExceptionDatesFunc == nil {
		return nil
	}
	return a.ExceptionDatesFunc(v)
}

func (a FuncAdapter[T]) ResourceIDs(v T) []string {
	if a.ResourceIDsFunc == nil {
		return nil
	}
	return a.ResourceIDsFunc(v)
}

// Ingest converts host items into appointments. Items without an ID get a
// random one; Data keeps the original item.
func Ingest[T any](items []T, a Adapter[T]) []*model.Appointment {
	out := make([]*model.Appointment, 0, len(items))
	for _, it := range items {
		appt := &model.Appointment{
			ID:                       a.ID(it),
			Subject:                  a.Subject(it),
			Notes:                    a.Notes(it),
			Location:                 a.Location(it),
			Color:                    a.Color(it),
			StartTime:                a.Start(it),
			EndTime:                  a.End(it),
			StartTimeZone:            a.StartTimeZone(it),
			EndTimeZone:              a.EndTimeZone(it),
			IsAllDay:                 a.IsAllDay(it),
			RecurrenceRule:           a.RecurrenceRule(it),
			RecurrenceExceptionDates: a.ExceptionDates(it),
			RecurrenceID:             a.RecurrenceID(it),
			ResourceIDs:              a.ResourceIDs(it),
			Data:                     it,
		}
		if appt.ID == "" {
			appt.ID = uuid.NewString()
		}
		// Until a timezone table normalizes it, the raw times stand in.
		appt.ActualStartTime = appt.StartTime
		appt.ActualEndTime = appt.EndTime
		if appt.ActualEndTime.Before(appt.ActualStartTime) {
			appt.ActualEndTime = appt.ActualStartTime
		}
		out = append(out, appt)
	}
	return out
}
