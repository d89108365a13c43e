package calendar

import (
	"errors"
	"fmt"
	"time"

	"calview/internal/appointment"
	"calview/internal/datasource"
	"calview/internal/layout"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/schedule"
	"calview/internal/timezone"
	"calview/internal/viewdates"
)

var ErrResourceIndex = errors.New("calendar: resource index out of range")

// Settings are the user-facing calendar options.
type Settings struct {
	View           model.View
	FirstDayOfWeek int
	NonWorkingDays []time.Weekday
	NumberOfWeeks  int
	NumberOfDays   int

	// TimeZone is the display zone. Empty keeps appointment times as given.
	TimeZone string

	// MinDate and MaxDate bound navigation. Zero values are open.
	MinDate time.Time
	MaxDate time.Time

	// ShowLeadingAndTrailingDates keeps appointments on the neighbouring
	// months' dates of a month grid.
	ShowLeadingAndTrailingDates bool
	GroupByResource             bool

	Schedule schedule.Settings
}

func DefaultSettings() Settings {
	return Settings{
		View:                        model.ViewWeek,
		FirstDayOfWeek:              7,
		NonWorkingDays:              []time.Weekday{time.Saturday, time.Sunday},
		NumberOfWeeks:               6,
		NumberOfDays:                1,
		ShowLeadingAndTrailingDates: true,
		Schedule:                    schedule.DefaultSettings(),
	}
}

func (s Settings) Options() viewdates.Options {
	return viewdates.Options{
		View:           s.View,
		FirstDayOfWeek: s.FirstDayOfWeek,
		NonWorkingDays: s.NonWorkingDays,
		NumberOfWeeks:  s.NumberOfWeeks,
		NumberOfDays:   s.NumberOfDays,
	}
}

// State is an immutable snapshot of the calendar: its inputs and the view
// model derived from them. Every transition returns a new State with the
// derived part rebuilt from scratch.
type State struct {
	Settings Settings

	Today            time.Time
	DisplayDate      time.Time
	SelectedDate     time.Time
	SelectedResource int
	Resources        []model.Resource

	source  []*model.Appointment
	regions []*model.TimeRegion
	tz      *timezone.Table

	// Pending is set while the timezone table is still loading. Derived
	// fields are empty until a later transition runs with a loaded table.
	Pending bool

	VisibleDates []time.Time
	Appointments []*model.Appointment
	// AllDay is the all-day band for day and week views, the whole grid for
	// the month view, or the minute-indexed lanes of a timeline view.
	AllDay []*model.AppointmentView
	// Days holds one slot list per visible date: minute-indexed timed
	// appointments, or agenda rows for the schedule view.
	Days    [][]*model.AppointmentView
	Regions []*model.TimeRegion

	CanMoveNext     bool
	CanMovePrevious bool

	normalized []*model.Appointment
}

// New builds the initial state anchored on now.
func New(tz *timezone.Table, now time.Time, s Settings) State {
	st := State{
		Settings:         s,
		Today:            model.DateOf(now),
		SelectedResource: viewdates.DefaultResourceIndex(s.GroupByResource, -1),
		tz:               tz,
	}
	st.DisplayDate = viewdates.Clamp(st.Today, s.MinDate, s.MaxDate)
	return st.derive()
}

// WithTimezones swaps the timezone table and rebuilds. Hosts call it once
// the table finishes loading to clear Pending.
func (s State) WithTimezones(tz *timezone.Table) State {
	s.tz = tz
	return s.derive()
}

// Navigate moves the display date, snapped into [MinDate, MaxDate].
func (s State) Navigate(date time.Time) State {
	s.DisplayDate = viewdates.Clamp(model.DateOf(date), s.Settings.MinDate, s.Settings.MaxDate)
	return s.derive()
}

// Select marks a date as selected and brings it into view.
func (s State) Select(date time.Time) State {
	s.SelectedDate = viewdates.Clamp(model.DateOf(date), s.Settings.MinDate, s.Settings.MaxDate)
	return s.Navigate(s.SelectedDate)
}

// Forward moves to the next window unless it lies outside the bounds.
func (s State) Forward() State {
	o := s.Settings.Options()
	if !viewdates.CanMoveNext(s.DisplayDate, o, s.Settings.MinDate, s.Settings.MaxDate) {
		return s
	}
	return s.Navigate(viewdates.Next(s.DisplayDate, o))
}

// Backward moves to the previous window unless it lies outside the bounds.
func (s State) Backward() State {
	o := s.Settings.Options()
	if !viewdates.CanMovePrevious(s.DisplayDate, o, s.Settings.MinDate, s.Settings.MaxDate) {
		return s
	}
	return s.Navigate(viewdates.Previous(s.DisplayDate, o))
}

func (s State) SwitchView(v model.View) State {
	s.Settings.View = v
	return s.derive()
}

// UpdateSettings replaces every setting and re-snaps the display date.
func (s State) UpdateSettings(ns Settings) State {
	s.Settings = ns
	s.DisplayDate = viewdates.Clamp(s.DisplayDate, ns.MinDate, ns.MaxDate)
	if s.SelectedResource >= len(s.Resources) {
		s.SelectedResource = -1
	}
	s.SelectedResource = viewdates.DefaultResourceIndex(ns.GroupByResource, s.SelectedResource)
	return s.derive()
}

// ApplyChange folds a data source notification into the appointment set.
func (s State) ApplyChange(ch datasource.Change) (State, error) {
	c := datasource.NewCollection(s.source)
	if err := c.Apply(ch); err != nil {
		return s, err
	}
	s.source = c.Appointments()
	appLog.Debug("calendar data changed", "action", ch.Action.String(), "count", c.Len())
	return s.derive(), nil
}

// SelectResource selects a resource row. A negative index clears the
// selection, which grouping turns back into row 0.
func (s State) SelectResource(i int) (State, error) {
	if i >= len(s.Resources) {
		return s, fmt.Errorf("%w: %d of %d", ErrResourceIndex, i, len(s.Resources))
	}
	if i < 0 {
		i = -1
	}
	s.SelectedResource = viewdates.DefaultResourceIndex(s.Settings.GroupByResource, i)
	return s.derive(), nil
}

func (s State) SetResources(res []model.Resource) State {
	s.Resources = append([]model.Resource(nil), res...)
	if s.SelectedResource >= len(s.Resources) {
		s.SelectedResource = -1
	}
	s.SelectedResource = viewdates.DefaultResourceIndex(s.Settings.GroupByResource, s.SelectedResource)
	return s.derive()
}

func (s State) SetRegions(regions []*model.TimeRegion) State {
	s.regions = make([]*model.TimeRegion, 0, len(regions))
	for _, r := range regions {
		s.regions = append(s.regions, r.Clone())
	}
	return s.derive()
}

// Source returns copies of the raw appointments.
func (s State) Source() []*model.Appointment {
	return datasource.NewCollection(s.source).Appointments()
}

// Normalized returns copies of every appointment with display-zone times.
// It is empty while Pending.
func (s State) Normalized() []*model.Appointment {
	return datasource.NewCollection(s.normalized).Appointments()
}

// ResourceID is the selected resource's ID, or "" when none applies.
func (s State) ResourceID() string {
	if !s.Settings.GroupByResource || s.SelectedResource < 0 || s.SelectedResource >= len(s.Resources) {
		return ""
	}
	return s.Resources[s.SelectedResource].ID
}

// ScheduleInput is what a schedule book needs from this state.
func (s State) ScheduleInput() schedule.Input {
	return schedule.Input{
		Anchor:         s.DisplayDate,
		Today:          s.Today,
		MinDate:        s.Settings.MinDate,
		MaxDate:        s.Settings.MaxDate,
		FirstDayOfWeek: s.Settings.FirstDayOfWeek,
		Appointments:   s.normalized,
		Zones:          s.tz,
	}
}

func (s State) derive() State {
	s.VisibleDates = nil
	s.Appointments = nil
	s.AllDay = nil
	s.Days = nil
	s.Regions = nil
	s.normalized = nil
	s.CanMoveNext, s.CanMovePrevious = false, false

	if !s.tz.Loaded() {
		s.Pending = true
		return s
	}
	s.Pending = false

	st := s.Settings
	o := st.Options()
	dates := viewdates.Visible(s.DisplayDate, o)
	s.VisibleDates = dates

	s.normalized = make([]*model.Appointment, 0, len(s.source))
	for _, a := range s.source {
		c := a.Clone()
		s.tz.Normalize(c, st.TimeZone)
		s.normalized = append(s.normalized, c)
	}

	w := appointment.Window{Start: dates[0], End: dates[len(dates)-1]}
	opts := appointment.Options{ResourceID: s.ResourceID(), Zones: s.tz}
	if st.View == model.ViewMonth && !st.ShowLeadingAndTrailingDates {
		opts.ClipToMonth = true
		opts.Month = viewdates.CurrentMonth(dates)
	}
	s.Appointments = appointment.Visible(w, s.normalized, opts)
	appointment.SortByStart(s.Appointments)

	switch {
	case st.View == model.ViewMonth:
		s.AllDay = layout.MonthViews(dates, s.Appointments)
	case st.View.IsTimeline():
		s.AllDay = layout.TimelineViews(dates, s.Appointments)
	case st.View == model.ViewSchedule:
		s.Days = [][]*model.AppointmentView{layout.AgendaViews(dates[0], s.Appointments)}
	default:
		s.AllDay = layout.AllDayViews(dates, s.Appointments)
		s.Days = make([][]*model.AppointmentView, len(dates))
		for i, d := range dates {
			s.Days[i] = layout.DayViews(d, s.Appointments)
		}
	}

	regions := make([]*model.TimeRegion, 0, len(s.regions))
	for _, r := range s.regions {
		c := r.Clone()
		s.tz.NormalizeRegion(c, st.TimeZone)
		regions = append(regions, c)
	}
	s.Regions = appointment.VisibleRegions(w, regions, opts)

	s.CanMoveNext = viewdates.CanMoveNext(s.DisplayDate, o, st.MinDate, st.MaxDate)
	s.CanMovePrevious = viewdates.CanMovePrevious(s.DisplayDate, o, st.MinDate, st.MaxDate)
	return s
}
