package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"calview/internal/datasource"
	"calview/internal/model"
	"calview/internal/schedule"
	"calview/internal/timezone"
)

func at(m time.Month, d, hh int) time.Time {
	return time.Date(2024, m, d, hh, 0, 0, 0, time.UTC)
}

func loadedTable(t *testing.T) *timezone.Table {
	t.Helper()
	tz := timezone.NewTable("Europe/Berlin")
	if err := tz.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return tz
}

func timed(id string, start time.Time, d time.Duration) *model.Appointment {
	return &model.Appointment{ID: id, Subject: id, StartTime: start, EndTime: start.Add(d)}
}

func reset(t *testing.T, s State, appts ...*model.Appointment) State {
	t.Helper()
	s, err := s.ApplyChange(datasource.Change{Action: datasource.ActionReset, Appointments: appts})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func settings() Settings {
	s := DefaultSettings()
	s.TimeZone = "UTC"
	return s
}

func TestPendingUntilTimezonesLoad(t *testing.T) {
	tz := timezone.NewTable("Europe/Berlin")
	st := New(tz, at(5, 15, 8), settings())
	st = reset(t, st, timed("a", at(5, 14, 10), time.Hour))

	if !st.Pending || st.VisibleDates != nil || st.Appointments != nil {
		t.Fatalf("unloaded table should leave state pending, got %+v", st)
	}

	if err := tz.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	st = st.WithTimezones(tz)
	if st.Pending {
		t.Fatal("still pending after load")
	}
	if len(st.VisibleDates) != 7 || len(st.Appointments) != 1 {
		t.Errorf("after load: %d dates, %d appointments", len(st.VisibleDates), len(st.Appointments))
	}
}

func TestWeekViewModel(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	allDay := &model.Appointment{ID: "trip", StartTime: at(5, 13, 0), EndTime: at(5, 14, 0), IsAllDay: true}
	daily := timed("daily", at(5, 16, 9), time.Hour)
	daily.RecurrenceRule = "FREQ=DAILY;INTERVAL=1;COUNT=3"
	st = reset(t, st, timed("a", at(5, 14, 10), time.Hour), allDay, daily)

	if !st.VisibleDates[0].Equal(at(5, 12, 0)) || !st.VisibleDates[6].Equal(at(5, 18, 0)) {
		t.Fatalf("visible = %s..%s", st.VisibleDates[0], st.VisibleDates[6])
	}
	if len(st.Appointments) != 5 {
		t.Fatalf("appointments = %d, want 5", len(st.Appointments))
	}
	for i := 1; i < len(st.Appointments); i++ {
		if st.Appointments[i].ActualStartTime.Before(st.Appointments[i-1].ActualStartTime) {
			t.Error("appointments not sorted by start")
		}
	}

	if len(st.AllDay) != 1 || st.AllDay[0].StartIndex != 1 || st.AllDay[0].EndIndex != 3 {
		t.Errorf("all-day band = %+v", st.AllDay)
	}
	if len(st.Days) != 7 {
		t.Fatalf("days = %d", len(st.Days))
	}
	if len(st.Days[2]) != 1 || st.Days[2][0].StartIndex != 600 {
		t.Errorf("May 14 slots = %+v", st.Days[2])
	}
	for i := 4; i < 7; i++ {
		if len(st.Days[i]) != 1 || !st.Days[i][0].Appointment.IsOccurrence {
			t.Errorf("day %d should hold one occurrence", i)
		}
	}
}

func TestDisplayZoneConversion(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	a := timed("berlin", at(5, 14, 9), time.Hour)
	a.StartTimeZone = "Europe/Berlin"
	st = reset(t, st, a)

	if len(st.Appointments) != 1 {
		t.Fatalf("appointments = %d", len(st.Appointments))
	}
	got := st.Appointments[0].ActualStartTime
	if got.Hour() != 7 || got.Location() != time.UTC {
		t.Errorf("09:00 Berlin shown as %s, want 07:00 UTC", got)
	}
	if src := st.Source(); src[0].StartTime.Hour() != 9 {
		t.Error("normalization leaked into the raw appointment")
	}
}

func TestRecurringZoneAcrossDST(t *testing.T) {
	st := New(loadedTable(t), time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), settings())
	weekly := timed("ny-sync", time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), time.Hour)
	weekly.StartTimeZone = "America/New_York"
	weekly.RecurrenceRule = "FREQ=WEEKLY;INTERVAL=1"
	st = reset(t, st, weekly)

	tests := []struct {
		date     time.Time
		wantHour int
	}{
		{time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), 14},
		{at(3, 4, 0), 14},
		{at(3, 11, 0), 13},
		{time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC), 13},
		{time.Date(2024, 11, 4, 0, 0, 0, 0, time.UTC), 14},
	}
	for _, tt := range tests {
		view := st.Navigate(tt.date)
		if len(view.Appointments) != 1 {
			t.Fatalf("%s: %d appointments, want 1", tt.date.Format(time.DateOnly), len(view.Appointments))
		}
		got := view.Appointments[0].ActualStartTime
		if got.Hour() != tt.wantHour || got.Location() != time.UTC {
			t.Errorf("%s: 09:00 New York shown as %s, want %02d:00 UTC", tt.date.Format(time.DateOnly), got, tt.wantHour)
		}
	}
}

func TestNavigationBounds(t *testing.T) {
	s := settings()
	s.MinDate = at(5, 1, 0)
	s.MaxDate = at(5, 31, 0)
	st := New(loadedTable(t), at(5, 15, 8), s)

	st = st.Navigate(at(5, 29, 0))
	if st.CanMoveNext {
		t.Error("week of May 26 is the last inside bounds")
	}
	if fwd := st.Forward(); !fwd.DisplayDate.Equal(st.DisplayDate) {
		t.Errorf("Forward moved to %s", fwd.DisplayDate)
	}
	if back := st.Backward(); !back.DisplayDate.Equal(at(5, 22, 0)) {
		t.Errorf("Backward = %s, want May 22", back.DisplayDate)
	}
	if got := st.Navigate(at(6, 30, 0)).DisplayDate; !got.Equal(at(5, 31, 0)) {
		t.Errorf("Navigate past max = %s", got)
	}
	if got := st.Select(at(4, 2, 0)).SelectedDate; !got.Equal(at(5, 1, 0)) {
		t.Errorf("Select before min = %s", got)
	}
}

func TestTransitionsDoNotMutate(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	st = reset(t, st, timed("a", at(5, 14, 10), time.Hour))
	first := st.VisibleDates[0]

	next := st.Forward().SwitchView(model.ViewMonth)
	if !st.VisibleDates[0].Equal(first) || st.Settings.View != model.ViewWeek {
		t.Error("earlier state changed")
	}
	if len(next.VisibleDates) != 42 {
		t.Errorf("month view dates = %d", len(next.VisibleDates))
	}
}

func TestMonthLeadingTrailing(t *testing.T) {
	s := settings()
	s.View = model.ViewMonth
	st := New(loadedTable(t), at(5, 15, 8), s)
	st = reset(t, st, timed("april", at(4, 30, 10), time.Hour))

	if len(st.Appointments) != 1 || len(st.AllDay) != 1 {
		t.Errorf("with leading dates: %d appointments", len(st.Appointments))
	}

	s.ShowLeadingAndTrailingDates = false
	st = st.UpdateSettings(s)
	if len(st.Appointments) != 0 {
		t.Errorf("April appointment shown in clipped May grid")
	}
}

func TestResourceSelection(t *testing.T) {
	s := settings()
	s.GroupByResource = true
	st := New(loadedTable(t), at(5, 15, 8), s)
	st = st.SetResources([]model.Resource{{ID: "room-a"}, {ID: "room-b"}})
	if st.SelectedResource != 0 {
		t.Fatalf("grouping should select row 0, got %d", st.SelectedResource)
	}

	a := timed("a", at(5, 14, 10), time.Hour)
	a.ResourceIDs = []string{"room-a"}
	b := timed("b", at(5, 14, 11), time.Hour)
	b.ResourceIDs = []string{"room-b"}
	st = reset(t, st, a, b)
	if len(st.Appointments) != 1 || st.Appointments[0].ID != "a" {
		t.Errorf("room-a shows %v", st.Appointments)
	}

	st, err := st.SelectResource(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Appointments) != 1 || st.Appointments[0].ID != "b" {
		t.Errorf("room-b shows %v", st.Appointments)
	}

	if _, err := st.SelectResource(5); !errors.Is(err, ErrResourceIndex) {
		t.Errorf("out of range err = %v", err)
	}
	st, _ = st.SelectResource(-1)
	if st.SelectedResource != 0 {
		t.Errorf("cleared selection = %d, want 0", st.SelectedResource)
	}
}

func TestRegionsExpand(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	st = st.SetRegions([]*model.TimeRegion{{
		StartTime:      at(5, 1, 12),
		EndTime:        at(5, 1, 13),
		Text:           "Lunch",
		RecurrenceRule: "FREQ=DAILY;INTERVAL=1",
	}})
	if len(st.Regions) != 7 {
		t.Errorf("regions in week = %d, want 7", len(st.Regions))
	}
}

func TestScheduleViewAgenda(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	st = reset(t, st, timed("a", at(5, 15, 10), time.Hour), timed("b", at(5, 15, 9), time.Hour))
	st = st.SwitchView(model.ViewSchedule)

	if len(st.Days) != 1 || len(st.Days[0]) != 2 {
		t.Fatalf("agenda = %+v", st.Days)
	}
	if st.Days[0][0].Appointment.ID != "b" {
		t.Error("agenda rows not ordered by start")
	}
}

func TestTimelineViewLanes(t *testing.T) {
	st := New(loadedTable(t), at(5, 15, 8), settings())
	st = reset(t, st, timed("a", at(5, 14, 10), time.Hour), timed("b", at(5, 14, 10), 2*time.Hour))
	st = st.SwitchView(model.ViewTimelineWeek)

	if st.Days != nil {
		t.Errorf("timeline view should not build day columns, got %d", len(st.Days))
	}
	if len(st.AllDay) != 2 {
		t.Fatalf("lanes = %+v", st.AllDay)
	}
	// Longer items sort first on equal starts; May 14 is the third visible date.
	a := st.AllDay[1]
	if a.Appointment.ID != "a" || a.StartIndex != 2*1440+600 || a.EndIndex != 2*1440+660 {
		t.Errorf("a spans [%d, %d)", a.StartIndex, a.EndIndex)
	}
	if st.AllDay[0].Position == st.AllDay[1].Position {
		t.Error("overlapping items share a lane")
	}
}

func TestApplyChangeErrorKeepsState(t *testing.T) {
	e := NewEngine(New(loadedTable(t), at(5, 15, 8), settings()))
	if err := e.ApplyChange(datasource.Change{Action: datasource.ActionAdd, Appointments: []*model.Appointment{timed("a", at(5, 14, 10), time.Hour)}}); err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyChange(datasource.Change{Action: datasource.Action(9)}); err == nil {
		t.Fatal("bad action accepted")
	}
	if n := len(e.State().Source()); n != 1 {
		t.Errorf("source = %d after failed change", n)
	}
}

func TestEngineScheduleEntries(t *testing.T) {
	e := NewEngine(New(loadedTable(t), at(5, 15, 8), settings()))
	entries := e.ScheduleEntries(-2, 3)
	if len(entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if !entries[i].WeekStart.Equal(entries[i-1].WeekStart.AddDate(0, 0, 7)) {
			t.Errorf("entry %d out of order", i)
		}
	}
	if !entries[2].WeekStart.Equal(at(5, 12, 0)) {
		t.Errorf("anchor week = %s", entries[2].WeekStart)
	}

	pending := NewEngine(New(timezone.NewTable(), at(5, 15, 8), settings()))
	if n := len(pending.ScheduleEntries(0, 3)); n != 0 {
		t.Errorf("pending engine produced %d entries", n)
	}
}

func TestEngineLoadMore(t *testing.T) {
	e := NewEngine(New(loadedTable(t), at(5, 15, 8), settings()))
	if e.LoadMore(context.Background(), schedule.Forward, nil) {
		t.Fatal("load-more without callback started")
	}

	var gotFrom, gotTo time.Time
	e.SetLoadMore(func(_ context.Context, from, to time.Time) ([]*model.Appointment, error) {
		gotFrom, gotTo = from, to
		return []*model.Appointment{timed("late", at(6, 3, 10), time.Hour)}, nil
	})

	done := make(chan error, 1)
	if !e.LoadMore(context.Background(), schedule.Forward, func(err error) { done <- err }) {
		t.Fatal("load-more refused")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("load-more never finished")
	}

	if !gotFrom.Equal(at(5, 12, 0)) || !gotTo.After(gotFrom) {
		t.Errorf("requested range %s..%s", gotFrom, gotTo)
	}
	if src := e.State().Source(); len(src) != 1 || src[0].ID != "late" {
		t.Errorf("source after load-more = %v", src)
	}
	if e.LoadInFlight(schedule.Forward) {
		t.Error("in-flight flag left set")
	}
}
