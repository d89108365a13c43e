package timezone

import (
	"context"
	"testing"
	"time"

	"calview/internal/model"
)

func loadedTable(t *testing.T, names ...string) *Table {
	t.Helper()
	tb := NewTable(names...)
	if err := tb.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tb
}

func TestLoadedFlag(t *testing.T) {
	tb := NewTable("Asia/Seoul")
	if tb.Loaded() {
		t.Fatal("table reports loaded before Load")
	}
	if err := tb.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !tb.Loaded() {
		t.Fatal("table not loaded after Load")
	}
	var nilTable *Table
	if nilTable.Loaded() {
		t.Error("nil table must report not loaded")
	}
}

func TestLoadSkipsUnknownZone(t *testing.T) {
	tb := loadedTable(t, "Not/AZone", "Europe/Berlin")
	if _, err := tb.Location("Europe/Berlin"); err != nil {
		t.Errorf("Europe/Berlin: %v", err)
	}
	if _, err := tb.Location("Not/AZone"); err == nil {
		t.Error("expected error for unknown zone")
	}
}

func TestLoadHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tb := NewTable("Asia/Seoul")
	if err := tb.Load(ctx); err == nil {
		t.Error("expected context error")
	}
	if tb.Loaded() {
		t.Error("canceled load must not mark the table loaded")
	}
}

func TestConvert(t *testing.T) {
	tb := loadedTable(t, "Asia/Seoul", "America/New_York")
	wall := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	got := tb.Convert(wall, "Asia/Seoul", "UTC")
	if want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Seoul 09:00 in UTC = %s, want %s", got, want)
	}

	got = tb.Convert(wall, "", "America/New_York")
	if got.Hour() != 4 {
		t.Errorf("UTC 09:00 in New York = %s, want 04:00", got)
	}

	if got := tb.Convert(wall, "", ""); !got.Equal(wall) {
		t.Errorf("empty zones changed the time: %s", got)
	}
}

func TestNormalize(t *testing.T) {
	tb := loadedTable(t, "Asia/Seoul")

	timed := &model.Appointment{
		StartTime:     time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		StartTimeZone: "Asia/Seoul",
	}
	tb.Normalize(timed, "UTC")
	if timed.ActualStartTime.Hour() != 0 || timed.ActualEndTime.Hour() != 1 {
		t.Errorf("timed actual = %s - %s", timed.ActualStartTime, timed.ActualEndTime)
	}

	allDay := &model.Appointment{
		StartTime:     time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC),
		EndTime:       time.Date(2024, 1, 16, 13, 0, 0, 0, time.UTC),
		StartTimeZone: "Asia/Seoul",
		IsAllDay:      true,
	}
	tb.Normalize(allDay, "America/New_York")
	if !model.SameDate(allDay.ActualStartTime, allDay.StartTime) || allDay.ActualStartTime.Hour() != 0 {
		t.Errorf("all-day start moved: %s", allDay.ActualStartTime)
	}

	inverted := &model.Appointment{
		StartTime: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
	tb.Normalize(inverted, "")
	if inverted.ActualEndTime.Before(inverted.ActualStartTime) {
		t.Error("actual end before actual start")
	}
}
