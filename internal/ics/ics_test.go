package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"calview/internal/appointment"
	"calview/internal/model"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20240513T090000Z\r\n" +
	"DTEND:20240513T091500Z\r\n" +
	"RRULE:FREQ=DAILY;COUNT=5\r\n" +
	"EXDATE:20240514T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"RECURRENCE-ID:20240516T090000Z\r\n" +
	"DTSTART:20240516T140000Z\r\n" +
	"DTEND:20240516T141500Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20240520\r\n" +
	"DTEND;VALUE=DATE:20240522\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No UID\r\n" +
	"DTSTART:20240520T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func byID(appts []*model.Appointment) map[string]*model.Appointment {
	m := make(map[string]*model.Appointment, len(appts))
	for _, a := range appts {
		m[a.ID] = a
	}
	return m
}

func TestParse(t *testing.T) {
	appts, err := Parse(Source{ID: "work"}, []byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	if len(appts) != 3 {
		t.Fatalf("parsed %d appointments, want 3 (event without UID skipped)", len(appts))
	}
	m := byID(appts)

	master := m["work/standup"]
	if master == nil || !master.IsRecurring() {
		t.Fatalf("master = %+v", master)
	}
	if len(master.RecurrenceExceptionDates) != 2 {
		t.Errorf("master exceptions = %v, want EXDATE plus override", master.RecurrenceExceptionDates)
	}
	if !master.HasResource("work") {
		t.Error("source not recorded as resource")
	}

	moved := m["work/standup@20240516T090000Z"]
	if moved == nil || moved.RecurrenceID != "work/standup" || moved.StartTime.Hour() != 14 {
		t.Errorf("override = %+v", moved)
	}

	hol := m["work/holiday"]
	if hol == nil || !hol.IsAllDay {
		t.Fatalf("holiday = %+v", hol)
	}
	if hol.StartTime.Day() != 20 || hol.EndTime.Day() != 21 {
		t.Errorf("holiday covers %s..%s, want 20..21 inclusive", hol.StartTime, hol.EndTime)
	}
}

func TestParsedFeedExpands(t *testing.T) {
	appts, err := Parse(Source{}, []byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	w := appointment.Window{
		Start: time.Date(2024, 5, 13, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 5, 19, 0, 0, 0, 0, time.UTC),
	}
	got := appointment.Visible(w, appts, appointment.Options{})
	// COUNT=5 from May 13, minus the EXDATE and the moved occurrence, plus
	// the moved one itself.
	days := map[int]string{}
	for _, a := range got {
		days[a.ActualStartTime.Day()] = a.Subject
	}
	want := map[int]string{13: "Standup", 15: "Standup", 16: "Standup (moved)", 17: "Standup"}
	if len(days) != len(want) {
		t.Fatalf("days = %v, want %v", days, want)
	}
	for d, s := range want {
		if days[d] != s {
			t.Errorf("May %d = %q, want %q", d, days[d], s)
		}
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(Source{}, nil); err != ErrEmptyBody {
		t.Errorf("empty body err = %v", err)
	}
}

func TestExportRoundTrip(t *testing.T) {
	appts, err := Parse(Source{}, []byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	out := Export(appts, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	for _, want := range []string{"BEGIN:VCALENDAR", "RRULE:FREQ=DAILY;COUNT=5", "SUMMARY:Holiday", "EXDATE"} {
		if !strings.Contains(out, want) {
			t.Errorf("export missing %q", want)
		}
	}

	back, err := Parse(Source{}, []byte(out))
	if err != nil {
		t.Fatal(err)
	}
	m := byID(back)
	hol := m["holiday"]
	if hol == nil || !hol.IsAllDay || hol.EndTime.Day() != 21 {
		t.Errorf("holiday after round trip = %+v", hol)
	}
	if s := m["standup"]; s == nil || s.RecurrenceRule != "FREQ=DAILY;COUNT=5" {
		t.Errorf("standup after round trip = %+v", s)
	}
}

func TestExportKeepsOverrides(t *testing.T) {
	src := Source{ID: "work"}
	appts, err := Parse(src, []byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	out := Export(appts, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if !strings.Contains(out, "RECURRENCE-ID:20240516T090000Z") {
		t.Error("export missing the override's RECURRENCE-ID")
	}
	if strings.Contains(out, "work/") || strings.Contains(out, "UID:standup@") {
		t.Error("exported UIDs carry source namespace or override suffix")
	}

	back, err := Parse(src, []byte(out))
	if err != nil {
		t.Fatal(err)
	}
	before, after := byID(appts), byID(back)
	if len(after) != len(before) {
		t.Fatalf("re-import has %d appointments, want %d", len(after), len(before))
	}
	for id := range before {
		if after[id] == nil {
			t.Errorf("%s missing after re-import", id)
		}
	}

	moved := after["work/standup@20240516T090000Z"]
	if moved == nil || moved.RecurrenceID != "work/standup" || moved.RecurrenceRule != "" {
		t.Fatalf("override after re-import = %+v", moved)
	}
	if moved.StartTime.Hour() != 14 {
		t.Errorf("override start = %s, want 14:00", moved.StartTime)
	}
	if ex := after["work/standup"].RecurrenceExceptionDates; len(ex) != 2 {
		t.Errorf("master exceptions = %v, want 2 without duplicates", ex)
	}
}

func TestFetchCachesAndFallsBack(t *testing.T) {
	var hits, fail atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() == 1 {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "work", URL: srv.URL + "/cal.ics?token=secret"}

	res, err := f.FetchOne(context.Background(), src)
	if err != nil || res.FromCache {
		t.Fatalf("first fetch: %v, cache=%v", err, res.FromCache)
	}
	res, err = f.FetchOne(context.Background(), src)
	if err != nil || !res.FromCache || string(res.Body) != feed {
		t.Fatalf("304 fetch: %v, cache=%v", err, res.FromCache)
	}

	fail.Store(1)
	res, err = f.FetchOne(context.Background(), src)
	if err != nil || !res.FromCache {
		t.Fatalf("outage fetch: %v, cache=%v", err, res.FromCache)
	}

	appts, errs := f.FetchAppointments(context.Background(), []Source{src, {ID: "empty"}})
	if len(errs) != 1 || len(appts) != 3 {
		t.Errorf("FetchAppointments = %d appointments, %v", len(appts), errs)
	}
	if hits.Load() != 4 {
		t.Errorf("server hits = %d", hits.Load())
	}
}

func TestFetchNoCacheFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), srv.Client())
	if _, err := f.FetchOne(context.Background(), Source{URL: srv.URL}); err == nil {
		t.Error("404 without cache should fail")
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://cal.example.com/private/abc.ics?token=x"); got != "https://cal.example.com/...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
	if got := redactURL("not a url"); got != "ics://...(redacted)" {
		t.Errorf("redactURL = %q", got)
	}
}
