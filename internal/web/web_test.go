package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"calview/internal/calendar"
	"calview/internal/config"
	"calview/internal/datasource"
	"calview/internal/model"
	"calview/internal/timezone"
)

var today = time.Date(2024, 5, 15, 8, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, loaded bool) (*Server, *calendar.Engine) {
	t.Helper()
	tz := timezone.NewTable()
	if loaded {
		if err := tz.Load(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	s := calendar.DefaultSettings()
	s.TimeZone = "UTC"
	engine := calendar.NewEngine(calendar.New(tz, today, s))
	err := engine.ApplyChange(datasource.Change{Action: datasource.ActionReset, Appointments: []*model.Appointment{{
		ID:        "review",
		Subject:   "Review",
		StartTime: time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 5, 15, 11, 0, 0, 0, time.UTC),
	}}})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(config.DefaultConfig(), engine)
	srv.now = func() time.Time { return today }
	return srv, engine
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, true)
	srv.cfg.BasicAuth = &config.BasicAuthConfig{Username: "u", Password: "p"}
	h := srv.Handler()

	if rec := do(t, h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200 without credentials", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/view"); rec.Code != http.StatusUnauthorized {
		t.Errorf("/api/view = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/view", nil)
	req.SetBasicAuth("u", "p")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authorized /api/view = %d", rec.Code)
	}
}

func TestViewPending(t *testing.T) {
	srv, _ := newTestServer(t, false)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/view")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code = %d, want 503", rec.Code)
	}
	if resp := decode[viewResponse](t, rec); !resp.Pending {
		t.Error("pending flag not set")
	}
}

func TestViewModel(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/view")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[viewResponse](t, rec)
	if resp.View != "week" || len(resp.Dates) != 7 || resp.Dates[0] != "2024-05-12" {
		t.Fatalf("resp = %+v", resp)
	}
	if len(resp.Appointments) != 1 || resp.Appointments[0].ID != "review" {
		t.Fatalf("appointments = %+v", resp.Appointments)
	}
	if len(resp.Days) != 7 || len(resp.Days[3]) != 1 {
		t.Fatalf("days = %+v", resp.Days)
	}
	slot := resp.Days[3][0]
	if slot.Appointment != 0 || slot.StartIndex != 600 || slot.EndIndex != 660 {
		t.Errorf("slot = %+v", slot)
	}
}

func TestViewPreviewAndCommit(t *testing.T) {
	srv, engine := newTestServer(t, true)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/view?nav=next")
	if rec.Code != http.StatusOK {
		t.Fatalf("preview = %d", rec.Code)
	}
	if resp := decode[viewResponse](t, rec); resp.Dates[0] != "2024-05-19" {
		t.Errorf("preview dates start %s, want 2024-05-19", resp.Dates[0])
	}
	if got := engine.State().DisplayDate; !model.SameDate(got, today) {
		t.Errorf("GET committed display date %s", got)
	}

	rec = do(t, h, http.MethodPost, "/api/view?view=month&date=2024-06-10")
	if rec.Code != http.StatusOK {
		t.Fatalf("commit = %d", rec.Code)
	}
	st := engine.State()
	if st.Settings.View != model.ViewMonth || st.DisplayDate.Month() != time.June {
		t.Errorf("state after POST: view=%s date=%s", st.Settings.View, st.DisplayDate)
	}
}

func TestViewBadRequest(t *testing.T) {
	srv, engine := newTestServer(t, true)
	h := srv.Handler()
	for _, target := range []string{
		"/api/view?view=agenda",
		"/api/view?date=15.05.2024",
		"/api/view?nav=sideways",
		"/api/view?resource=x",
		"/api/view?resource=3",
	} {
		if rec := do(t, h, http.MethodPost, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, rec.Code)
		}
	}
	if got := engine.State().DisplayDate; !model.SameDate(got, today) {
		t.Errorf("rejected requests changed state: %s", got)
	}
}

func TestScheduleEntries(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/schedule?from=-2&to=3")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[scheduleResponse](t, rec)
	if len(resp.Entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(resp.Entries))
	}
	for i := 1; i < len(resp.Entries); i++ {
		if resp.Entries[i].WeekStart <= resp.Entries[i-1].WeekStart {
			t.Errorf("entries out of order at %d", i)
		}
	}
	if resp.LoadingForward || resp.LoadingBackward {
		t.Error("no load should be running")
	}

	for _, target := range []string{"/api/schedule?from=a", "/api/schedule?from=5&to=1", "/api/schedule?from=0&to=10000"} {
		if rec := do(t, h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, rec.Code)
		}
	}
}

func TestScheduleLoad(t *testing.T) {
	srv, engine := newTestServer(t, true)
	h := srv.Handler()

	if rec := do(t, h, http.MethodPost, "/api/schedule/load"); rec.Code != http.StatusConflict {
		t.Errorf("without callback = %d, want 409", rec.Code)
	}

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	engine.SetLoadMore(func(ctx context.Context, from, to time.Time) ([]*model.Appointment, error) {
		defer wg.Done()
		<-release
		return nil, ctx.Err()
	})

	if rec := do(t, h, http.MethodPost, "/api/schedule/load?direction=backward"); rec.Code != http.StatusAccepted {
		t.Fatalf("first load = %d, want 202", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/schedule/load?direction=backward"); rec.Code != http.StatusConflict {
		t.Errorf("second load = %d, want 409", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/schedule/load?direction=up"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad direction = %d, want 400", rec.Code)
	}
	close(release)
	wg.Wait()
}

func TestRulePreview(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/rrule?rule=FREQ%3DWEEKLY%3BBYDAY%3DMO%2CWE%3BCOUNT%3D4&start=2024-05-13T09:00:00Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d: %s", rec.Code, rec.Body)
	}
	resp := decode[ruleResponse](t, rec)
	if resp.Frequency != "WEEKLY" || resp.Range != "count" || resp.Count != 4 {
		t.Errorf("resp = %+v", resp)
	}
	want := []int{13, 15, 20, 22}
	if len(resp.Occurrences) != len(want) {
		t.Fatalf("occurrences = %v", resp.Occurrences)
	}
	for i, d := range want {
		if resp.Occurrences[i].Day() != d || resp.Occurrences[i].Hour() != 9 {
			t.Errorf("occurrence %d = %s, want May %d 09:00", i, resp.Occurrences[i], d)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/rrule?rule=FREQ%3DDAILY&start=2024-05-13&count=3")
	if resp := decode[ruleResponse](t, rec); len(resp.Occurrences) != 3 || resp.Range != "noEndDate" {
		t.Errorf("unbounded preview = %+v", resp)
	}

	rec = do(t, h, http.MethodGet, "/api/rrule?rule=FREQ%3DWEEKLY%3BCOUNT%3D2&start=2024-05-15")
	resp = decode[ruleResponse](t, rec)
	if resp.Rule != "FREQ=WEEKLY;INTERVAL=1;COUNT=2;BYDAY=WE" || len(resp.WeekDays) != 1 || resp.WeekDays[0] != "Wednesday" {
		t.Errorf("weekly rule not prefilled from start: %+v", resp)
	}

	for _, target := range []string{
		"/api/rrule",
		"/api/rrule?rule=INTERVAL%3D2",
		"/api/rrule?rule=FREQ%3DDAILY&count=0",
		"/api/rrule?rule=FREQ%3DDAILY&start=tomorrow",
	} {
		if rec := do(t, h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, rec.Code)
		}
	}
}

func TestExport(t *testing.T) {
	srv, _ := newTestServer(t, true)
	rec := do(t, srv.Handler(), http.MethodGet, "/api/export.ics")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "SUMMARY:Review") {
		t.Errorf("body = %s", body)
	}

	pending, _ := newTestServer(t, false)
	if rec := do(t, pending.Handler(), http.MethodGet, "/api/export.ics"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("pending export = %d, want 503", rec.Code)
	}
}
