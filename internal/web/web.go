package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calview/internal/calendar"
	"calview/internal/config"
	"calview/internal/ics"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/recurrence"
	"calview/internal/schedule"
)

const (
	defaultRulePreview = 10
	maxRulePreview     = 500
	maxScheduleSpan    = 520
)

// Server exposes the calendar engine over HTTP.
type Server struct {
	cfg    *config.Config
	engine *calendar.Engine
	mux    *http.ServeMux

	// now is replaceable in tests.
	now func() time.Time
}

func NewServer(cfg *config.Config, engine *calendar.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		mux:    http.NewServeMux(),
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the mux, wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every path except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calview", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("POST /api/view", s.handleView)
	s.mux.HandleFunc("GET /api/schedule", s.handleSchedule)
	s.mux.HandleFunc("POST /api/schedule/load", s.handleScheduleLoad)
	s.mux.HandleFunc("GET /api/rrule", s.handleRule)
	s.mux.HandleFunc("GET /api/export.ics", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// viewTransition turns query parameters into a state transition:
// view=<name>, date=YYYY-MM-DD, nav=next|prev|today, resource=<index>.
func (s *Server) viewTransition(r *http.Request) (func(calendar.State) (calendar.State, error), error) {
	q := r.URL.Query()

	var steps []func(calendar.State) (calendar.State, error)
	if v := q.Get("view"); v != "" {
		view, err := model.ParseView(v)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.SwitchView(view), nil })
	}
	if d := q.Get("date"); d != "" {
		date, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, errors.New("date must be YYYY-MM-DD")
		}
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.Navigate(date), nil })
	}
	switch q.Get("nav") {
	case "":
	case "next":
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.Forward(), nil })
	case "prev":
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.Backward(), nil })
	case "today":
		today := s.now()
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.Navigate(today), nil })
	default:
		return nil, errors.New("nav must be next, prev or today")
	}
	if res := q.Get("resource"); res != "" {
		i, err := strconv.Atoi(res)
		if err != nil {
			return nil, errors.New("resource must be an index")
		}
		steps = append(steps, func(st calendar.State) (calendar.State, error) { return st.SelectResource(i) })
	}

	return func(st calendar.State) (calendar.State, error) {
		var err error
		for _, step := range steps {
			if st, err = step(st); err != nil {
				return st, err
			}
		}
		return st, nil
	}, nil
}

// handleView renders the view model. GET previews the requested
// transition without keeping it; POST commits it.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	fn, err := s.viewTransition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var st calendar.State
	if r.Method == http.MethodPost {
		st, err = s.engine.Update(fn)
	} else {
		st, err = fn(s.engine.State())
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if st.Pending {
		writeJSON(w, http.StatusServiceUnavailable, viewResponse{Pending: true})
		return
	}
	writeJSON(w, http.StatusOK, newViewResponse(st))
}

// handleSchedule returns height entries for list indices [from, to).
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := parseIntDefault(q.Get("from"), 0)
	to, err2 := parseIntDefault(q.Get("to"), 10)
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be integers")
		return
	}
	if to < from || to-from > maxScheduleSpan {
		writeError(w, http.StatusBadRequest, "invalid index range")
		return
	}
	if s.engine.State().Pending {
		writeJSON(w, http.StatusServiceUnavailable, scheduleResponse{Pending: true})
		return
	}

	entries := s.engine.ScheduleEntries(from, to)
	out := scheduleResponse{Entries: make([]entryDTO, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, entryDTO{
			WeekStart:         e.WeekStart.Format(time.DateOnly),
			BlockHeight:       e.BlockHeight,
			Height:            e.Height,
			IntersectionPoint: e.IntersectionPoint,
		})
	}
	out.LoadingForward = s.engine.LoadInFlight(schedule.Forward)
	out.LoadingBackward = s.engine.LoadInFlight(schedule.Backward)
	writeJSON(w, http.StatusOK, out)
}

// handleScheduleLoad starts a load-more call. It answers 202 when the call
// was started and 409 when one is already running for that direction.
func (s *Server) handleScheduleLoad(w http.ResponseWriter, r *http.Request) {
	var d schedule.Direction
	switch r.URL.Query().Get("direction") {
	case "", "forward":
		d = schedule.Forward
	case "backward":
		d = schedule.Backward
	default:
		writeError(w, http.StatusBadRequest, "direction must be forward or backward")
		return
	}

	// The load outlives the request.
	if !s.engine.LoadMore(context.WithoutCancel(r.Context()), d, nil) {
		writeError(w, http.StatusConflict, "load already running or not configured")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"direction": d.String()})
}

// handleRule parses a rule, echoes its canonical form with the selectors an
// editor would prefill from start, and previews the first occurrences.
func (s *Server) handleRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := q.Get("rule")
	if rule == "" {
		writeError(w, http.StatusBadRequest, "rule is required")
		return
	}
	props, err := recurrence.Parse(rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := s.now().UTC().Truncate(time.Minute)
	if v := q.Get("start"); v != "" {
		if start, err = parseStart(v); err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD or RFC3339")
			return
		}
	}
	count, err := parseIntDefault(q.Get("count"), defaultRulePreview)
	if err != nil || count < 1 || count > maxRulePreview {
		writeError(w, http.StatusBadRequest, "count must be between 1 and 500")
		return
	}

	props.FillDefaults(start)
	canonical := recurrence.Generate(props)
	occ := recurrence.Expand(canonical, start, recurrence.Options{
		ClampEnd: start.AddDate(10, 0, 0),
		Max:      count,
	})
	resp := ruleResponse{
		Rule:        canonical,
		Frequency:   props.Type.String(),
		Interval:    props.Interval,
		Range:       props.RangeType.String(),
		Count:       props.Count,
		Occurrences: make([]time.Time, 0, len(occ)),
	}
	if props.RangeType == recurrence.EndDate {
		resp.Until = props.EndDate.Format(time.DateOnly)
	}
	for _, wd := range props.WeekDays {
		resp.WeekDays = append(resp.WeekDays, wd.String())
	}
	resp.Occurrences = append(resp.Occurrences, occ...)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.State()
	if st.Pending {
		writeError(w, http.StatusServiceUnavailable, "timezones loading")
		return
	}
	body := ics.Export(st.Normalized(), s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calview.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func parseStart(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(s))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
