package calendar

import (
	"context"
	"sync"
	"time"

	"calview/internal/datasource"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/schedule"
)

// LoadMoreFunc fetches appointments for the date span [from, to].
type LoadMoreFunc func(ctx context.Context, from, to time.Time) ([]*model.Appointment, error)

// Engine serializes every transition on one State and owns the schedule
// height book derived from it. It is the single writer shared by HTTP
// handlers, watchers and refresh jobs.
type Engine struct {
	mu    sync.Mutex
	state State
	book  *schedule.Book

	loader   schedule.Loader
	loadMore LoadMoreFunc
}

func NewEngine(st State) *Engine {
	return &Engine{
		state: st,
		book:  schedule.New(st.Settings.Schedule, st.ScheduleInput()),
	}
}

// SetLoadMore installs the callback used by LoadMore.
func (e *Engine) SetLoadMore(fn LoadMoreFunc) {
	e.mu.Lock()
	e.loadMore = fn
	e.mu.Unlock()
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Update applies fn to the current state. On error the state is kept.
// Any successful update resets the schedule book.
func (e *Engine) Update(fn func(State) (State, error)) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	next, err := fn(e.state)
	if err != nil {
		return e.state, err
	}
	e.state = next
	e.book.Reset(next.Settings.Schedule, next.ScheduleInput())
	return next, nil
}

// Apply is Update for transitions that cannot fail.
func (e *Engine) Apply(fn func(State) State) State {
	st, _ := e.Update(func(s State) (State, error) { return fn(s), nil })
	return st
}

// ApplyChange forwards a data source change.
func (e *Engine) ApplyChange(ch datasource.Change) error {
	_, err := e.Update(func(s State) (State, error) { return s.ApplyChange(ch) })
	return err
}

// ScheduleEntries materializes schedule indices [from, to). Materializing
// stops at the first index past the date bounds; nothing is computed while
// the timezone table is pending.
func (e *Engine) ScheduleEntries(from, to int) []schedule.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schedule.Entry, 0)
	if e.state.Pending {
		return out
	}
	// Backward entries are materialized outward from the anchor.
	for i := min(to-1, -1); i >= from; i-- {
		en, ok := e.book.Entry(i)
		if !ok {
			break
		}
		out = append([]schedule.Entry{en}, out...)
	}
	for i := max(from, 0); i < to; i++ {
		en, ok := e.book.Entry(i)
		if !ok {
			break
		}
		out = append(out, en)
	}
	return out
}

// LoadMore asks the load-more callback for the next batch in direction d
// and adds the result. It returns false when no callback is set or a load
// in that direction is already running. done, if set, runs after the
// result is applied.
func (e *Engine) LoadMore(ctx context.Context, d schedule.Direction, done func(error)) bool {
	e.mu.Lock()
	fn := e.loadMore
	from, to := e.book.NextRange(d == schedule.Forward)
	e.mu.Unlock()
	if fn == nil {
		return false
	}

	return e.loader.Run(ctx, d, func(ctx context.Context) error {
		appts, err := fn(ctx, from, to)
		if err != nil {
			return err
		}
		appLog.Info("schedule load-more fetched", "direction", d.String(), "count", len(appts))
		return e.ApplyChange(datasource.Change{Action: datasource.ActionAdd, Appointments: appts})
	}, done)
}

// LoadInFlight reports whether a load-more call for d is running.
func (e *Engine) LoadInFlight(d schedule.Direction) bool {
	return e.loader.InFlight(d)
}
