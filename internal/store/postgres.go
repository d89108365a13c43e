package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	appLog "calview/internal/log"
	"calview/internal/model"
)

// Schema creates the appointments table. Times are stored as the wall clock
// of their own zone, labeled UTC.
const Schema = `CREATE TABLE IF NOT EXISTS appointments (
	id            text PRIMARY KEY,
	subject       text NOT NULL DEFAULT '',
	notes         text NOT NULL DEFAULT '',
	location      text NOT NULL DEFAULT '',
	color         text NOT NULL DEFAULT '',
	start_at      timestamptz NOT NULL,
	end_at        timestamptz NOT NULL,
	start_tz      text NOT NULL DEFAULT '',
	end_tz        text NOT NULL DEFAULT '',
	all_day       boolean NOT NULL DEFAULT false,
	rrule         text NOT NULL DEFAULT '',
	exdates       timestamptz[] NOT NULL DEFAULT '{}',
	recurrence_id text NOT NULL DEFAULT '',
	resource_ids  text[] NOT NULL DEFAULT '{}',
	updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS appointments_start_at ON appointments (start_at);`

const columns = `id, subject, notes, location, color, start_at, end_at, start_tz, end_tz,
	all_day, rrule, exdates, recurrence_id, resource_ids`

// rangeQuery selects rows touching [$1, $2). Recurring masters that start
// before the end are always returned; expansion decides if they recur in.
const rangeQuery = `SELECT ` + columns + `
	FROM appointments
	WHERE start_at < $2 AND (end_at >= $1 OR (rrule <> '' AND recurrence_id = ''))
	ORDER BY start_at, id`

const upsertQuery = `INSERT INTO appointments (` + columns + `, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14, now())
	ON CONFLICT (id) DO UPDATE SET
		subject = EXCLUDED.subject,
		notes = EXCLUDED.notes,
		location = EXCLUDED.location,
		color = EXCLUDED.color,
		start_at = EXCLUDED.start_at,
		end_at = EXCLUDED.end_at,
		start_tz = EXCLUDED.start_tz,
		end_tz = EXCLUDED.end_tz,
		all_day = EXCLUDED.all_day,
		rrule = EXCLUDED.rrule,
		exdates = EXCLUDED.exdates,
		recurrence_id = EXCLUDED.recurrence_id,
		resource_ids = EXCLUDED.resource_ids,
		updated_at = now()`

// DB is the part of a pgx pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Postgres struct {
	db DB
}

func New(db DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects a pool and ensures the schema exists.
func Open(ctx context.Context, url string) (*Postgres, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	p := New(pool)
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return p, pool, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Range returns the appointments that may be visible in the dates
// [from, to], both inclusive.
func (p *Postgres) Range(ctx context.Context, from, to time.Time) ([]*model.Appointment, error) {
	lo := model.DateOf(from)
	hi := model.DateOf(to).AddDate(0, 0, 1)
	rows, err := p.db.Query(ctx, rangeQuery, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("store: range: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: range scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: range: %w", err)
	}
	appLog.Debug("store range loaded", "from", lo.Format(time.DateOnly), "to", hi.Format(time.DateOnly), "count", len(out))
	return out, nil
}

// Upsert inserts or replaces appointments by ID.
func (p *Postgres) Upsert(ctx context.Context, appts []*model.Appointment) error {
	for _, a := range appts {
		if _, err := p.db.Exec(ctx, upsertQuery, upsertArgs(a)...); err != nil {
			return fmt.Errorf("store: upsert %s: %w", a.ID, err)
		}
	}
	return nil
}

func upsertArgs(a *model.Appointment) []any {
	ex := make([]time.Time, len(a.RecurrenceExceptionDates))
	for i, d := range a.RecurrenceExceptionDates {
		ex[i] = wallUTC(d)
	}
	res := a.ResourceIDs
	if res == nil {
		res = []string{}
	}
	start, startTZ := storedTime(a.StartTime, a.StartTimeZone)
	end, endTZ := storedTime(a.EndTime, a.EndTimeZone)
	if a.IsAllDay {
		start, startTZ = wallUTC(a.StartTime), ""
		end, endTZ = wallUTC(a.EndTime), ""
	}
	return []any{
		a.ID, a.Subject, a.Notes, a.Location, a.Color,
		start, end, startTZ, endTZ,
		a.IsAllDay, a.RecurrenceRule, ex, a.RecurrenceID, res,
	}
}

// storedTime returns the column value and zone name for t. With a declared
// zone the wall clock is stored labeled UTC. A zone carried only by t's
// location is written out by name when it can be loaded again; anything
// else is stored as its UTC instant.
func storedTime(t time.Time, zone string) (time.Time, string) {
	if zone != "" {
		return wallUTC(t), zone
	}
	name := t.Location().String()
	if name == "" || name == "UTC" {
		return t.UTC(), ""
	}
	if _, err := time.LoadLocation(name); err == nil {
		return wallUTC(t), name
	}
	return t.UTC(), ""
}

// wallUTC relabels t's wall clock as UTC.
func wallUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (*model.Appointment, error) {
	var a model.Appointment
	var ex []time.Time
	if err := row.Scan(&a.ID, &a.Subject, &a.Notes, &a.Location, &a.Color,
		&a.StartTime, &a.EndTime, &a.StartTimeZone, &a.EndTimeZone,
		&a.IsAllDay, &a.RecurrenceRule, &ex, &a.RecurrenceID, &a.ResourceIDs); err != nil {
		return nil, err
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	for _, d := range ex {
		a.RecurrenceExceptionDates = append(a.RecurrenceExceptionDates, d.UTC())
	}
	if len(a.ResourceIDs) == 0 {
		a.ResourceIDs = nil
	}
	a.ActualStartTime = a.StartTime
	a.ActualEndTime = a.EndTime
	if a.ActualEndTime.Before(a.ActualStartTime) {
		a.ActualEndTime = a.ActualStartTime
	}
	return &a, nil
}
