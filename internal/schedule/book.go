package schedule

import (
	"time"

	"calview/internal/appointment"
	"calview/internal/layout"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/timezone"
	"calview/internal/viewdates"
)

const (
	defaultBatchSize = 50

	// maxScanWeeks bounds how far one batch looks for non-empty weeks when
	// empty weeks are hidden.
	maxScanWeeks = 520
)

// Settings control block heights and batching of the schedule list.
type Settings struct {
	BatchSize          int     `yaml:"batch_size" json:"batch_size"`
	WeekLabelHeight    float64 `yaml:"week_label_height" json:"week_label_height"`
	MonthHeaderHeight  float64 `yaml:"month_header_height" json:"month_header_height"`
	AppointmentHeight  float64 `yaml:"appointment_height" json:"appointment_height"`
	AppointmentPadding float64 `yaml:"appointment_padding" json:"appointment_padding"`
	DayPadding         float64 `yaml:"day_padding" json:"day_padding"`
	HideEmptyWeeks     bool    `yaml:"hide_empty_weeks" json:"hide_empty_weeks"`
}

// DefaultSettings mirrors a typical agenda layout.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:          defaultBatchSize,
		WeekLabelHeight:    30,
		MonthHeaderHeight:  150,
		AppointmentHeight:  50,
		AppointmentPadding: 2,
		DayPadding:         5,
	}
}

// Input is everything a block height depends on besides Settings.
type Input struct {
	Anchor         time.Time
	Today          time.Time
	MinDate        time.Time
	MaxDate        time.Time
	FirstDayOfWeek int
	Appointments   []*model.Appointment
	// Zones resolves appointment zones for recurrence expansion.
	Zones *timezone.Table
}

// Entry is the materialized state of one list index.
type Entry struct {
	WeekStart time.Time
	// BlockHeight is this week's own height.
	BlockHeight float64
	// Height is the total height from the anchor block up to and including
	// this block, in the direction of the index.
	Height float64
	// IntersectionPoint is the offset inside the block where the month label
	// switches; zero unless the week spans two months.
	IntersectionPoint float64
}

// Book keeps the schedule list's height table. Index 0 is the anchor week,
// positive indices grow forward and negative ones backward. Both directions
// are appended in batches and never recomputed until the book is reset.
type Book struct {
	settings Settings
	in       Input

	forwardDates  []time.Time
	backwardDates []time.Time
	forwardDone   bool
	backwardDone  bool

	// Next week start each direction scans from; zero before the first batch.
	forwardNext  time.Time
	backwardNext time.Time

	forward  map[int]Entry
	backward map[int]Entry
}

func New(s Settings, in Input) *Book {
	b := &Book{}
	b.Reset(s, in)
	return b
}

// Reset replaces the inputs and drops every computed date and height.
func (b *Book) Reset(s Settings, in Input) {
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	b.settings = s
	b.in = in
	b.Invalidate()
}

// Invalidate clears both height maps and both date lists.
func (b *Book) Invalidate() {
	b.forwardDates = nil
	b.backwardDates = nil
	b.forwardDone = false
	b.backwardDone = false
	b.forwardNext = time.Time{}
	b.backwardNext = time.Time{}
	b.forward = make(map[int]Entry)
	b.backward = make(map[int]Entry)
}

func (b *Book) Settings() Settings { return b.settings }

// Materialized reports how many entries are cached in each direction.
func (b *Book) Materialized() (backward, forward int) {
	return len(b.backward), len(b.forward)
}

// Entry returns the entry for index, computing it and every index between
// it and the anchor on first use. ok is false past min/max date, and while
// hidden empty weeks leave no kept week within one scan.
func (b *Book) Entry(index int) (Entry, bool) {
	if index >= 0 {
		return b.entry(index, b.forward, &b.forwardDates, true)
	}
	return b.entry(-index-1, b.backward, &b.backwardDates, false)
}

func (b *Book) entry(k int, cache map[int]Entry, dates *[]time.Time, forward bool) (Entry, bool) {
	key := k
	if !forward {
		key = -k - 1
	}
	if e, ok := cache[key]; ok {
		return e, true
	}

	for len(*dates) <= k {
		if !b.grow(forward) {
			return Entry{}, false
		}
	}

	total := 0.0
	start := 0
	// Resume from the furthest cached entry.
	for i := k - 1; i >= 0; i-- {
		prevKey := i
		if !forward {
			prevKey = -i - 1
		}
		if e, ok := cache[prevKey]; ok {
			total = e.Height
			start = i + 1
			break
		}
	}
	var e Entry
	for i := start; i <= k; i++ {
		e = b.block((*dates)[i])
		total += e.BlockHeight
		e.Height = total
		ck := i
		if !forward {
			ck = -i - 1
		}
		cache[ck] = e
	}
	return e, true
}

// grow appends one batch of week starts in a direction. It reports false
// when the batch added nothing. The direction is only closed at min/max date
// or when no appointment lies beyond the scanned weeks; otherwise the next
// call resumes where this scan stopped.
func (b *Book) grow(forward bool) bool {
	done := &b.backwardDone
	dates := &b.backwardDates
	next := &b.backwardNext
	if forward {
		done = &b.forwardDone
		dates = &b.forwardDates
		next = &b.forwardNext
	}
	if *done {
		return false
	}

	anchorWeek := viewdates.WeekStart(b.in.Anchor, b.firstDay())
	var cursor time.Time
	switch {
	case !next.IsZero():
		cursor = *next
	case len(*dates) > 0 && forward:
		cursor = (*dates)[len(*dates)-1].AddDate(0, 0, 7)
	case len(*dates) > 0:
		cursor = (*dates)[len(*dates)-1].AddDate(0, 0, -7)
	case forward:
		cursor = anchorWeek
	default:
		cursor = anchorWeek.AddDate(0, 0, -7)
	}

	step := 7
	if !forward {
		step = -7
	}

	added := 0
	for scanned := 0; added < b.settings.BatchSize && scanned < maxScanWeeks; scanned++ {
		weekEnd := cursor.AddDate(0, 0, 6)
		if forward && !b.in.MaxDate.IsZero() && model.CompareDate(cursor, b.in.MaxDate) > 0 {
			*done = true
			break
		}
		if !forward && !b.in.MinDate.IsZero() && model.CompareDate(weekEnd, b.in.MinDate) < 0 {
			*done = true
			break
		}
		if b.keepWeek(cursor) {
			*dates = append(*dates, cursor)
			added++
		}
		cursor = cursor.AddDate(0, 0, step)
	}

	*next = cursor

	if added == 0 && !*done && !b.appointmentsBeyond(cursor, forward) {
		*done = true
	}
	appLog.Debug("schedule batch generated", "forward", forward, "added", added, "total", len(*dates), "done", *done)
	return added > 0
}

// appointmentsBeyond reports whether any appointment could still fall in
// the week at cursor or further in the given direction. Recurring masters
// always could. A day of slack covers zone offsets of the raw times.
func (b *Book) appointmentsBeyond(cursor time.Time, forward bool) bool {
	for _, a := range b.in.Appointments {
		if a.RecurrenceRule != "" && !a.IsOccurrence {
			return true
		}
		if forward && model.CompareDate(a.EndTime, cursor.AddDate(0, 0, -1)) >= 0 {
			return true
		}
		if !forward && model.CompareDate(a.StartTime, cursor.AddDate(0, 0, 7)) <= 0 {
			return true
		}
	}
	return false
}

func (b *Book) firstDay() int {
	if b.in.FirstDayOfWeek < 1 || b.in.FirstDayOfWeek > 7 {
		return 7
	}
	return b.in.FirstDayOfWeek
}

func (b *Book) window(weekStart time.Time) appointment.Window {
	return appointment.Window{Start: weekStart, End: weekStart.AddDate(0, 0, 6)}
}

// keepWeek reports whether a candidate week belongs in the list.
func (b *Book) keepWeek(weekStart time.Time) bool {
	if !b.settings.HideEmptyWeeks {
		return true
	}
	w := b.window(weekStart)
	if w.Contains(b.in.Anchor) || (!b.in.Today.IsZero() && w.Contains(b.in.Today)) {
		return true
	}
	return len(appointment.Visible(w, b.in.Appointments, appointment.Options{Zones: b.in.Zones})) > 0
}

// block computes one week's height and month-switch offset.
func (b *Book) block(weekStart time.Time) Entry {
	s := b.settings
	appts := appointment.Visible(b.window(weekStart), b.in.Appointments, appointment.Options{Zones: b.in.Zones})

	e := Entry{WeekStart: weekStart}
	h := s.WeekLabelHeight
	spansMonths := weekStart.Month() != weekStart.AddDate(0, 0, 6).Month()
	startsMonth := false

	for i := 0; i < 7; i++ {
		d := weekStart.AddDate(0, 0, i)
		if d.Day() == 1 {
			startsMonth = true
			if spansMonths {
				e.IntersectionPoint = h
			}
		}
		rows := len(layout.AgendaViews(d, appts))
		if rows == 0 && (model.SameDate(d, b.in.Today) || model.SameDate(d, b.in.Anchor)) {
			// "No events" row.
			rows = 1
		}
		if rows > 0 {
			h += float64(rows)*(s.AppointmentHeight+s.AppointmentPadding) + s.DayPadding
		}
	}
	if startsMonth {
		h += s.MonthHeaderHeight
	}
	e.BlockHeight = h
	return e
}

// NextRange is the date span the next batch in a direction would cover,
// used to ask an external source for more appointments.
func (b *Book) NextRange(forward bool) (start, end time.Time) {
	span := b.settings.BatchSize * 7
	anchorWeek := viewdates.WeekStart(b.in.Anchor, b.firstDay())
	if forward {
		start = anchorWeek
		if !b.forwardNext.IsZero() {
			start = b.forwardNext
		}
		return start, start.AddDate(0, 0, span-1)
	}
	end = anchorWeek.AddDate(0, 0, -1)
	if !b.backwardNext.IsZero() {
		end = b.backwardNext.AddDate(0, 0, 6)
	}
	return end.AddDate(0, 0, -span+1), end
}
