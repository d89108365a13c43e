package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"calview/internal/model"
)

// Type is the recurrence frequency.
type Type int

const (
	Daily Type = iota
	Weekly
	Monthly
	Yearly
)

var typeNames = map[Type]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// RangeType selects how a rule ends. Exactly one is active per rule.
type RangeType int

const (
	NoEndDate RangeType = iota
	Count
	EndDate
)

func (r RangeType) String() string {
	switch r {
	case Count:
		return "count"
	case EndDate:
		return "endDate"
	default:
		return "noEndDate"
	}
}

var (
	ErrMissingFrequency     = errors.New("recurrence: rule has no FREQ")
	ErrUnsupportedFrequency = errors.New("recurrence: unsupported FREQ")
	ErrCountAndUntil        = errors.New("recurrence: COUNT and UNTIL are mutually exclusive")
)

// Properties is the structured form of a rule string.
type Properties struct {
	Type     Type
	Interval int

	// WeekDays is BYDAY, kept in Sunday..Saturday order.
	WeekDays []time.Weekday
	// DayOfMonth is BYMONTHDAY; 0 when unset.
	DayOfMonth int
	// Week is BYSETPOS (or an ordinal BYDAY prefix); -1 is the last week, 0 unset.
	Week int
	// Month is BYMONTH; 0 when unset.
	Month time.Month

	RangeType RangeType
	Count     int
	// EndDate is the UNTIL calendar date; only the date part is significant.
	EndDate time.Time
}

// Equal compares two rules field by field, matching EndDate by calendar date.
func (p Properties) Equal(o Properties) bool {
	if p.Type != o.Type || p.Interval != o.Interval || p.DayOfMonth != o.DayOfMonth ||
		p.Week != o.Week || p.Month != o.Month || p.RangeType != o.RangeType {
		return false
	}
	a, b := slices.Clone(p.WeekDays), slices.Clone(o.WeekDays)
	slices.Sort(a)
	slices.Sort(b)
	if !slices.Equal(a, b) {
		return false
	}
	switch p.RangeType {
	case Count:
		return p.Count == o.Count
	case EndDate:
		return model.SameDate(p.EndDate, o.EndDate)
	}
	return true
}

// FillDefaults completes a rule from its start date the way an editor would
// prefill it: weekly rules without BYDAY repeat on the start weekday, monthly
// and yearly rules without a day selector repeat on the start day.
func (p *Properties) FillDefaults(start time.Time) {
	if p.Interval < 1 {
		p.Interval = 1
	}
	switch p.Type {
	case Weekly:
		if len(p.WeekDays) == 0 {
			p.WeekDays = []time.Weekday{start.Weekday()}
		}
	case Monthly:
		if p.DayOfMonth == 0 && len(p.WeekDays) == 0 {
			p.DayOfMonth = start.Day()
		}
	case Yearly:
		if p.Month == 0 {
			p.Month = start.Month()
		}
		if p.DayOfMonth == 0 && len(p.WeekDays) == 0 {
			p.DayOfMonth = start.Day()
		}
	}
}

var dayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func parseDayCode(s string) (time.Weekday, bool) {
	for i, c := range dayCodes {
		if c == s {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// Parse reads a FREQ=...;INTERVAL=...;COUNT=...|UNTIL=... rule. Keys may
// appear in any order and an optional "RRULE:" prefix is accepted.
func Parse(rule string) (Properties, error) {
	var p Properties
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(strings.TrimPrefix(rule, "RRULE:"), "rrule:")

	var hasFreq, hasCount, hasUntil bool
	var ordinal int

	for _, part := range strings.Split(rule, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Properties{}, fmt.Errorf("recurrence: malformed part %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.ToUpper(strings.TrimSpace(val))

		switch key {
		case "FREQ":
			t, err := parseType(val)
			if err != nil {
				return Properties{}, err
			}
			p.Type = t
			hasFreq = true
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Properties{}, fmt.Errorf("recurrence: bad INTERVAL %q", val)
			}
			p.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Properties{}, fmt.Errorf("recurrence: bad COUNT %q", val)
			}
			p.Count = n
			hasCount = true
		case "UNTIL":
			d, err := parseUntil(val)
			if err != nil {
				return Properties{}, err
			}
			p.EndDate = d
			hasUntil = true
		case "BYDAY":
			for _, code := range strings.Split(val, ",") {
				code = strings.TrimSpace(code)
				if len(code) < 2 {
					return Properties{}, fmt.Errorf("recurrence: bad BYDAY %q", val)
				}
				prefix, name := code[:len(code)-2], code[len(code)-2:]
				wd, ok := parseDayCode(name)
				if !ok {
					return Properties{}, fmt.Errorf("recurrence: bad BYDAY %q", val)
				}
				if prefix != "" {
					n, err := strconv.Atoi(prefix)
					if err != nil || n == 0 {
						return Properties{}, fmt.Errorf("recurrence: bad BYDAY ordinal %q", code)
					}
					ordinal = n
				}
				if !slices.Contains(p.WeekDays, wd) {
					p.WeekDays = append(p.WeekDays, wd)
				}
			}
		case "BYMONTHDAY":
			first, _, _ := strings.Cut(val, ",")
			n, err := strconv.Atoi(first)
			if err != nil || n == 0 || n < -31 || n > 31 {
				return Properties{}, fmt.Errorf("recurrence: bad BYMONTHDAY %q", val)
			}
			p.DayOfMonth = n
		case "BYMONTH":
			first, _, _ := strings.Cut(val, ",")
			n, err := strconv.Atoi(first)
			if err != nil || n < 1 || n > 12 {
				return Properties{}, fmt.Errorf("recurrence: bad BYMONTH %q", val)
			}
			p.Month = time.Month(n)
		case "BYSETPOS":
			n, err := strconv.Atoi(val)
			if err != nil || n == 0 {
				return Properties{}, fmt.Errorf("recurrence: bad BYSETPOS %q", val)
			}
			p.Week = n
		default:
			// WKST and other parts do not affect the supported rule shapes.
		}
	}

	if !hasFreq {
		return Properties{}, ErrMissingFrequency
	}
	if hasCount && hasUntil {
		return Properties{}, ErrCountAndUntil
	}
	if p.Interval == 0 {
		p.Interval = 1
	}
	if p.Week == 0 {
		p.Week = ordinal
	}
	slices.Sort(p.WeekDays)

	switch {
	case hasCount:
		p.RangeType = Count
	case hasUntil:
		p.RangeType = EndDate
	default:
		p.RangeType = NoEndDate
	}
	return p, nil
}

func parseType(v string) (Type, error) {
	for t, n := range typeNames {
		if n == v {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFrequency, v)
}

// parseUntil keeps only the calendar date of an UNTIL value.
func parseUntil(v string) (time.Time, error) {
	if len(v) < 8 {
		return time.Time{}, fmt.Errorf("recurrence: bad UNTIL %q", v)
	}
	d, err := time.Parse("20060102", v[:8])
	if err != nil {
		return time.Time{}, fmt.Errorf("recurrence: bad UNTIL %q: %w", v, err)
	}
	return d, nil
}

// Generate serializes p. The output always parses back to an equal rule.
func Generate(p Properties) string {
	var b strings.Builder
	b.WriteString("FREQ=")
	b.WriteString(p.Type.String())

	interval := p.Interval
	if interval < 1 {
		interval = 1
	}
	b.WriteString(";INTERVAL=")
	b.WriteString(strconv.Itoa(interval))

	switch p.RangeType {
	case Count:
		b.WriteString(";COUNT=")
		b.WriteString(strconv.Itoa(p.Count))
	case EndDate:
		b.WriteString(";UNTIL=")
		b.WriteString(p.EndDate.Format("20060102"))
	}

	if len(p.WeekDays) > 0 {
		days := slices.Clone(p.WeekDays)
		slices.Sort(days)
		codes := make([]string, 0, len(days))
		for _, d := range days {
			codes = append(codes, dayCodes[d])
		}
		b.WriteString(";BYDAY=")
		b.WriteString(strings.Join(codes, ","))
	}
	if p.DayOfMonth != 0 {
		b.WriteString(";BYMONTHDAY=")
		b.WriteString(strconv.Itoa(p.DayOfMonth))
	}
	if p.Month != 0 {
		b.WriteString(";BYMONTH=")
		b.WriteString(strconv.Itoa(int(p.Month)))
	}
	if p.Week != 0 {
		b.WriteString(";BYSETPOS=")
		b.WriteString(strconv.Itoa(p.Week))
	}
	return b.String()
}
