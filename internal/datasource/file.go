package datasource

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calview/internal/appointment"
	"calview/internal/model"
)

// Document is the on-disk shape of an appointments file.
type Document struct {
	Appointments []FileAppointment `yaml:"appointments"`
	Regions      []FileRegion      `yaml:"regions"`
	Resources    []FileResource    `yaml:"resources"`
}

// FileAppointment is one appointment as written by hand. Times are wall
// clock in StartTimeZone; accepted layouts are listed in timeLayouts.
type FileAppointment struct {
	ID            string   `yaml:"id"`
	Subject       string   `yaml:"subject"`
	Notes         string   `yaml:"notes,omitempty"`
	Location      string   `yaml:"location,omitempty"`
	Color         string   `yaml:"color,omitempty"`
	Start         string   `yaml:"start"`
	End           string   `yaml:"end"`
	StartTimeZone string   `yaml:"start_timezone,omitempty"`
	EndTimeZone   string   `yaml:"end_timezone,omitempty"`
	AllDay        bool     `yaml:"all_day,omitempty"`
	RRule         string   `yaml:"rrule,omitempty"`
	ExDates       []string `yaml:"exdates,omitempty"`
	RecurrenceID  string   `yaml:"recurrence_id,omitempty"`
	Resources     []string `yaml:"resources,omitempty"`
}

type FileRegion struct {
	Start       string   `yaml:"start"`
	End         string   `yaml:"end"`
	TimeZone    string   `yaml:"timezone,omitempty"`
	Text        string   `yaml:"text,omitempty"`
	Color       string   `yaml:"color,omitempty"`
	RRule       string   `yaml:"rrule,omitempty"`
	ExDates     []string `yaml:"exdates,omitempty"`
	Resources   []string `yaml:"resources,omitempty"`
	Interactive bool     `yaml:"interactive,omitempty"`
}

type FileResource struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime reads a zone-less wall-clock time. The result is in UTC and is
// reinterpreted in the appointment's own zone during normalization.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("datasource: unrecognized time %q", s)
}

func parseTimes(list []string) ([]time.Time, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]time.Time, 0, len(list))
	for _, s := range list {
		t, err := ParseTime(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// parsedAppointment carries a FileAppointment with its times resolved so
// the adapter cannot fail.
type parsedAppointment struct {
	FileAppointment
	start, end time.Time
	exdates    []time.Time
}

var fileAdapter = appointment.FuncAdapter[parsedAppointment]{
	IDFunc:             func(p parsedAppointment) string { return p.ID },
	SubjectFunc:        func(p parsedAppointment) string { return p.Subject },
	NotesFunc:          func(p parsedAppointment) string { return p.Notes },
	LocationFunc:       func(p parsedAppointment) string { return p.Location },
	ColorFunc:          func(p parsedAppointment) string { return p.Color },
	StartFunc:          func(p parsedAppointment) time.Time { return p.start },
	EndFunc:            func(p parsedAppointment) time.Time { return p.end },
	StartTimeZoneFunc:  func(p parsedAppointment) string { return p.StartTimeZone },
	EndTimeZoneFunc:    func(p parsedAppointment) string { return p.EndTimeZone },
	IsAllDayFunc:       func(p parsedAppointment) bool { return p.AllDay },
	RecurrenceRuleFunc: func(p parsedAppointment) string { return p.RRule },
	ExceptionDatesFunc: func(p parsedAppointment) []time.Time { return p.exdates },
	RecurrenceIDFunc:   func(p parsedAppointment) string { return p.RecurrenceID },
	ResourceIDsFunc:    func(p parsedAppointment) []string { return p.Resources },
}

// Contents is a decoded Document in model form.
type Contents struct {
	Appointments []*model.Appointment
	Regions      []*model.TimeRegion
	Resources    []model.Resource
}

// Decode parses YAML appointment file data.
func Decode(data []byte) (*Contents, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("datasource: decode: %w", err)
	}

	parsed := make([]parsedAppointment, 0, len(doc.Appointments))
	for i, fa := range doc.Appointments {
		p := parsedAppointment{FileAppointment: fa}
		var err error
		if p.start, err = ParseTime(fa.Start); err != nil {
			return nil, fmt.Errorf("appointment %d: %w", i, err)
		}
		p.end = p.start
		if fa.End != "" {
			if p.end, err = ParseTime(fa.End); err != nil {
				return nil, fmt.Errorf("appointment %d: %w", i, err)
			}
		}
		if p.exdates, err = parseTimes(fa.ExDates); err != nil {
			return nil, fmt.Errorf("appointment %d: %w", i, err)
		}
		parsed = append(parsed, p)
	}

	out := &Contents{Appointments: appointment.Ingest(parsed, fileAdapter)}
	for i, fr := range doc.Regions {
		r, err := fr.region()
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		out.Regions = append(out.Regions, r)
	}
	for _, res := range doc.Resources {
		out.Resources = append(out.Resources, model.Resource{ID: res.ID, DisplayName: res.Name, Color: res.Color})
	}
	return out, nil
}

func (fr FileRegion) region() (*model.TimeRegion, error) {
	start, err := ParseTime(fr.Start)
	if err != nil {
		return nil, err
	}
	end, err := ParseTime(fr.End)
	if err != nil {
		return nil, err
	}
	ex, err := parseTimes(fr.ExDates)
	if err != nil {
		return nil, err
	}
	return &model.TimeRegion{
		StartTime:                start,
		EndTime:                  end,
		TimeZone:                 fr.TimeZone,
		Text:                     fr.Text,
		Color:                    fr.Color,
		RecurrenceRule:           fr.RRule,
		RecurrenceExceptionDates: ex,
		ResourceIDs:              fr.Resources,
		EnablePointerInteraction: fr.Interactive,
		ActualStartTime:          start,
		ActualEndTime:            end,
	}, nil
}

// FileSource reads appointments from a YAML file.
type FileSource struct {
	Path string
}

// Load reads and decodes the file. A missing file is an empty calendar.
func (s *FileSource) Load() (*Contents, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Contents{}, nil
		}
		return nil, err
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	return c, nil
}

// Change loads the file as a reset notification.
func (s *FileSource) Change() (Change, *Contents, error) {
	c, err := s.Load()
	if err != nil {
		return Change{}, nil, err
	}
	return Change{Action: ActionReset, Appointments: c.Appointments}, c, nil
}
