package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"calview/internal/calendar"
	"calview/internal/model"
	"calview/internal/schedule"
)

// ICSConfig is one ICS subscription.
type ICSConfig struct {
	ID   string `yaml:"id" json:"id"`
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   string `yaml:"listen" json:"listen"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the IANA display zone, e.g. "Europe/Berlin".
	Timezone string `yaml:"timezone" json:"timezone"`

	// View is the initial view name: day, week, workWeek, month,
	// timelineDay, timelineWeek, timelineWorkWeek, timelineMonth, schedule.
	View string `yaml:"view" json:"view"`

	// FirstDayOfWeek is 1 (Monday) .. 7 (Sunday).
	FirstDayOfWeek int      `yaml:"first_day_of_week" json:"first_day_of_week"`
	NonWorkingDays []string `yaml:"non_working_days" json:"non_working_days"`
	NumberOfWeeks  int      `yaml:"number_of_weeks_in_view" json:"number_of_weeks_in_view"`
	NumberOfDays   int      `yaml:"number_of_days" json:"number_of_days"`

	// MinDate and MaxDate are YYYY-MM-DD; empty means unbounded.
	MinDate string `yaml:"min_date,omitempty" json:"min_date,omitempty"`
	MaxDate string `yaml:"max_date,omitempty" json:"max_date,omitempty"`

	ShowLeadingAndTrailingDates bool `yaml:"show_leading_and_trailing_dates" json:"show_leading_and_trailing_dates"`
	GroupByResource             bool `yaml:"group_by_resource" json:"group_by_resource"`

	Schedule schedule.Settings `yaml:"schedule" json:"schedule"`

	// RefreshCron schedules ICS and database reloads, e.g. "*/15 * * * *".
	RefreshCron string `yaml:"refresh" json:"refresh"`

	ICS              []ICSConfig `yaml:"ics" json:"ics"`
	AppointmentsFile string      `yaml:"appointments_file,omitempty" json:"appointments_file,omitempty"`
	DatabaseURL      string      `yaml:"database_url,omitempty" json:"-"`
	CacheDir         string      `yaml:"cache_dir" json:"cache_dir"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:                      "127.0.0.1:8080",
		LogLevel:                    "info",
		Timezone:                    "UTC",
		View:                        model.ViewWeek.String(),
		FirstDayOfWeek:              7,
		NonWorkingDays:              []string{"saturday", "sunday"},
		NumberOfWeeks:               6,
		NumberOfDays:                1,
		ShowLeadingAndTrailingDates: true,
		Schedule:                    schedule.DefaultSettings(),
		RefreshCron:                 "*/15 * * * *",
		ICS:                         []ICSConfig{},
		CacheDir:                    "./var/ics-cache",
	}
}

// Normalize fills missing values so partial configs behave like defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if _, err := model.ParseView(c.View); err != nil {
		c.View = d.View
	}
	if c.FirstDayOfWeek < 1 || c.FirstDayOfWeek > 7 {
		c.FirstDayOfWeek = d.FirstDayOfWeek
	}
	if c.NonWorkingDays == nil {
		c.NonWorkingDays = d.NonWorkingDays
	}
	if c.NumberOfWeeks < 1 || c.NumberOfWeeks > 6 {
		c.NumberOfWeeks = d.NumberOfWeeks
	}
	if c.NumberOfDays < 1 {
		c.NumberOfDays = d.NumberOfDays
	}

	s := &c.Schedule
	if s.BatchSize <= 0 {
		s.BatchSize = d.Schedule.BatchSize
	}
	if s.WeekLabelHeight <= 0 {
		s.WeekLabelHeight = d.Schedule.WeekLabelHeight
	}
	if s.MonthHeaderHeight <= 0 {
		s.MonthHeaderHeight = d.Schedule.MonthHeaderHeight
	}
	if s.AppointmentHeight <= 0 {
		s.AppointmentHeight = d.Schedule.AppointmentHeight
	}
	if s.AppointmentPadding < 0 {
		s.AppointmentPadding = d.Schedule.AppointmentPadding
	}
	if s.DayPadding < 0 {
		s.DayPadding = d.Schedule.DayPadding
	}

	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// CalendarSettings converts the config into engine settings.
func (c *Config) CalendarSettings() (calendar.Settings, error) {
	view, err := model.ParseView(c.View)
	if err != nil {
		return calendar.Settings{}, err
	}
	s := calendar.Settings{
		View:                        view,
		FirstDayOfWeek:              c.FirstDayOfWeek,
		NumberOfWeeks:               c.NumberOfWeeks,
		NumberOfDays:                c.NumberOfDays,
		TimeZone:                    c.Timezone,
		ShowLeadingAndTrailingDates: c.ShowLeadingAndTrailingDates,
		GroupByResource:             c.GroupByResource,
		Schedule:                    c.Schedule,
	}
	for _, name := range c.NonWorkingDays {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return calendar.Settings{}, fmt.Errorf("config: unknown weekday %q", name)
		}
		s.NonWorkingDays = append(s.NonWorkingDays, wd)
	}
	if s.MinDate, err = parseDate(c.MinDate); err != nil {
		return calendar.Settings{}, fmt.Errorf("config: min_date: %w", err)
	}
	if s.MaxDate, err = parseDate(c.MaxDate); err != nil {
		return calendar.Settings{}, fmt.Errorf("config: max_date: %w", err)
	}
	if !s.MinDate.IsZero() && !s.MaxDate.IsZero() && s.MaxDate.Before(s.MinDate) {
		return calendar.Settings{}, errors.New("config: max_date is before min_date")
	}
	return s, nil
}

// Load reads the YAML config at path. On first run a default config is
// written with 0600 permissions and returned.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg atomically through a temp file in the same directory.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
