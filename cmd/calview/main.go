package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calview/internal/calendar"
	"calview/internal/config"
	"calview/internal/datasource"
	"calview/internal/ics"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/store"
	"calview/internal/timezone"
	"calview/internal/web"
)

const (
	version = "0.1.0"

	// Window around the visible dates mirrored from the database on refresh.
	dbLookBehind = 90
	dbLookAhead  = 365
)

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.Info("calview starting", "version", version)

	settings, err := conf.CalendarSettings()
	if err != nil {
		appLog.Error("invalid calendar settings", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"view", conf.View,
		"first_day_of_week", conf.FirstDayOfWeek,
		"refresh", conf.RefreshCron,
		"ics_count", len(conf.ICS),
		"appointments_file", conf.AppointmentsFile,
		"database", conf.DatabaseURL != "",
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, conf, settings, flags.once); err != nil {
		appLog.Error("calview failed", err)
		os.Exit(1)
	}
	appLog.Info("calview exiting")
}

func run(ctx context.Context, conf *config.Config, settings calendar.Settings, once bool) error {
	tz := timezone.NewTable(conf.Timezone)
	engine := calendar.NewEngine(calendar.New(tz, time.Now(), settings))
	app := &app{
		conf:    conf,
		engine:  engine,
		merger:  datasource.NewMerger(),
		fetcher: ics.NewFetcher(conf.CacheDir, &http.Client{Timeout: 30 * time.Second}),
	}

	if conf.DatabaseURL != "" {
		pg, pool, err := store.Open(ctx, conf.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer pool.Close()
		app.store = pg
		engine.SetLoadMore(pg.Range)
	}

	if once {
		// Resolve zones inline so the export is not pending.
		if err := tz.Load(ctx); err != nil {
			return err
		}
		engine.Apply(func(s calendar.State) calendar.State { return s.WithTimezones(tz) })
		if err := app.loadFile(); err != nil {
			return err
		}
		app.refresh(ctx)
		fmt.Print(ics.Export(engine.State().Normalized(), time.Now()))
		return nil
	}

	go func() {
		if err := tz.Load(ctx); err != nil {
			appLog.Error("timezone table load aborted", err)
			return
		}
		engine.Apply(func(s calendar.State) calendar.State { return s.WithTimezones(tz) })
	}()

	if conf.AppointmentsFile != "" {
		if err := app.loadFile(); err != nil {
			appLog.Error("appointments file load failed", err, "path", conf.AppointmentsFile)
		}
		w, err := datasource.NewWatcher(&datasource.FileSource{Path: conf.AppointmentsFile}, app.applyFile)
		if err != nil {
			appLog.Error("appointments file watch failed", err, "path", conf.AppointmentsFile)
		} else {
			defer w.Close()
		}
	}

	go app.refresh(ctx)
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() { app.refresh(ctx) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("HTTP server listening", "addr", conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// app wires the data sources into the engine.
type app struct {
	conf    *config.Config
	engine  *calendar.Engine
	merger  *datasource.Merger
	fetcher *ics.Fetcher
	store   *store.Postgres
}

func (a *app) push(source string, appts []*model.Appointment) {
	if err := a.engine.ApplyChange(a.merger.Set(source, appts)); err != nil {
		appLog.Error("apply change failed", err, "source", source)
		return
	}
	appLog.Debug("source updated", "source", source, "count", len(appts), "sources", strings.Join(a.merger.Sources(), ","))
}

func (a *app) loadFile() error {
	if a.conf.AppointmentsFile == "" {
		return nil
	}
	_, contents, err := (&datasource.FileSource{Path: a.conf.AppointmentsFile}).Change()
	if err != nil {
		return err
	}
	a.applyFile(datasource.Change{}, contents)
	return nil
}

// applyFile routes a file reload through the merger; regions and resources
// replace the current ones.
func (a *app) applyFile(_ datasource.Change, c *datasource.Contents) {
	a.push("file", c.Appointments)
	a.engine.Apply(func(s calendar.State) calendar.State {
		return s.SetResources(c.Resources).SetRegions(c.Regions)
	})
}

// refresh fetches every ICS feed and, with a database configured, mirrors
// the feeds into it and reloads the stored window around the view.
func (a *app) refresh(ctx context.Context) {
	if len(a.conf.ICS) > 0 {
		sources := make([]ics.Source, 0, len(a.conf.ICS))
		for _, s := range a.conf.ICS {
			sources = append(sources, ics.Source{ID: s.ID, URL: s.URL})
		}
		appts, errs := a.fetcher.FetchAppointments(ctx, sources)
		for _, err := range errs {
			appLog.Warn("ics refresh error", "error", err.Error())
		}
		// Keep the last good set when every feed failed.
		if len(errs) < len(sources) {
			a.push("ics", appts)
		}

		if a.store != nil && len(appts) > 0 {
			if err := a.store.Upsert(ctx, appts); err != nil {
				appLog.Error("ics mirror to database failed", err)
			}
		}
	}

	if a.store == nil {
		return
	}
	from, to := a.window()
	appts, err := a.store.Range(ctx, from, to)
	if err != nil {
		appLog.Error("database refresh failed", err)
		return
	}
	a.push("db", appts)
}

func (a *app) window() (time.Time, time.Time) {
	st := a.engine.State()
	anchor := st.DisplayDate
	from, to := anchor, anchor
	if n := len(st.VisibleDates); n > 0 {
		from, to = st.VisibleDates[0], st.VisibleDates[n-1]
	}
	return from.AddDate(0, 0, -dbLookBehind), to.AddDate(0, 0, dbLookAhead)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calview/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load every source once, print the calendar as ICS and exit")

	flag.Parse()

	return cfg
}
