// Package health assembles the operator health report shown by /health and
// served on /healthz.
package health

import (
	"context"
	"runtime"
	"sort"
	"strings"
	"time"

	rtsup "adhanbot/internal/runtime/supervisor"
	"adhanbot/internal/storage"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	"adhanbot/pkg/logx"
)

// ProbeLocation is the location used to check the time source.
const ProbeLocation = "Damascus"

type Store interface {
	Ping(ctx context.Context) error
	Counts(ctx context.Context) (storage.Counts, error)
}

type Jobs interface {
	List() []scheduler.JobInfo
}

// Settings is the non-secret part of the running configuration.
type Settings struct {
	TokenSet      bool   `json:"token_set"`
	Owners        int    `json:"owners"`
	Webhook       bool   `json:"webhook"`
	StorageDriver string `json:"storage_driver"`
	TimeSource    string `json:"timesource"`
	Timezone      string `json:"timezone"`
}

type Check struct {
	Name   string        `json:"name"`
	OK     bool          `json:"ok"`
	Detail string        `json:"detail,omitempty"`
	Took   time.Duration `json:"took"`
}

type Report struct {
	At         time.Time                 `json:"at"`
	OK         bool                      `json:"ok"`
	Settings   Settings                  `json:"settings"`
	Checks     []Check                   `json:"checks"`
	Counts     storage.Counts            `json:"counts"`
	Jobs       map[string]int            `json:"jobs"`
	JobsTotal  int                       `json:"jobs_total"`
	Uptime     time.Duration             `json:"uptime"`
	Goroutines int                       `json:"goroutines"`
	Runtime    map[string]rtsup.Snapshot `json:"supervisors,omitempty"`
}

type Checker struct {
	store    Store
	source   timesource.Source
	jobs     Jobs
	settings func() Settings
	sups     *rtsup.Registry
	log      logx.Logger

	started time.Time
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Checker)

func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

func WithSupervisors(r *rtsup.Registry) Option {
	return func(c *Checker) { c.sups = r }
}

// WithProbeTimeout bounds each individual check.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(store Store, source timesource.Source, jobs Jobs, settings func() Settings, log logx.Logger, opts ...Option) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Checker{
		store:    store,
		source:   source,
		jobs:     jobs,
		settings: settings,
		log:      log.With(logx.String("comp", "health")),
		now:      time.Now,
		timeout:  10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	c.started = c.now()
	return c
}

// Check runs every probe. A failing probe marks the report not OK but never
// stops the others.
func (c *Checker) Check(ctx context.Context) Report {
	now := c.now()
	rep := Report{
		At:         now,
		OK:         true,
		Jobs:       map[string]int{},
		Uptime:     now.Sub(c.started),
		Goroutines: runtime.NumGoroutine(),
	}
	if c.settings != nil {
		rep.Settings = c.settings()
	}

	rep.Checks = append(rep.Checks, c.checkSettings(rep.Settings))
	rep.Checks = append(rep.Checks, c.probe(ctx, "storage", func(ctx context.Context) (string, error) {
		if c.store == nil {
			return "", errMissing
		}
		if err := c.store.Ping(ctx); err != nil {
			return "", err
		}
		counts, err := c.store.Counts(ctx)
		if err != nil {
			return "", err
		}
		rep.Counts = counts
		return "", nil
	}))
	rep.Checks = append(rep.Checks, c.probe(ctx, "timesource", func(ctx context.Context) (string, error) {
		if c.source == nil {
			return "", errMissing
		}
		ev, err := c.source.Today(ctx, ProbeLocation, now)
		if err != nil {
			return "", err
		}
		return formatEvents(ev), nil
	}))

	if c.jobs != nil {
		for _, j := range c.jobs.List() {
			rep.Jobs[j.PayloadKind]++
			rep.JobsTotal++
		}
	}
	rep.Runtime = c.sups.Snapshots()

	for _, ch := range rep.Checks {
		if !ch.OK {
			rep.OK = false
		}
	}
	if !rep.OK {
		c.log.Warn("health check failed", logx.Any("checks", rep.Checks))
	}
	return rep
}

func (c *Checker) checkSettings(s Settings) Check {
	ch := Check{Name: "config", OK: true}
	switch {
	case !s.TokenSet:
		ch.OK, ch.Detail = false, "token missing"
	case s.Owners == 0:
		ch.OK, ch.Detail = false, "no owner ids"
	}
	return ch
}

func (c *Checker) probe(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) Check {
	start := c.now()
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	detail, err := fn(pctx)
	ch := Check{Name: name, OK: err == nil, Detail: detail, Took: c.now().Sub(start)}
	if err != nil {
		ch.Detail = err.Error()
	}
	return ch
}

func formatEvents(ev timesource.Events) string {
	names := make([]string, 0, len(ev.Times))
	for e, hhmm := range ev.Times {
		names = append(names, string(e)+"="+hhmm)
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}
