package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/task/engine"
	"adhanbot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		// SecondOptional allows both 5-field and 6-field cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		recurring:   map[string]*recurringJob{},
		once:        map[string]*onceJob{},
		handlers:    map[string]*handlerDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location returns the facility zone (Config.Timezone, or Local).
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc != nil {
		return s.loc
	}
	return s.loadLocationLocked()
}

// Apply swaps the config; a timezone change rebuilds the cron runner.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil {
		return
	}
	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Start arms cron triggers and one-shot timers registered so far.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.recurring {
		s.addCronLocked(j)
	}
	s.c.Start()
	for id, j := range s.once {
		s.armLocked(id, j)
	}
	s.log.Info("timer facility started", logx.String("tz", s.loc.String()), logx.Int("recurring", len(s.recurring)), logx.Int("once", len(s.once)))
}

// Stop halts triggering. Definitions survive and are re-armed by Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.once {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	for _, j := range s.recurring {
		j.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("timer facility stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	if s.c != nil {
		// Not waiting: a running trigger may be blocked on s.mu.
		s.c.Stop()
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.recurring {
		s.addCronLocked(j)
	}
	s.c.Start()
	s.log.Info("timer facility restarted", logx.String("tz", s.loc.String()), logx.Int("recurring", len(s.recurring)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// fire hands one firing to the engine. Called from cron and timer goroutines.
func (s *Service) fire(id string, at time.Time, p Payload, state *engine.RunState) {
	kind := p.Kind()

	s.mu.Lock()
	h := s.handlers[kind]
	defTimeout := s.cfg.JobTimeout
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: JobInfo{ID: id, PayloadKind: kind, Next: at}})
	}
	if h == nil {
		s.log.Warn("timer fired without handler", logx.String("job", id), logx.String("kind", kind))
		return
	}
	if s.engine == nil {
		return
	}

	opt := h.opt
	if !h.optSet && state != nil {
		opt = engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}
	}
	timeout := h.timeout
	if timeout == 0 {
		timeout = defTimeout
	}
	fn := h.fn
	f := Fired{JobID: id, At: at, Payload: p}
	err := s.engine.Enqueue(engine.Task{
		Name:    id,
		Timeout: timeout,
		Opt:     opt,
		State:   state,
		Run:     func(ctx context.Context) error { return fn(ctx, f) },
	})
	if err != nil {
		s.reportEnqueueError(id, err)
	}
}
