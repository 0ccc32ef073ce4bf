package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/storage"
	"adhanbot/internal/timesource"
	"adhanbot/pkg/logx"
)

type Planner struct {
	subs   Subscribers
	source timesource.Source
	timer  Timer
	log    logx.Logger
	bus    eventbus.Bus

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
	loc *time.Location

	// one pass at a time; a second caller waits
	runMu sync.Mutex
	last  Report
}

func New(subs Subscribers, source timesource.Source, timer Timer, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Planner {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Planner{
		subs:   subs,
		source: source,
		timer:  timer,
		log:    log.With(logx.String("comp", "planner")),
		bus:    bus,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Planner) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

// Last returns the report of the most recent non-dry pass.
func (p *Planner) Last() Report {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.last
}

// Run plans the current day.
func (p *Planner) Run(ctx context.Context) (Report, error) {
	return p.Plan(ctx, p.now(), false)
}

// result is what one subscriber's lookup reports back to the collector.
type result struct {
	sub    storage.Subscriber
	events timesource.Events
	err    error
}

// Plan registers the future events of day for every active subscriber. With
// dryRun nothing is registered; the report lists what would be.
func (p *Planner) Plan(ctx context.Context, day time.Time, dryRun bool) (Report, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	start := p.now()
	day = midnight(day.In(p.loc))
	dayStr := storage.FormatDate(day)
	rep := Report{RunID: uuid.NewString(), Day: dayStr, DryRun: dryRun, At: start}
	log := p.log.With(logx.String("run", rep.RunID), logx.String("day", dayStr))

	subs, err := p.subs.ListActive(ctx)
	if err != nil {
		return rep, fmt.Errorf("list active subscribers: %w", err)
	}
	rep.Subscribers = len(subs)

	eligible := make([]storage.Subscriber, 0, len(subs))
	for _, s := range subs {
		switch {
		case s.Location == "":
			rep.NoLocation++
		case s.ExpiryDate != "" && s.ExpiryDate <= dayStr:
			// sweep has not demoted it yet
			rep.Expired++
		default:
			eligible = append(eligible, s)
		}
	}

	results := make(chan result, cfg.Parallelism)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Parallelism)
	go func() {
		for _, s := range eligible {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				ev, err := p.lookup(gctx, cfg.LookupTimeout, s.Location, day)
				results <- result{sub: s, events: ev, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			rep.Failed++
			if rep.Failures == nil {
				rep.Failures = map[int64]string{}
			}
			rep.Failures[r.sub.ID] = r.err.Error()
			log.Warn("time lookup failed, subscriber skipped today",
				logx.Int64("subscriber", r.sub.ID),
				logx.String("location", r.sub.Location),
				logx.Err(r.err),
			)
			continue
		}
		p.register(&rep, log, r, day, start, dryRun)
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	sort.Slice(rep.Registrations, func(i, j int) bool {
		a, b := rep.Registrations[i], rep.Registrations[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.JobID < b.JobID
	})
	rep.Took = p.now().Sub(start)

	log.Info("planning pass done",
		logx.Bool("dry_run", dryRun),
		logx.Int("subscribers", rep.Subscribers),
		logx.Int("registered", rep.Registered),
		logx.Int("past", rep.Past),
		logx.Int("failed", rep.Failed),
		logx.Int("event_errors", rep.EventErrors),
		logx.Duration("took", rep.Took),
	)
	if !dryRun {
		p.last = rep
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{Type: eventbus.PlanFinished, Time: p.now(), Data: rep})
		}
	}
	return rep, nil
}

func (p *Planner) lookup(ctx context.Context, timeout time.Duration, location string, day time.Time) (timesource.Events, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ev, err := p.source.Today(ctx, location, day)
	if err != nil {
		return ev, err
	}
	if len(ev.Times) == 0 && len(ev.Errors) == 0 {
		return ev, fmt.Errorf("%w: no events", timesource.ErrMalformed)
	}
	return ev, nil
}

func (p *Planner) register(rep *Report, log logx.Logger, r result, day, now time.Time, dryRun bool) {
	for _, ev := range timesource.AllEvents {
		at, err := r.events.At(day, ev)
		if err != nil {
			if !errors.Is(err, timesource.ErrUnavailable) {
				rep.EventErrors++
				log.Warn("event skipped",
					logx.Int64("subscriber", r.sub.ID),
					logx.String("event", string(ev)),
					logx.Err(err),
				)
			}
			continue
		}
		if !at.After(now) {
			rep.Past++
			continue
		}

		id := JobID(r.sub.ID, ev, day)
		if !dryRun {
			payload := Prayer{SubscriberID: r.sub.ID, Location: r.sub.Location, Event: ev, At: at}
			if err := p.timer.Schedule(id, at, payload); err != nil {
				rep.EventErrors++
				log.Warn("job registration failed", logx.String("job", id), logx.Err(err))
				continue
			}
			log.Debug("job registered", logx.String("job", id), logx.Time("at", at))
		}
		rep.Registered++
		rep.Registrations = append(rep.Registrations, Registration{
			JobID:        id,
			SubscriberID: r.sub.ID,
			Location:     r.sub.Location,
			Event:        ev,
			At:           at,
		})
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
