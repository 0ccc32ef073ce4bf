package app

import (
	"context"
	"errors"
	"fmt"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/config"
	"adhanbot/internal/planner"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/pkg/logx"
)

const (
	systemKind = "system"

	jobSweep   = "system:sweep"
	jobPlanner = "system:planner"
)

// systemJob is the payload of the fixed daily maintenance jobs.
type systemJob struct {
	Name string `json:"name"`
}

func (systemJob) Kind() string { return systemKind }

// installHandlers routes every payload kind the bot registers.
func (a *App) installHandlers() {
	a.sched.Handle(planner.PrayerKind, planner.Handler(a.notif, a.log))
	// a run lasts as long as its recipient list; each send has its own bound
	a.sched.Handle(broadcast.Kind, a.casts.Handler(), scheduler.WithTimeout(scheduler.NoTimeout))
	a.sched.Handle(systemKind, a.systemHandler)
}

func (a *App) systemHandler(ctx context.Context, f scheduler.Fired) error {
	job, ok := f.Payload.(systemJob)
	if !ok {
		return engine.NoRetry(fmt.Errorf("%w: %T", scheduler.ErrUnknownPayload, f.Payload))
	}
	switch job.Name {
	case jobSweep:
		if _, err := a.subs.Sweep(ctx); err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
	case jobPlanner:
		if _, err := a.plan.Run(ctx); err != nil {
			return engine.NoRetry(fmt.Errorf("planner: %w", err))
		}
	default:
		return engine.NoRetry(fmt.Errorf("unknown system job %q", job.Name))
	}
	return nil
}

// installRecurring registers the sweep, the planner and the broadcasts.
// Broadcasts removed from config are canceled.
func (a *App) installRecurring(cfg *config.Config) error {
	var errs []error
	add := func(id, at string, p scheduler.Payload) {
		if err := a.sched.ScheduleRecurring(id, at, nil, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}

	add(jobSweep, config.OrDefault(cfg.Scheduler.SweepAt, config.DefaultSweepAt), systemJob{Name: jobSweep})
	add(jobPlanner, config.OrDefault(cfg.Scheduler.PlannerAt, config.DefaultPlannerAt), systemJob{Name: jobPlanner})

	want := map[string]bool{}
	for _, s := range broadcastSchedules(cfg) {
		id := broadcast.JobID(s.Name)
		want[id] = true
		add(id, s.At, broadcast.Payload{Name: s.Name, Content: s.Content})
	}
	for _, j := range a.sched.List() {
		if j.PayloadKind == broadcast.Kind && !want[j.ID] {
			if err := a.sched.Cancel(j.ID); err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
				errs = append(errs, err)
				continue
			}
			a.log.Info("broadcast removed", logx.String("job", j.ID))
		}
	}
	return errors.Join(errs...)
}
