package app

import (
	"context"
	"strings"
	"time"

	"adhanbot/internal/config"
	"adhanbot/pkg/logx"
)

// reloadLoop applies committed config changes to the running components.
func (a *App) reloadLoop(c context.Context) {
	sub, unsub := a.cfgm.Subscribe(8)
	defer unsub()

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
	}
	if config.OrDefault(oldCfg.Scheduler.Timezone, config.DefaultTimezone) != config.OrDefault(newCfg.Scheduler.Timezone, config.DefaultTimezone) {
		a.log.Warn("scheduler.timezone changed; calendar days follow the old zone until restart")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	if a.cmdm != nil {
		a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}
	a.subs.Apply(mapSubscriptionConfig(newCfg))
	if pcfg, err := mapPlannerConfig(newCfg); err == nil {
		a.plan.Apply(pcfg)
	}

	// engine first on startup, scheduler first on shutdown
	prevSched := a.sched.Enabled()
	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
		a.runtime.Set("task.engine", a.engine.Supervisor())
	}
	if schedCfg, err := mapSchedulerConfig(newCfg); err == nil {
		a.sched.Apply(schedCfg)
		switch {
		case prevSched && !schedCfg.Enabled:
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !prevSched && schedCfg.Enabled:
			a.log.Info("scheduler enabled via config")
			a.sched.Start(c)
		}
	}
	if err := a.installRecurring(newCfg); err != nil {
		a.log.Warn("recurring jobs not fully applied", logx.Err(err))
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		prev := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case prev && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
			a.runtime.Delete("notifier")
		case !prev && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(c)
			a.runtime.Set("notifier", a.notif.Supervisor())
		}
	}

	if err := a.ops.Apply(c, mapHTTPConfig(newCfg)); err != nil {
		a.log.Warn("http listener not applied", logx.Err(err))
	}

	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}
