package app

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/config"
	"adhanbot/internal/notifier"
	"adhanbot/internal/opshttp"
	"adhanbot/internal/planner"
	"adhanbot/internal/storage"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
	"adhanbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, nil
	case "", "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		return storage.Config{Driver: "postgres", DSN: strings.TrimSpace(sc.DSN), MaxConns: sc.MaxConns}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     4,
		QueueSize:   1024,
		HistorySize: 200,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Enabled != nil {
		out.Enabled = *te.Enabled
	}
	if cfg.Scheduler.Enabled && !out.Enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	if te.Workers != 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize != 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize != 0 {
		out.HistorySize = te.HistorySize
	}
	out.RetryMax = te.RetryMax

	var err error
	if out.DefaultTimeout, err = config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout); err != nil {
		return engine.Config{}, err
	}
	if out.MaxQueueDelay, err = config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
		return engine.Config{}, err
	}
	if out.Workers < 0 || out.QueueSize < 0 || out.HistorySize < 0 || out.RetryMax < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: negative sizes are not allowed")
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	jt, err := config.ParseDurationOrDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout, 2*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:    cfg.Scheduler.Enabled,
		Timezone:   config.OrDefault(cfg.Scheduler.Timezone, config.DefaultTimezone),
		JobTimeout: jt,
	}, nil
}

// mapNotifierConfig resolves the notifier section; zero fields fall back to
// the defaults of an omitted section.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	def := (&config.Config{}).NotifierOrDefault()
	n := cfg.NotifierOrDefault()
	out := notifier.Config{
		Enabled:         n.Enabled,
		Workers:         cmp.Or(n.Workers, def.Workers),
		QueueSize:       cmp.Or(n.QueueSize, def.QueueSize),
		RatePerSec:      cmp.Or(n.RatePerSec, def.RatePerSec),
		RetryMax:        cmp.Or(n.RetryMax, def.RetryMax),
		DedupMaxEntries: cmp.Or(n.DedupMaxEntries, def.DedupMaxEntries),
	}
	durations := []struct {
		key, raw, def string
		dst           *time.Duration
	}{
		{"send_timeout", n.SendTimeout, def.SendTimeout, &out.SendTimeout},
		{"retry_base", n.RetryBase, def.RetryBase, &out.RetryBase},
		{"retry_max_delay", n.RetryMaxDelay, def.RetryMaxDelay, &out.RetryMaxDelay},
		{"dedup_window", n.DedupWindow, def.DedupWindow, &out.DedupWindow},
	}
	for _, d := range durations {
		fallback, _ := time.ParseDuration(d.def)
		v, err := config.ParseDurationOrDefault("notifier."+d.key, d.raw, fallback)
		if err != nil {
			return notifier.Config{}, err
		}
		*d.dst = v
	}

	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 || out.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: negative sizes are not allowed")
	}
	return out, nil
}

// operatorChat is where operator log lines and notices go: group_log when
// set, otherwise the first owner.
func operatorChat(cfg *config.Config) int64 {
	if id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64); err == nil && id != 0 {
		return id
	}
	if len(cfg.Telegram.OwnerUserIDs) > 0 {
		return cfg.Telegram.OwnerUserIDs[0]
	}
	return 0
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chat := operatorChat(cfg)
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Operator: logx.OperatorConfig{
			Enabled:    lc.Telegram.Enabled && chat != 0,
			ChatID:     chat,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapSubscriptionConfig(cfg *config.Config) subscription.Config {
	s := cfg.Subscription
	return subscription.Config{
		ValidityDays: s.ValidityDays,
		PriceText:    s.PriceText,
		PaymentCode:  s.PaymentCode,
		QRFileID:     s.QRFileID,
		Operators:    cfg.Telegram.OwnerUserIDs,
	}
}

func mapPlannerConfig(cfg *config.Config) (planner.Config, error) {
	lt, err := config.ParseDurationField("timesource.timeout", cfg.TimeSource.Timeout)
	if err != nil {
		return planner.Config{}, err
	}
	return planner.Config{Parallelism: cfg.TimeSource.Parallelism, LookupTimeout: lt}, nil
}

func mapHTTPConfig(cfg *config.Config) opshttp.Config {
	h := cfg.HTTP
	return opshttp.Config{Enabled: h.Enabled, Addr: h.Addr, CORSOrigins: h.CORSOrigins, Pprof: h.Pprof}
}

// buildTimeSource returns the configured driver wrapped in the per-day cache.
func buildTimeSource(cfg *config.Config, log logx.Logger) (*timesource.Cache, error) {
	ts := cfg.TimeSource
	timeout, err := config.ParseDurationField("timesource.timeout", ts.Timeout)
	if err != nil {
		return nil, err
	}
	aladhan := func() *timesource.Aladhan {
		return timesource.NewAladhan(timesource.AladhanConfig{
			BaseURL:    ts.BaseURL,
			Country:    ts.Country,
			Method:     ts.Method,
			Timeout:    timeout,
			RatePerSec: ts.RatePerSec,
		}, log)
	}

	var src timesource.Source
	switch strings.ToLower(strings.TrimSpace(ts.Driver)) {
	case "", "aladhan":
		src = aladhan()
	case "solar":
		src = timesource.Solar{}
	case "aladhan+solar":
		src = timesource.Fallback{Primary: aladhan(), Secondary: timesource.Solar{}}
	default:
		return nil, fmt.Errorf("unknown timesource.driver: %s", ts.Driver)
	}
	return timesource.NewCache(src), nil
}

// broadcastSchedules returns the configured broadcasts, or the built-in
// morning and evening azkar when none are configured.
func broadcastSchedules(cfg *config.Config) []broadcast.Schedule {
	if len(cfg.Broadcasts) == 0 {
		return broadcast.DefaultSchedules()
	}
	out := make([]broadcast.Schedule, 0, len(cfg.Broadcasts))
	for _, b := range cfg.Broadcasts {
		out = append(out, broadcast.Schedule{Name: b.Name, At: b.At, Content: b.Content})
	}
	return out
}

func catchUpEnabled(cfg *config.Config) bool {
	return cfg.Scheduler.CatchUp == nil || *cfg.Scheduler.CatchUp
}
