package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate reports every problem found in cfg, joined. Bootstrap refuses to
// start on a non-nil result and hot reload rejects the new file.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set TOKEN)"))
	}
	if len(cfg.Telegram.OwnerUserIDs) == 0 {
		add(errors.New("telegram.owner_user_ids needs at least one id (or set OWNER_ID)"))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			add(fmt.Errorf("telegram.group_log: not a chat id: %q", g))
		}
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	add(validateScheduler(cfg.Scheduler))

	if te := cfg.TaskEngine; te != nil {
		_, err := ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
		add(err)
		_, err = ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
		add(err)
		if te.Workers < 0 || te.QueueSize < 0 || te.RetryMax < 0 {
			add(errors.New("task_engine: counts must be >= 0"))
		}
	}
	if n := cfg.Notifier; n != nil {
		for path, raw := range map[string]string{
			"notifier.send_timeout":    n.SendTimeout,
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
	}

	add(validateStorage(cfg.Storage))
	add(validateTimeSource(cfg.TimeSource))

	if cfg.Subscription.ValidityDays < 0 {
		add(errors.New("subscription.validity_days must be >= 0"))
	}

	seen := map[string]bool{}
	for i, b := range cfg.Broadcasts {
		name := strings.TrimSpace(b.Name)
		switch {
		case name == "":
			add(fmt.Errorf("broadcasts[%d].name is required", i))
		case seen[name]:
			add(fmt.Errorf("broadcasts[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if _, _, err := ParseClock(b.At); err != nil {
			add(fmt.Errorf("broadcasts[%d].at: %w", i, err))
		}
		if len(b.Content) == 0 {
			add(fmt.Errorf("broadcasts[%d].content must not be empty", i))
		}
	}

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) == "" {
		add(errors.New("http.addr is required when http.enabled"))
	}
	return errors.Join(errs...)
}

func validateScheduler(s SchedulerConfig) error {
	var errs []error
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	sweep, errS := minuteOfDay("scheduler.sweep_at", s.SweepAt, DefaultSweepAt)
	plan, errP := minuteOfDay("scheduler.planner_at", s.PlannerAt, DefaultPlannerAt)
	errs = append(errs, errS, errP)
	if errS == nil && errP == nil && sweep >= plan {
		errs = append(errs, errors.New("scheduler.sweep_at must be earlier than scheduler.planner_at"))
	}
	_, err := ParseDurationField("scheduler.job_timeout", s.JobTimeout)
	errs = append(errs, err)
	return errors.Join(errs...)
}

func validateStorage(s StorageConfig) error {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	var errs []error
	switch driver {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(s.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for driver %q", driver))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(s.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres (or set DATABASE_URL)"))
		}
	case "":
		if strings.TrimSpace(s.DSN) == "" {
			errs = append(errs, errors.New("storage.driver is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
	}
	_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	errs = append(errs, err)
	if s.MaxConns < 0 {
		errs = append(errs, errors.New("storage.max_conns must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateTimeSource(t TimeSourceConfig) error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(t.Driver)) {
	case "", "aladhan", "solar", "aladhan+solar":
	default:
		errs = append(errs, fmt.Errorf("timesource.driver: unknown driver %q", t.Driver))
	}
	_, err := ParseDurationField("timesource.timeout", t.Timeout)
	errs = append(errs, err)
	if t.RatePerSec < 0 || t.Parallelism < 0 {
		errs = append(errs, errors.New("timesource: rate_per_sec and parallelism must be >= 0"))
	}
	return errors.Join(errs...)
}

// ParseClock parses a 24h "HH:MM" time of day.
func ParseClock(raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	hour, err1 := strconv.Atoi(h)
	minute, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	return hour, minute, nil
}

// OrDefault returns raw trimmed, or def when raw is blank.
func OrDefault(raw, def string) string {
	if s := strings.TrimSpace(raw); s != "" {
		return s
	}
	return def
}

func minuteOfDay(path, raw, def string) (int, error) {
	h, m, err := ParseClock(OrDefault(raw, def))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return h*60 + m, nil
}
