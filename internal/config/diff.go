package config

import (
	"reflect"
	"slices"
	"strings"

	"adhanbot/pkg/logx"
)

// section describes how one top-level block is compared and summarized.
// Summaries must never carry secrets (tokens, DSNs, payment codes).
type section struct {
	name    string
	restart bool // only takes effect after a process restart
	get     func(c *Config) any
	summary func(c *Config) []logx.Field
}

var sections = []section{
	{
		name: "telegram", restart: true,
		get: func(c *Config) any { return c.Telegram },
		summary: func(c *Config) []logx.Field {
			t := c.Telegram
			return []logx.Field{
				logx.String("telegram.poll_timeout", strings.TrimSpace(t.PollTimeout)),
				logx.Int("telegram.owner_count", len(t.OwnerUserIDs)),
				logx.Bool("telegram.group_log_set", strings.TrimSpace(t.GroupLog) != ""),
				logx.Bool("telegram.webhook", strings.TrimSpace(t.WebhookURL) != ""),
			}
		},
	},
	{
		name: "logging",
		get:  func(c *Config) any { return c.Logging },
		summary: func(c *Config) []logx.Field {
			l := c.Logging
			return []logx.Field{
				logx.String("logging.level", l.Level),
				logx.Bool("logging.console", l.Console),
				logx.Bool("logging.file", l.File.Enabled),
				logx.Bool("logging.telegram", l.Telegram.Enabled),
			}
		},
	},
	{
		name: "scheduler",
		get:  func(c *Config) any { return c.Scheduler },
		summary: func(c *Config) []logx.Field {
			s := c.Scheduler
			return []logx.Field{
				logx.Bool("scheduler.enabled", s.Enabled),
				logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
				logx.String("scheduler.sweep_at", OrDefault(s.SweepAt, DefaultSweepAt)),
				logx.String("scheduler.planner_at", OrDefault(s.PlannerAt, DefaultPlannerAt)),
			}
		},
	},
	{
		name: "task_engine",
		get:  func(c *Config) any { return c.TaskEngine },
		summary: func(c *Config) []logx.Field {
			te := c.TaskEngine
			if te == nil {
				return []logx.Field{logx.Bool("task_engine.present", false)}
			}
			enabled := c.Scheduler.Enabled
			if te.Enabled != nil {
				enabled = *te.Enabled
			}
			return []logx.Field{
				logx.Bool("task_engine.enabled", enabled),
				logx.Int("task_engine.workers", te.Workers),
				logx.Int("task_engine.queue_size", te.QueueSize),
				logx.String("task_engine.default_timeout", strings.TrimSpace(te.DefaultTimeout)),
				logx.Int("task_engine.retry_max", te.RetryMax),
			}
		},
	},
	{
		name: "notifier",
		get:  func(c *Config) any { return c.NotifierOrDefault() },
		summary: func(c *Config) []logx.Field {
			n := c.NotifierOrDefault()
			return []logx.Field{
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Int("notifier.workers", n.Workers),
				logx.Int("notifier.queue_size", n.QueueSize),
				logx.Int("notifier.rate_per_sec", n.RatePerSec),
				logx.Int("notifier.retry_max", n.RetryMax),
			}
		},
	},
	{
		name: "storage", restart: true,
		get: func(c *Config) any { return c.Storage },
		summary: func(c *Config) []logx.Field {
			s := c.Storage
			return []logx.Field{
				logx.String("storage.driver", strings.TrimSpace(s.Driver)),
				logx.Bool("storage.path_set", strings.TrimSpace(s.Path) != ""),
				logx.Bool("storage.dsn_set", strings.TrimSpace(s.DSN) != ""),
			}
		},
	},
	{
		name: "timesource", restart: true,
		get: func(c *Config) any { return c.TimeSource },
		summary: func(c *Config) []logx.Field {
			ts := c.TimeSource
			return []logx.Field{
				logx.String("timesource.driver", strings.TrimSpace(ts.Driver)),
				logx.Int("timesource.method", ts.Method),
				logx.Int("timesource.parallelism", ts.Parallelism),
			}
		},
	},
	{
		name: "subscription",
		get:  func(c *Config) any { return c.Subscription },
		summary: func(c *Config) []logx.Field {
			s := c.Subscription
			return []logx.Field{
				logx.Int("subscription.validity_days", s.ValidityDays),
				logx.Bool("subscription.payment_code_set", s.PaymentCode != ""),
				logx.Bool("subscription.qr_set", s.QRFileID != ""),
			}
		},
	},
	{
		name: "broadcasts",
		get:  func(c *Config) any { return c.Broadcasts },
		summary: func(c *Config) []logx.Field {
			return []logx.Field{logx.Int("broadcasts.count", len(c.Broadcasts))}
		},
	},
	{
		name: "http",
		get:  func(c *Config) any { return c.HTTP },
		summary: func(c *Config) []logx.Field {
			h := c.HTTP
			return []logx.Field{
				logx.Bool("http.enabled", h.Enabled),
				logx.String("http.addr", strings.TrimSpace(h.Addr)),
				logx.Bool("http.pprof", h.Pprof),
			}
		},
	},
}

// SummarizeConfigChange returns the sorted names of changed sections and
// log fields describing their new values.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	for _, sec := range sections {
		if reflect.DeepEqual(sec.get(oldCfg), sec.get(newCfg)) {
			continue
		}
		changed = append(changed, sec.name)
		attrs = append(attrs, sec.summary(newCfg)...)
	}
	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		attrs = append(attrs, logx.Bool("telegram.token_changed", true))
	}
	slices.Sort(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a
// restart. Everything else is applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, sec := range sections {
		if sec.restart && slices.Contains(changed, sec.name) {
			out = append(out, sec.name)
		}
	}
	slices.Sort(out)
	return out
}
