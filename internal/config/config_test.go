package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func validConfig() *Config {
	cfg := Default()
	cfg.Telegram.Token = "123:abc"
	cfg.Telegram.OwnerUserIDs = []int64{42}
	return cfg
}

func TestParseYAMLOverDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  owner_user_ids: [42, 43]
scheduler:
  sweep_at: "00:10"
storage:
  driver: file
  path: ./subs.json
broadcasts:
  - name: azkar_morning
    at: "06:30"
    content: ["a", "b"]
`)
	m := NewManager(p)
	m.SetEnv(nil)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Telegram.OwnerUserIDs; len(got) != 2 || got[1] != 43 {
		t.Fatalf("owners = %v", got)
	}
	// scheduler.enabled and timezone come from Default().
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Timezone != DefaultTimezone {
		t.Fatalf("scheduler defaults lost: %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.SweepAt != "00:10" {
		t.Fatalf("sweep_at = %q", cfg.Scheduler.SweepAt)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	if len(cfg.Broadcasts) != 1 || len(cfg.Broadcasts[0].Content) != 2 {
		t.Fatalf("broadcasts = %+v", cfg.Broadcasts)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"config.json":  `{"telegram":{"token":"x"},"plugins":{}}`,
		"config2.json": `{"telegram":{"token":"x"}} {"x":1}`,
		"config.yml":   "telegram:\n  tokn: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeFile(t, name, body))
			m.SetEnv(nil)
			if _, err := m.Parse(); err == nil {
				t.Fatalf("expected error for %s", body)
			}
		})
	}
}

func TestParseMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	m := NewManager(filepath.Join(t.TempDir(), "absent.json"))
	m.SetEnv(envMap(map[string]string{
		EnvToken:   "123:abc",
		EnvOwnerID: "42, 77",
	}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if got := cfg.Telegram.OwnerUserIDs; len(got) != 2 || got[0] != 42 || got[1] != 77 {
		t.Fatalf("owners = %v", got)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	t.Run("database url forces postgres", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		ApplyEnv(cfg, envMap(map[string]string{EnvDatabaseURL: "postgres://u@h/db"}))
		if cfg.Storage.Driver != "postgres" || cfg.Storage.DSN != "postgres://u@h/db" {
			t.Fatalf("storage = %+v", cfg.Storage)
		}
	})

	t.Run("port goes to webhook when set", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		ApplyEnv(cfg, envMap(map[string]string{EnvWebhookURL: "https://x.example/hook", EnvPort: "8443"}))
		if cfg.Telegram.Listen != ":8443" || cfg.HTTP.Addr != "" {
			t.Fatalf("listen = %q, http = %q", cfg.Telegram.Listen, cfg.HTTP.Addr)
		}
	})

	t.Run("port goes to ops http otherwise", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		ApplyEnv(cfg, envMap(map[string]string{EnvPort: "9000"}))
		if cfg.HTTP.Addr != ":9000" || cfg.Telegram.Listen != "" {
			t.Fatalf("listen = %q, http = %q", cfg.Telegram.Listen, cfg.HTTP.Addr)
		}
	})

	t.Run("blank values are ignored", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		ApplyEnv(cfg, envMap(map[string]string{EnvToken: "  ", EnvOwnerID: "abc", EnvTimezone: ""}))
		if cfg.Telegram.Token != "123:abc" || cfg.Telegram.OwnerUserIDs[0] != 42 || cfg.Scheduler.Timezone != DefaultTimezone {
			t.Fatalf("cfg changed: %+v", cfg.Telegram)
		}
	})

	t.Run("payment and timezone", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		ApplyEnv(cfg, envMap(map[string]string{EnvPaymentCode: "PAY1", EnvQRFileID: "file-1", EnvTimezone: "UTC"}))
		if cfg.Subscription.PaymentCode != "PAY1" || cfg.Subscription.QRFileID != "file-1" || cfg.Scheduler.Timezone != "UTC" {
			t.Fatalf("got %+v / %q", cfg.Subscription, cfg.Scheduler.Timezone)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"missing owner", func(c *Config) { c.Telegram.OwnerUserIDs = nil }, "owner_user_ids"},
		{"sweep after planner", func(c *Config) { c.Scheduler.SweepAt = "02:00" }, "earlier than"},
		{"bad clock", func(c *Config) { c.Scheduler.PlannerAt = "25:00" }, "planner_at"},
		{"bad timezone", func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, "timezone"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, "unknown driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"unknown timesource", func(c *Config) { c.TimeSource.Driver = "moon" }, "timesource.driver"},
		{"bad duration", func(c *Config) { c.TimeSource.Timeout = "ten" }, "timesource.timeout"},
		{"empty broadcast", func(c *Config) {
			c.Broadcasts = []BroadcastConfig{{Name: "x", At: "06:30"}}
		}, "content"},
		{"duplicate broadcast", func(c *Config) {
			b := BroadcastConfig{Name: "x", At: "06:30", Content: []string{"a"}}
			c.Broadcasts = []BroadcastConfig{b, b}
		}, "duplicate"},
		{"http without addr", func(c *Config) { c.HTTP.Enabled = true }, "http.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("got %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateJoinsAllProblems(t *testing.T) {
	t.Parallel()
	cfg := Default()
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) < 2 {
		t.Fatalf("expected joined errors, got %v", err)
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	h, m, err := ParseClock(" 06:30 ")
	if err != nil || h != 6 || m != 30 {
		t.Fatalf("got %d:%d %v", h, m, err)
	}
	for _, bad := range []string{"", "6", "6:60", "-1:00", "aa:bb"} {
		if _, _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) accepted", bad)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Telegram.Token = "999:secret"
	newCfg.Storage = StorageConfig{Driver: "postgres", DSN: "postgres://user:pw@h/db"}
	newCfg.Subscription.PaymentCode = "PAY-SECRET"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"storage", "subscription", "telegram"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}
	if got := RestartRequired(changed); strings.Join(got, ",") != "storage,telegram" {
		t.Fatalf("restart = %v", got)
	}
}

func TestSummarizeConfigChangeNoop(t *testing.T) {
	t.Parallel()
	changed, _ := SummarizeConfigChange(validConfig(), validConfig())
	if len(changed) != 0 {
		t.Fatalf("changed = %v", changed)
	}
}

func TestLoadDotenv(t *testing.T) {
	p := writeFile(t, ".env", "ADHANBOT_TEST_DOTENV=from-file\n")
	t.Cleanup(func() { _ = os.Unsetenv("ADHANBOT_TEST_DOTENV") })

	if err := LoadDotenv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if err := LoadDotenv(p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("ADHANBOT_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("got %q, want %q", got, "from-file")
	}
}

func TestReloadPublishesValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.yaml", "telegram:\n  token: \"123:abc\"\n  owner_user_ids: [42]\n")
	m := NewManager(p)
	m.SetEnv(nil)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub, unsub := m.Subscribe(1)
	defer unsub()
	ctx := context.Background()

	// unchanged content publishes nothing
	if err := m.reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	select {
	case c := <-sub:
		t.Fatalf("unexpected publish %+v", c.Telegram)
	default:
	}

	if err := os.WriteFile(p, []byte("telegram:\n  token: \"123:abc\"\n  owner_user_ids: [42, 7]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := <-sub
	if len(got.Telegram.OwnerUserIDs) != 2 || m.Get() != got {
		t.Fatalf("published %+v", got.Telegram.OwnerUserIDs)
	}

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	if err := os.WriteFile(p, []byte("telegram:\n  token: \"123:abc\"\n  owner_user_ids: [1]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.reload(ctx); err == nil {
		t.Fatal("validator ignored")
	}
	if len(m.Get().Telegram.OwnerUserIDs) != 2 {
		t.Fatal("rejected config was committed")
	}
}

func TestSubscribeKeepsLatest(t *testing.T) {
	t.Parallel()
	m := NewManager("unused.json")
	sub, unsub := m.Subscribe(1)
	a, b := validConfig(), validConfig()
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatal("slow subscriber did not get the latest config")
	}
	unsub()
	unsub()
	if _, ok := <-sub; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	m.publish(a)
}

func TestYAMLRejectsMultipleDocuments(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yaml", "telegram:\n  token: x\n---\nlogging: {}\n"))
	m.SetEnv(nil)
	if _, err := m.Parse(); err == nil {
		t.Fatal("second document accepted")
	}
}
