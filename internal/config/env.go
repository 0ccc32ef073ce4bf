package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvToken       = "TOKEN"
	EnvOwnerID     = "OWNER_ID"
	EnvDatabaseURL = "DATABASE_URL"
	EnvPort        = "PORT"
	EnvWebhookURL  = "WEBHOOK_URL"
	EnvPaymentCode = "PAYMENT_CODE"
	EnvQRFileID    = "QR_FILE_ID"
	EnvTimezone    = "TZ_NAME"
)

// LoadDotenv loads the given .env files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadDotenv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overlays environment values onto cfg.
//
// OWNER_ID accepts a comma separated list. DATABASE_URL switches storage to
// postgres. PORT sets the webhook listen address when a webhook is in use
// and the ops HTTP address otherwise.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvOwnerID); ok {
		if ids := parseIDList(v); len(ids) > 0 {
			cfg.Telegram.OwnerUserIDs = ids
		}
	}
	if v, ok := get(EnvDatabaseURL); ok {
		cfg.Storage.Driver = "postgres"
		cfg.Storage.DSN = v
	}
	if v, ok := get(EnvWebhookURL); ok {
		cfg.Telegram.WebhookURL = v
	}
	if v, ok := get(EnvPort); ok {
		if _, err := strconv.Atoi(v); err == nil {
			if cfg.Telegram.WebhookURL != "" {
				cfg.Telegram.Listen = ":" + v
			} else {
				cfg.HTTP.Addr = ":" + v
			}
		}
	}
	if v, ok := get(EnvPaymentCode); ok {
		cfg.Subscription.PaymentCode = v
	}
	if v, ok := get(EnvQRFileID); ok {
		cfg.Subscription.QRFileID = v
	}
	if v, ok := get(EnvTimezone); ok {
		cfg.Scheduler.Timezone = v
	}
}

func parseIDList(s string) []int64 {
	var out []int64
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' }) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id == 0 {
			continue
		}
		out = append(out, id)
	}
	return out
}
