package logx

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFormatOperatorLine(t *testing.T) {
	t.Parallel()

	got := formatOperatorLine([]byte(`{"level":"warn","message":"lookup failed","subscriber":42,"comp":"planner","time":"x"}`))
	want := "[WARN] lookup failed\n- comp=planner\n- subscriber=42"
	if got != want {
		t.Fatalf("formatOperatorLine = %q, want %q", got, want)
	}

	raw := formatOperatorLine([]byte("not json\n"))
	if raw != "not json" {
		t.Fatalf("formatOperatorLine(raw) = %q", raw)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARNING ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nope", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("ignored", String("k", "v"))
	if l.With(Int("n", 1)).IsZero() {
		t.Fatalf("logger with fields should not be zero")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 12); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestOperatorSinkFiltersAndSends(t *testing.T) {
	t.Parallel()

	got := make(chan string, 4)
	sink := newOperatorSink(func(_ context.Context, chatID int64, threadID int, text string) error {
		if chatID != 7 || threadID != 3 {
			t.Errorf("send to %d/%d", chatID, threadID)
		}
		got <- text
		return nil
	})
	defer sink.close()

	if sink.configure(OperatorConfig{Enabled: true}) {
		t.Fatalf("sink without chat should stay detached")
	}
	if !sink.configure(OperatorConfig{Enabled: true, ChatID: 7, ThreadID: 3, MinLevel: "error", RatePerSec: 10}) {
		t.Fatalf("sink should attach")
	}

	_, _ = sink.WriteLevel(zerolog.WarnLevel, []byte(`{"level":"warn","message":"below"}`))
	_, _ = sink.WriteLevel(zerolog.ErrorLevel, []byte(`{"level":"error","message":"boom","caller":"x.go:1"}`))

	select {
	case text := <-got:
		if text != "[ERROR] boom" {
			t.Fatalf("sent %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing sent")
	}
	select {
	case text := <-got:
		t.Fatalf("unexpected extra line %q", text)
	default:
	}
}

func TestServiceWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(String("comp", "test")).Info("hello", Int("n", 2))
	log.Debug("hidden")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"message":"hello"`) || !strings.Contains(out, `"comp":"test"`) || !strings.Contains(out, `"n":2`) {
		t.Fatalf("log line missing fields: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %s", out)
	}
}
