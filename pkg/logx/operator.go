package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// OperatorConfig controls the chat sink that mirrors important log lines to
// the operator.
type OperatorConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// SendFunc delivers a rendered log line to a chat.
type SendFunc func(ctx context.Context, chatID int64, threadID int, text string) error

const (
	operatorQueue   = 256
	operatorMaxLen  = 3500
	operatorMaxAttr = 600
)

type operatorLine struct {
	chatID   int64
	threadID int
	text     string
}

// operatorSink is a zerolog.LevelWriter that renders lines for a chat and
// hands them to a background sender. Writes never block: lines over the
// rate limit or beyond a full queue are dropped.
type operatorSink struct {
	mu       sync.Mutex
	cfg      OperatorConfig
	minLevel zerolog.Level
	limiter  *rate.Limiter
	send     SendFunc

	lines  chan operatorLine
	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newOperatorSink(send SendFunc) *operatorSink {
	return &operatorSink{send: send, lines: make(chan operatorLine, operatorQueue)}
}

func (o *operatorSink) setSender(send SendFunc) {
	o.mu.Lock()
	o.send = send
	o.mu.Unlock()
}

// configure applies cfg and reports whether the sink should be attached.
// The sender goroutine starts on the first enable and lives until close.
func (o *operatorSink) configure(cfg OperatorConfig) bool {
	o.mu.Lock()
	o.cfg = cfg
	o.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := max(cfg.RatePerSec, 1)
	o.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	o.mu.Unlock()

	if !cfg.Enabled || cfg.ChatID == 0 {
		return false
	}
	o.start.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		o.mu.Lock()
		o.cancel, o.done = cancel, make(chan struct{})
		done := o.done
		o.mu.Unlock()
		go o.run(ctx, done)
	})
	return true
}

func (o *operatorSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-o.lines:
			o.mu.Lock()
			send := o.send
			o.mu.Unlock()
			if send != nil {
				_ = send(ctx, l.chatID, l.threadID, l.text)
			}
		}
	}
}

func (o *operatorSink) close() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (o *operatorSink) Write(p []byte) (int, error) {
	return o.WriteLevel(zerolog.InfoLevel, p)
}

func (o *operatorSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	o.mu.Lock()
	cfg, minLevel, lim := o.cfg, o.minLevel, o.limiter
	o.mu.Unlock()

	if cfg.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatOperatorLine(p); text != "" {
		select {
		case o.lines <- operatorLine{chatID: cfg.ChatID, threadID: cfg.ThreadID, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatOperatorLine renders a zerolog JSON line as "[LEVEL] msg" followed by
// one "- key=value" line per field, keys sorted. Non-JSON input is passed
// through trimmed.
func formatOperatorLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, operatorMaxLen)
	}
	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)
	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)
	delete(m, zerolog.CallerFieldName)

	var b strings.Builder
	if lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	b.WriteString(msg)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), operatorMaxAttr))
	}
	return truncate(b.String(), operatorMaxLen)
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n < 10 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
