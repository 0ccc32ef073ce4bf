// Package adapter implements transport.Adapter on top of telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "adhanbot/internal/runtime/supervisor"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

const (
	defaultListen      = ":8443"
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

// Adapter forwards text messages and button presses to the channel given to
// Start and sends through the Bot API. Updates arriving while the channel is
// full are dropped and counted.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	sup *rtsup.Supervisor // nil when stopped
	out chan<- kit.Update

	dropped atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("poller", cfg.poller()))}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: newPoller(cfg),
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	b.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.forward(up)
		}
		return nil
	})
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		if up, ok := callbackUpdate(c.Callback()); ok {
			a.forward(up)
		}
		return nil
	})
	return a, nil
}

func newPoller(cfg Config) tele.Poller {
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		return &tele.Webhook{
			Listen:   cmpOr(cfg.Listen, defaultListen),
			Endpoint: &tele.WebhookEndpoint{PublicURL: url},
		}
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	return &tele.LongPoller{Timeout: timeout}
}

func cmpOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Sender == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	return kit.Update{
		Kind: kit.UpdateMessage,
		Message: &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
			IsGroup:      m.Chat.Type != tele.ChatPrivate,
		},
	}, true
}

// callbackUpdate drops inline-mode presses, which carry no message.
func callbackUpdate(cb *tele.Callback) (kit.Update, bool) {
	if cb == nil || cb.Sender == nil || cb.Message == nil || cb.Message.Chat == nil {
		return kit.Update{}, false
	}
	m := cb.Message
	return kit.Update{
		Kind: kit.UpdateCallback,
		Callback: &kit.Callback{
			ID:           cb.ID,
			FromID:       cb.Sender.ID,
			FromUsername: cb.Sender.Username,
			ChatID:       m.Chat.ID,
			ThreadID:     m.ThreadID,
			MessageID:    m.ID,
			Data:         cb.Data,
		},
	}, true
}

func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

// Supervisor returns the supervisor of the receive loop, nil when stopped.
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// Start begins receiving updates into out. A second Start while running is
// a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return nil
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup, a.out = sup, out
	a.mu.Unlock()

	sup.Go0("updates.drops", func(c context.Context) { a.reportDrops(c, cap(out)) })
	sup.Go0("bot.stop", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; an early return is restarted.
	sup.GoRestart("bot.poll", func(context.Context) error {
		a.log.Info("receiving updates")
		a.bot.Start()
		a.log.Info("update loop returned")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(ctx context.Context, capacity int) {
	t := time.NewTicker(dropReportEvery)
	defer t.Stop()
	flush := func() {
		if n := a.dropped.Swap(0); n > 0 {
			a.log.Warn("updates dropped, router behind", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-t.C:
			flush()
		}
	}
}

// Stop detaches the output channel and waits up to stopGrace (or ctx) for
// the receive loop; a pending getUpdates may outlive it.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	err := sup.Wait(wctx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}
