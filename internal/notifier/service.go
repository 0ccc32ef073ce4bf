package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"adhanbot/internal/eventbus"
	rtsup "adhanbot/internal/runtime/supervisor"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/ringbuf"
)

const historySize = 300

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoAdapter = errors.New("notifier has no transport adapter")
)

var defaultSendOptions = kit.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Service is safe for concurrent use. Enabled gates the Notify queue only;
// Send works whenever an adapter is attached.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	adapter kit.Adapter
	q       *queue // nil unless started

	dedup   *dedupSet
	history *ringbuf.Buffer[HistoryItem]
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		bus:     bus,
		adapter: adapter,
		dedup:   newDedupSet(),
		history: ringbuf.New[HistoryItem](historySize),
	}
	s.Apply(cfg)
	return s
}

// Apply swaps the config. Worker count and queue size take effect on the
// next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// SetAdapter attaches the transport after construction.
func (s *Service) SetAdapter(a kit.Adapter) {
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()
}

// Supervisor returns the worker supervisor, nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		return nil
	}
	return s.q.sup
}

func (s *Service) snapshot() (Config, *rate.Limiter, kit.Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter, s.adapter
}

// Send delivers text to one recipient: one attempt, bounded by SendTimeout.
// Errors may wrap transport.ErrRecipientGone.
func (s *Service) Send(ctx context.Context, recipientID int64, text string, opt *kit.SendOptions) error {
	cfg, lim, ad := s.snapshot()
	if ad == nil {
		return ErrNoAdapter
	}
	if opt == nil {
		o := defaultSendOptions
		opt = &o
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	err := lim.Wait(ctx)
	if err != nil {
		err = fmt.Errorf("rate limit wait: %w", err)
	} else {
		_, err = ad.SendText(ctx, kit.ChatTarget{ChatID: recipientID}, text, opt)
	}
	cancel()

	s.record("send", kit.ChatTarget{ChatID: recipientID}, "", text, time.Since(start), err)
	return err
}

// SendPhoto delivers an already-uploaded photo when the adapter supports it.
func (s *Service) SendPhoto(ctx context.Context, recipientID int64, fileID, caption string) error {
	cfg, lim, ad := s.snapshot()
	ps, ok := ad.(kit.PhotoSender)
	if !ok {
		return ErrNoAdapter
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return ps.SendPhoto(ctx, kit.ChatTarget{ChatID: recipientID}, fileID, caption, &kit.SendOptions{ParseMode: "HTML"})
}

// History returns recent finished deliveries, oldest first.
func (s *Service) History() []HistoryItem { return s.history.Items() }

// record appends to history and publishes the outcome.
func (s *Service) record(path string, to kit.ChatTarget, key, text string, took time.Duration, err error) {
	now := time.Now()
	ev := DeliveryEvent{Path: path, ChatID: to.ChatID, ThreadID: to.ThreadID, Key: key, At: now, Took: took}
	h := HistoryItem{At: now, Path: path, Recipient: to.ChatID, Text: text}
	typ := eventbus.DeliverySent
	if err != nil {
		typ = eventbus.DeliveryFailed
		ev.Error, h.Error = err.Error(), err.Error()
		ev.Gone = errors.Is(err, kit.ErrRecipientGone)
	}
	s.history.Push(h)
	s.publish(typ, ev)
}

func (s *Service) publish(typ string, ev DeliveryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
