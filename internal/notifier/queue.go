package notifier

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"adhanbot/internal/eventbus"
	rtsup "adhanbot/internal/runtime/supervisor"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type job struct {
	n   kit.Notification
	key string
}

// queue is one started generation of the Notify pipeline.
type queue struct {
	jobs    chan job
	sup     *rtsup.Supervisor
	pending sync.WaitGroup // Notify calls past the accept check
	closing bool           // guarded by Service.mu
	done    chan struct{}
}

// Start launches the workers when Notify is enabled. A Start racing a Stop
// waits for the old queue to drain first.
func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		old := s.q
		if old == nil {
			break
		}
		closing := old.closing
		s.mu.Unlock()
		if !closing {
			return
		}
		select {
		case <-old.done:
		case <-ctx.Done():
			return
		}
	}
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return
	}

	q := &queue{
		jobs: make(chan job, s.cfg.QueueSize),
		done: make(chan struct{}),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.q = q
	for i := range s.cfg.Workers {
		q.sup.GoRestart("worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case j, ok := <-q.jobs:
					if !ok {
						return nil
					}
					s.deliver(c, j)
				}
			}
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop refuses new notices and drains the queue until ctx is done, then
// abandons what is left.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.q
	if q == nil {
		s.mu.Unlock()
		return
	}
	if !q.closing {
		q.closing = true
		go s.drain(q)
	}
	s.mu.Unlock()

	select {
	case <-q.done:
	case <-ctx.Done():
		q.sup.Cancel()
	}
}

func (s *Service) drain(q *queue) {
	q.pending.Wait()
	close(q.jobs)
	_ = q.sup.Wait(context.Background())
	s.mu.Lock()
	if s.q == q {
		s.q = nil
	}
	s.mu.Unlock()
	close(q.done)
}

// Notify queues an operator notice. Identical notices within DedupWindow
// are dropped silently.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	if !cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if q == nil || q.closing {
		s.mu.Unlock()
		return ErrStopped
	}
	q.pending.Add(1)
	s.mu.Unlock()
	defer q.pending.Done()

	key := dedupKey(n)
	ev := DeliveryEvent{Path: "notify", ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: time.Now()}
	if cfg.DedupWindow > 0 && key != "" && !s.dedup.admit(key, ev.At, cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.publish(eventbus.DeliveryDeduped, ev)
		return nil
	}
	select {
	case q.jobs <- job{n: n, key: key}:
		s.publish(eventbus.DeliveryEnqueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.publish(eventbus.DeliveryDropped, ev)
		return ErrQueueFull
	}
}

// deliver sends one notice with retries. A recipient reported gone is not
// retried; a flood wait from the platform stretches the backoff.
func (s *Service) deliver(ctx context.Context, j job) {
	cfg, lim, ad := s.snapshot()
	text := priorityPrefix(j.n.Priority) + j.n.Text
	if ad == nil || text == "" {
		return
	}

	start := time.Now()
	var err error
	for attempt := 1; ; attempt++ {
		if err = lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err = ad.SendText(callCtx, j.n.Target, text, j.n.Options)
		cancel()
		if err == nil || attempt > cfg.RetryMax || errors.Is(err, kit.ErrRecipientGone) {
			break
		}
		s.log.Debug("notice send failed", logx.Err(err), logx.Int("attempt", attempt))

		wait := backoff(cfg, attempt)
		if d, ok := kit.RetryAfter(err); ok {
			wait = max(wait, d)
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	if err != nil {
		s.log.Warn("operator notice not delivered", logx.Int64("chat_id", j.n.Target.ChatID), logx.Err(err))
	}
	s.record("notify", j.n.Target, j.key, text, time.Since(start), err)
}

func priorityPrefix(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	case p >= 5:
		return "ℹ️ "
	}
	return ""
}

// backoff doubles RetryBase per attempt up to RetryMaxDelay, with ±30%
// jitter.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 20)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}
