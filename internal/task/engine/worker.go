package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"adhanbot/internal/eventbus"
	"adhanbot/pkg/logx"
)

const slowTask = 750 * time.Millisecond

func (s *Service) work(ctx context.Context, p *pool) {
	for !closed(p.stop) {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case qt := <-p.q:
			s.inFlight.Add(1)
			s.run(ctx, p.stop, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) run(ctx context.Context, stop <-chan struct{}, qt queuedTask) {
	defer qt.releaseState()

	start := time.Now()
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: max(start.Sub(qt.at), 0)}
	if limit := s.config().MaxQueueDelay; limit > 0 && ev.QueueDelay > limit {
		s.staleDrop.Add(1)
		ev.Error = "stale_queue_delay"
		s.history.Push(ev)
		s.publish(eventbus.TaskDropped, ev)
		s.warnStale.Do(func() {
			s.log.Warn("task dropped: waited too long in queue",
				logx.String("task", ev.Name),
				logx.Duration("queue_delay", ev.QueueDelay),
				logx.Uint64("dropped_stale", s.staleDrop.Load()),
			)
		})
		return
	}

	s.publish(eventbus.TaskStarted, ev)
	var err error
	ev.Attempts, err = s.attempt(ctx, stop, qt)
	ev.Duration = time.Since(start)

	log := s.log.With(logx.String("task", ev.Name), logx.Duration("dur", ev.Duration), logx.Int("attempts", ev.Attempts))
	switch {
	case err != nil:
		ev.Error = err.Error()
		log.Warn("task failed", logx.Err(err))
		s.publish(eventbus.TaskFailed, ev)
	case ev.Duration >= slowTask:
		log.Info("task completed")
		s.publish(eventbus.TaskFinished, ev)
	default:
		log.Debug("task completed")
		s.publish(eventbus.TaskFinished, ev)
	}
	s.history.Push(ev)
}

// attempt runs qt until it succeeds, fails permanently, or exhausts its
// retries. It returns the number of attempts made.
func (s *Service) attempt(ctx context.Context, stop <-chan struct{}, qt queuedTask) (int, error) {
	for n := 1; ; n++ {
		err := s.runOnce(ctx, qt)
		if err == nil {
			return n, nil
		}
		if c, permanent := cause(err); permanent {
			return n, c
		}
		if n > qt.opt.RetryMax {
			return n, err
		}

		d := backoff(qt.opt, n)
		s.log.Debug("task retry scheduled", logx.String("task", qt.task.Name), logx.Int("attempt", n+1), logx.Duration("delay", d), logx.Err(err))
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return n, ctx.Err()
		case <-stop:
			t.Stop()
			return n, ErrStopping
		}
	}
}

// runOnce runs one attempt under the task timeout, converting a panic into
// an error.
func (s *Service) runOnce(ctx context.Context, qt queuedTask) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("task panicked", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

// backoff doubles RetryBase per retry, caps at RetryMaxDelay and applies
// ±RetryJitter.
func backoff(opt TaskOptions, retry int) time.Duration {
	d := opt.RetryBase << min(retry-1, 30)
	if d <= 0 || d > opt.RetryMaxDelay {
		d = opt.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (1 + opt.RetryJitter*(2*rand.Float64()-1)))
	return min(max(d, 0), opt.RetryMaxDelay)
}
