package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"adhanbot/internal/eventbus"
	rtsup "adhanbot/internal/runtime/supervisor"
	"adhanbot/pkg/logx"
	"adhanbot/pkg/ringbuf"
)

// Service runs tasks on a fixed worker pool fed by a bounded queue.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu   sync.Mutex
	cfg  Config
	pool *pool // nil when stopped

	states  sync.Map // task name -> *RunState
	history *ringbuf.Buffer[TaskEvent]

	seq       atomic.Uint64
	inFlight  atomic.Int32
	fullDrops atomic.Uint64
	staleDrop atomic.Uint64

	// drop warnings are throttled; the counters keep the totals
	warnFull  rate.Sometimes
	warnStale rate.Sometimes
}

// pool is one started generation of workers.
type pool struct {
	q       chan queuedTask
	sup     *rtsup.Supervisor
	stop    chan struct{} // closed when stopping begins
	stopped chan struct{} // closed once the workers are gone
}

type queuedTask struct {
	task    Task
	at      time.Time
	timeout time.Duration
	opt     TaskOptions
	state   *RunState // held while queued or running; nil when untracked
}

func (qt queuedTask) releaseState() {
	if qt.state != nil {
		qt.state.release()
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		history:   ringbuf.New[TaskEvent](cfg.HistorySize),
		warnFull:  rate.Sometimes{Interval: 5 * time.Second},
		warnStale: rate.Sometimes{Interval: 5 * time.Second},
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *Service) Enabled() bool { return s.config().Enabled }

// Supervisor returns the worker supervisor, nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool == nil {
		return nil
	}
	return s.pool.sup
}

// Apply swaps the config. The pool is restarted when its shape changed,
// stopped when disabled, and started when newly enabled.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.pool != nil && !closed(s.pool.stop)
	s.mu.Unlock()
	s.history.Resize(cfg.HistorySize)

	switch {
	case !running:
		if cfg.Enabled && !prev.Enabled {
			s.Start(ctx)
		}
	case !cfg.Enabled:
		s.Stop(ctx)
	case prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize:
		s.Stop(ctx)
		s.Start(ctx)
	}
}

// Start launches the workers. A Start during a Stop waits for it to finish.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	for s.pool != nil {
		p := s.pool
		s.mu.Unlock()
		if !closed(p.stop) {
			return
		}
		select {
		case <-p.stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		return
	}

	p := &pool{
		q:       make(chan queuedTask, s.cfg.QueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		sup: rtsup.New(ctx,
			rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
			rtsup.WithCancelOnError(false),
		),
	}
	s.pool = p
	for i := range s.cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.work(c, p)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop cancels running tasks and waits for the workers until ctx is done.
// Tasks still queued are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.pool
	if p == nil {
		s.mu.Unlock()
		return
	}
	if !closed(p.stop) {
		close(p.stop)
		go s.retire(p)
	}
	s.mu.Unlock()

	select {
	case <-p.stopped:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) retire(p *pool) {
	p.sup.Cancel()
	_ = p.sup.Wait(context.Background())
	for drained := false; !drained; {
		select {
		case qt := <-p.q:
			qt.releaseState()
		default:
			drained = true
		}
	}
	s.mu.Lock()
	if s.pool == p {
		s.pool = nil
	}
	s.mu.Unlock()
	close(p.stopped)
}

// Enqueue queues t without blocking; a full queue drops it with
// ErrQueueFull. With OverlapSkipIfRunning a task whose previous run is
// still queued or running is refused with ErrOverlapSkip.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	if t.Name = strings.TrimSpace(t.Name); t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.seq.Add(1))
	}

	// held through the send so a concurrent Stop cannot drain the queue
	// between the checks and the send
	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	var err error
	switch {
	case !cfg.Enabled:
		err = ErrDisabled
	case p == nil:
		err = ErrStopped
	case closed(p.stop):
		err = ErrStopping
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	qt := queuedTask{task: t, at: now, timeout: t.Timeout, opt: t.Opt.resolve(cfg)}
	if qt.timeout == 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if qt.opt.Overlap == OverlapSkipIfRunning {
		st := t.State
		if st == nil {
			v, _ := s.states.LoadOrStore(t.Name, &RunState{})
			st = v.(*RunState)
		}
		if !st.acquire() {
			s.mu.Unlock()
			s.publish(eventbus.TaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped, previous run active", logx.String("task", t.Name), logx.String("id", t.ID))
			return ErrOverlapSkip
		}
		qt.state = st
	}

	select {
	case p.q <- qt:
		s.mu.Unlock()
		return nil
	default:
	}
	s.mu.Unlock()
	qt.releaseState()
	s.fullDrops.Add(1)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
	s.warnFull.Do(func() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(p.q)),
			logx.Uint64("dropped_queue_full", s.fullDrops.Load()),
		)
	})
	return ErrQueueFull
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, p := s.cfg, s.pool
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Workers:        cfg.Workers,
		InFlight:       int(s.inFlight.Load()),
		Dropped:        DropCounts{QueueFull: s.fullDrops.Load(), Stale: s.staleDrop.Load()},
		DefaultTimeout: cfg.DefaultTimeout,
		MaxQueueDelay:  cfg.MaxQueueDelay,
		RetryMax:       cfg.RetryMax,
		History:        s.history.Items(),
	}
	if p != nil {
		snap.QueueLen, snap.QueueCap = len(p.q), cap(p.q)
	}
	return snap
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
