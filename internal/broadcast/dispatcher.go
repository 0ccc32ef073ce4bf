package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type Dispatcher struct {
	recipients Recipients
	send       Sender
	log        logx.Logger
	bus        eventbus.Bus

	pickMu sync.Mutex
	pick   func(n int) int

	statusMu  sync.RWMutex
	status    map[string]*Status
	statusMax int
	statusTTL time.Duration
}

func New(recipients Recipients, send Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		recipients: recipients,
		send:       send,
		log:        log.With(logx.String("comp", "broadcast")),
		bus:        bus,
		pick:       rand.IntN,
		status:     map[string]*Status{},
		statusMax:  200,
		statusTTL:  7 * 24 * time.Hour,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run picks one item of p.Content and sends it to every active subscriber.
// A failed recipient is recorded and skipped; nothing is retried. A deadline
// on ctx does not cut the run short: each send is bounded by the sender, and
// only cancellation stops the loop. The returned error covers only failures
// that stop the whole run.
func (d *Dispatcher) Run(ctx context.Context, p Payload) (Status, error) {
	if len(p.Content) == 0 {
		return Status{Name: p.Name}, ErrEmptyContent
	}
	subs, err := d.recipients.ListActive(ctx)
	if err != nil {
		return Status{Name: p.Name}, fmt.Errorf("list recipients: %w", err)
	}

	d.pickMu.Lock()
	item := d.pick(len(p.Content))
	d.pickMu.Unlock()
	if item < 0 || item >= len(p.Content) {
		item = 0
	}
	text := p.Content[item]

	now := time.Now()
	d.pruneStatus(now)
	st := &Status{ID: "bc:" + uuid.NewString(), Name: p.Name, Item: item, Total: len(subs), StartedAt: now, Running: true}
	d.statusMu.Lock()
	d.status[st.ID] = st
	d.statusMu.Unlock()

	d.log.Info("broadcast started", logx.String("run", st.ID), logx.String("name", p.Name), logx.Int("item", item), logx.Int("total", len(subs)))

	runCtx, release := ignoreDeadline(ctx)
	defer release()
	for _, s := range subs {
		if runCtx.Err() != nil {
			break
		}
		if err := d.send.Send(runCtx, s.ID, text, nil); err != nil {
			lvl := d.log.Warn
			if errors.Is(err, kit.ErrRecipientGone) {
				lvl = d.log.Info
			}
			lvl("broadcast send failed", logx.String("run", st.ID), logx.Int64("subscriber", s.ID), logx.Err(err))
			d.mark(st, s.ID, false)
			continue
		}
		d.mark(st, s.ID, true)
	}

	d.statusMu.Lock()
	st.Running = false
	st.DoneAt = time.Now()
	out := cloneStatus(st)
	d.statusMu.Unlock()

	fields := []logx.Field{
		logx.String("run", out.ID),
		logx.String("name", out.Name),
		logx.Int("total", out.Total),
		logx.Int("sent", out.Sent),
		logx.Int("failed", out.Failed),
		logx.Duration("dur", out.DoneAt.Sub(out.StartedAt)),
	}
	if out.Failed > 0 {
		d.log.Warn("broadcast finished with failures", fields...)
	} else {
		d.log.Info("broadcast finished", fields...)
	}
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.BroadcastDone, Time: out.DoneAt, Data: out})
	}
	return out, runCtx.Err()
}

// ignoreDeadline derives a context that follows parent's cancellation but
// not its deadline.
func ignoreDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	stop := context.AfterFunc(parent, func() {
		if errors.Is(parent.Err(), context.Canceled) {
			cancel()
		}
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

// Handler adapts Run to the timer facility.
func (d *Dispatcher) Handler() scheduler.Handler {
	return func(ctx context.Context, f scheduler.Fired) error {
		p, ok := f.Payload.(Payload)
		if !ok {
			return engine.NoRetry(fmt.Errorf("%w: %T", scheduler.ErrUnknownPayload, f.Payload))
		}
		_, err := d.Run(ctx, p)
		if err != nil {
			return engine.NoRetry(err)
		}
		return nil
	}
}

func (d *Dispatcher) Status(id string) (Status, bool) {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	st, ok := d.status[id]
	if !ok {
		return Status{}, false
	}
	return cloneStatus(st), true
}

// Recent returns retained runs, newest first.
func (d *Dispatcher) Recent() []Status {
	d.statusMu.RLock()
	out := make([]Status, 0, len(d.status))
	for _, st := range d.status {
		out = append(out, cloneStatus(st))
	}
	d.statusMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

func (d *Dispatcher) mark(st *Status, id int64, ok bool) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	if ok {
		st.Sent++
		return
	}
	st.Failed++
	if len(st.Failures) < 200 {
		st.Failures = append(st.Failures, id)
	}
}

// pruneStatus drops finished runs older than the TTL, then the oldest
// finished runs beyond statusMax.
func (d *Dispatcher) pruneStatus(now time.Time) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	for id, st := range d.status {
		if !st.Running && !st.DoneAt.IsZero() && now.Sub(st.DoneAt) > d.statusTTL {
			delete(d.status, id)
		}
	}
	if len(d.status) <= d.statusMax {
		return
	}
	done := make([]*Status, 0, len(d.status))
	for _, st := range d.status {
		if !st.Running {
			done = append(done, st)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].StartedAt.Before(done[j].StartedAt) })
	for _, st := range done {
		if len(d.status) <= d.statusMax {
			break
		}
		delete(d.status, st.ID)
	}
}

func cloneStatus(st *Status) Status {
	cp := *st
	cp.Failures = append([]int64(nil), st.Failures...)
	return cp
}
