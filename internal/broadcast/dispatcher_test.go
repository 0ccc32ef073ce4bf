package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/storage"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type subs []int64

func (s subs) ListActive(context.Context) ([]storage.Subscriber, error) {
	out := make([]storage.Subscriber, 0, len(s))
	for _, id := range s {
		out = append(out, storage.Subscriber{ID: id, Status: storage.StatusActive})
	}
	return out, nil
}

type sender struct {
	mu   sync.Mutex
	fail map[int64]bool
	got  map[int64][]string
}

func (s *sender) Send(_ context.Context, id int64, text string, _ *kit.SendOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[int64][]string{}
	}
	s.got[id] = append(s.got[id], text)
	if s.fail[id] {
		return errors.New("forbidden: bot was blocked by the user")
	}
	return nil
}

func TestRunIsolatesRecipientFailures(t *testing.T) {
	snd := &sender{fail: map[int64]bool{2: true}}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	d := New(subs{1, 2, 3}, snd, logx.Nop(), bus, WithPicker(func(int) int { return 1 }))

	st, err := d.Run(context.Background(), Payload{Name: "azkar_morning", Content: []string{"a", "b", "c"}})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, []int64{2}, st.Failures)
	assert.Equal(t, 1, st.Item)
	assert.False(t, st.Running)

	for _, id := range []int64{1, 2, 3} {
		assert.Equal(t, []string{"b"}, snd.got[id], "one attempt per recipient")
	}

	select {
	case ev := <-ch:
		assert.Equal(t, eventbus.BroadcastDone, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no BroadcastDone event")
	}

	got, ok := d.Status(st.ID)
	require.True(t, ok)
	assert.Equal(t, st.Sent, got.Sent)
}

func TestRunRejectsEmptyContent(t *testing.T) {
	d := New(subs{1}, &sender{}, logx.Nop(), nil)
	_, err := d.Run(context.Background(), Payload{Name: "x"})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestRunNoRecipients(t *testing.T) {
	d := New(subs{}, &sender{}, logx.Nop(), nil)
	st, err := d.Run(context.Background(), Payload{Name: "x", Content: []string{"a"}})
	require.NoError(t, err)
	assert.Zero(t, st.Total)
}

func TestDefaultPickerUsesEveryItem(t *testing.T) {
	snd := &sender{}
	d := New(subs{1}, snd, logx.Nop(), nil)
	counts := map[int]int{}
	for i := 0; i < 300; i++ {
		st, err := d.Run(context.Background(), Payload{Name: "x", Content: []string{"a", "b", "c"}})
		require.NoError(t, err)
		counts[st.Item]++
	}
	for i := 0; i < 3; i++ {
		assert.Greater(t, counts[i], 30, "item %d picked %d times", i, counts[i])
	}
}

func TestStatusRetentionBounded(t *testing.T) {
	d := New(subs{1}, &sender{}, logx.Nop(), nil, WithStatusRetention(3, time.Hour))
	for i := 0; i < 6; i++ {
		_, err := d.Run(context.Background(), Payload{Name: "x", Content: []string{"a"}})
		require.NoError(t, err)
	}
	// pruning runs before each insert, so at most max+1 remain
	assert.LessOrEqual(t, len(d.Recent()), 4)
}

func TestHandlerRejectsForeignPayload(t *testing.T) {
	d := New(subs{1}, &sender{}, logx.Nop(), nil)
	err := d.Handler()(context.Background(), scheduler.Fired{Payload: otherPayload{}})
	require.Error(t, err)
	assert.True(t, engine.IsNoRetry(err))
	assert.ErrorIs(t, err, scheduler.ErrUnknownPayload)
}

type otherPayload struct{}

func (otherPayload) Kind() string { return "other" }

func TestDefaultSchedules(t *testing.T) {
	sch := DefaultSchedules()
	require.Len(t, sch, 2)
	assert.Equal(t, "06:30", sch[0].At)
	assert.Equal(t, "19:00", sch[1].At)
	assert.Len(t, sch[0].Content, 3)
	assert.Len(t, sch[1].Content, 3)
	assert.Equal(t, "broadcast:azkar_morning", JobID(sch[0].Name))
}

// slowSender hangs for delay on the ids in slow, then fails them.
type slowSender struct {
	sender
	slow  map[int64]bool
	delay time.Duration
}

func (s *slowSender) Send(ctx context.Context, id int64, text string, opt *kit.SendOptions) error {
	if s.slow[id] {
		select {
		case <-time.After(s.delay):
			return errors.New("send timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.sender.Send(ctx, id, text, opt)
}

func TestRunOutlivesCallerDeadline(t *testing.T) {
	snd := &slowSender{slow: map[int64]bool{1: true, 2: true, 3: true}, delay: 80 * time.Millisecond}
	d := New(subs{1, 2, 3, 4, 5, 6}, snd, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	st, err := d.Run(ctx, Payload{Name: "x", Content: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 3, st.Sent)
	assert.Equal(t, 3, st.Failed)
	for _, id := range []int64{4, 5, 6} {
		assert.Equal(t, []string{"a"}, snd.got[id], "recipient %d", id)
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	snd := &sender{}
	d := New(subs{1, 2}, snd, logx.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st, err := d.Run(ctx, Payload{Name: "x", Content: []string{"a"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.Sent)
	assert.Empty(t, snd.got)
}

func TestScheduledRunReachesHealthyRecipientsAfterSlowOnes(t *testing.T) {
	snd := &slowSender{slow: map[int64]bool{1: true, 2: true, 3: true}, delay: 120 * time.Millisecond}
	bus := eventbus.New()
	done, unsub := bus.Subscribe(4, eventbus.BroadcastDone)
	defer unsub()
	d := New(subs{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, snd, logx.Nop(), bus)

	eng := engine.New(engine.Config{Enabled: true, Workers: 1}, logx.Nop(), nil)
	eng.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC", JobTimeout: 200 * time.Millisecond}, eng, logx.Nop(), nil)
	sched.Handle(Kind, d.Handler(), scheduler.WithTimeout(scheduler.NoTimeout))
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	})

	require.NoError(t, sched.Schedule(JobID("x"), time.Now().Add(10*time.Millisecond), Payload{Name: "x", Content: []string{"a"}}))

	select {
	case ev := <-done:
		st := ev.Data.(Status)
		assert.Equal(t, 10, st.Total)
		assert.Equal(t, 7, st.Sent)
		assert.Equal(t, 3, st.Failed)
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast did not finish")
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	for id := int64(4); id <= 10; id++ {
		assert.Equal(t, []string{"a"}, snd.got[id], "recipient %d", id)
	}
}
