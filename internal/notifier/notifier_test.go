package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adhanbot/internal/eventbus"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []kit.ChatTarget
	texts []string
	fail  map[int64]error
	block bool
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                        { return nil }
func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(ctx context.Context, id, text string) error { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.block {
		<-ctx.Done()
		return kit.MessageRef{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, to)
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSendSingleAttempt(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{fail: map[int64]error{2: errors.New("blocked by user")}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(Config{}, ad, logx.Nop(), bus)
	if err := s.Send(context.Background(), 1, "hello", nil); err != nil {
		t.Fatalf("Send(1) = %v", err)
	}
	if err := s.Send(context.Background(), 2, "hello", nil); err == nil {
		t.Fatalf("Send(2) = nil, want adapter error")
	}
	if got := ad.count(); got != 1 {
		t.Fatalf("sent = %d, want 1 (no retry)", got)
	}

	var sent, failed int
	for i := 0; i < 2; i++ {
		switch (<-events).Type {
		case eventbus.DeliverySent:
			sent++
		case eventbus.DeliveryFailed:
			failed++
		}
	}
	if sent != 1 || failed != 1 {
		t.Fatalf("events sent=%d failed=%d, want 1/1", sent, failed)
	}
	if h := s.History(); len(h) != 2 || h[1].Error == "" {
		t.Fatalf("history = %+v", h)
	}
}

func TestSendTimesOut(t *testing.T) {
	t.Parallel()

	s := New(Config{SendTimeout: 30 * time.Millisecond}, &fakeAdapter{block: true}, logx.Nop(), nil)
	start := time.Now()
	err := s.Send(context.Background(), 1, "x", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Send() took %s", time.Since(start))
	}
}

func TestSendWithoutAdapter(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop(), nil)
	if err := s.Send(context.Background(), 1, "x", nil); !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("Send() = %v, want ErrNoAdapter", err)
	}
}

func TestNotifyDeliversAndDedups(t *testing.T) {
	t.Parallel()

	ad := &fakeAdapter{}
	s := New(Config{Enabled: true, DedupWindow: time.Minute}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	n := kit.Notification{Channel: "telegram", Priority: 7, Target: kit.ChatTarget{ChatID: 99}, Text: "order 1"}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("second Notify() = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ad.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if got := ad.count(); got != 1 {
		t.Fatalf("delivered %d, want 1 after dedup", got)
	}
	ad.mu.Lock()
	text := ad.texts[0]
	ad.mu.Unlock()
	if text != "⚠️ order 1" {
		t.Fatalf("text = %q", text)
	}
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeAdapter{}, logx.Nop(), nil)
	if err := s.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify() = %v, want ErrDisabled", err)
	}
}

func TestNotifyStopsRetryingGoneRecipient(t *testing.T) {
	t.Parallel()

	calls := make(chan struct{}, 8)
	ad := &countingAdapter{calls: calls, err: fmt.Errorf("send: %w", kit.ErrRecipientGone)}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, RetryMax: 3, RetryBase: time.Millisecond}, ad, logx.Nop(), bus)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 5}, Text: "x"}))

	for {
		ev := <-events
		if ev.Type != eventbus.DeliveryFailed {
			continue
		}
		de := ev.Data.(DeliveryEvent)
		assert.True(t, de.Gone)
		break
	}
	s.Stop(context.Background())
	assert.Len(t, calls, 1)
}

func TestNotifyRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := make(chan struct{}, 8)
	ad := &countingAdapter{calls: calls, err: errors.New("flaky")}
	s := New(Config{Enabled: true, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 5}, Text: "x"}))

	require.Eventually(t, func() bool { return len(calls) == 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop(context.Background())
	h := s.History()
	require.Len(t, h, 1)
	assert.Equal(t, "notify", h[0].Path)
	assert.Equal(t, "flaky", h[0].Error)
}

func TestNotifyAfterStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true}, &fakeAdapter{}, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())
	assert.Nil(t, s.Supervisor())
	assert.ErrorIs(t, s.Notify(context.Background(), kit.Notification{Text: "x"}), ErrStopped)

	s.Start(context.Background())
	defer s.Stop(context.Background())
	assert.NoError(t, s.Notify(context.Background(), kit.Notification{Text: "x"}))
}

func TestDedupSet(t *testing.T) {
	d := newDedupSet()
	now := time.Unix(1_700_000_000, 0)
	assert.True(t, d.admit("a", now, time.Minute, 2))
	assert.False(t, d.admit("a", now.Add(30*time.Second), time.Minute, 2))
	assert.True(t, d.admit("a", now.Add(2*time.Minute), time.Minute, 2))

	assert.True(t, d.admit("b", now.Add(2*time.Minute+1), time.Minute, 2))
	assert.True(t, d.admit("c", now.Add(2*time.Minute+2), time.Minute, 2))
	assert.Len(t, d.until, 2)
	assert.NotContains(t, d.until, "a")
}

func TestBackoffBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt < 80; attempt++ {
		d := backoff(cfg, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}

type countingAdapter struct {
	fakeAdapter
	calls chan struct{}
	err   error
}

func (c *countingAdapter) SendText(context.Context, kit.ChatTarget, string, *kit.SendOptions) (kit.MessageRef, error) {
	c.calls <- struct{}{}
	return kit.MessageRef{}, c.err
}
