package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/eventbus"
	"adhanbot/internal/notifier"
	"adhanbot/internal/planner"
	"adhanbot/internal/subscription"
	"adhanbot/internal/task/engine"
	"adhanbot/internal/task/scheduler"
	"adhanbot/pkg/logx"
)

func TestObserve(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())

	c.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Name: "prayer:1:Fajr:20250310", Duration: time.Second}})
	c.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: engine.TaskEvent{Name: "prayer:2:Isha:20250310"}})
	c.Observe(eventbus.Event{Type: eventbus.TaskFailed, Data: engine.TaskEvent{Name: "broadcast:azkar_morning"}})
	c.Observe(eventbus.Event{Type: eventbus.TimerFired, Data: scheduler.JobInfo{PayloadKind: "prayer"}})
	c.Observe(eventbus.Event{Type: eventbus.PlanFinished, Data: planner.Report{Registered: 12, Failed: 1, EventErrors: 2}})
	c.Observe(eventbus.Event{Type: eventbus.PlanFinished, Data: planner.Report{Registered: 99, DryRun: true}})
	c.Observe(eventbus.Event{Type: eventbus.SweepFinished, Data: subscription.SweepReport{Expired: []int64{1, 2, 3}}})
	c.Observe(eventbus.Event{Type: eventbus.OrderIssued})
	c.Observe(eventbus.Event{Type: eventbus.OrderActivated})
	c.Observe(eventbus.Event{Type: eventbus.BroadcastDone, Data: broadcast.Status{Name: "azkar_evening", Sent: 4, Failed: 1}})
	c.Observe(eventbus.Event{Type: eventbus.DeliveryFailed, Data: notifier.DeliveryEvent{Path: "send"}})
	c.Observe(eventbus.Event{Type: "something.else", Data: 42})
	c.Observe(eventbus.Event{Type: eventbus.TaskFinished, Data: "wrong type"})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasks.WithLabelValues("prayer", "finished")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasks.WithLabelValues("broadcast", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.timerFired.WithLabelValues("prayer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.planRuns))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.planRegistered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.planFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.planEventErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.orders.WithLabelValues("activated")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.broadcasts.WithLabelValues("azkar_evening", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deliveries.WithLabelValues("send", "failed")))
}

func TestRunConsumesBus(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, bus)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.OrderIssued})
		return testutil.ToFloat64(c.orders.WithLabelValues("issued")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	n, err := testutil.GatherAndCount(c.Registry(), "adhanbot_eventbus_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandlerServesSeries(t *testing.T) {
	t.Parallel()
	c := New(logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.OrderIssued})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `adhanbot_subscription_orders_total{stage="issued"} 1`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestFamily(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "prayer", family("prayer:42:Fajr:20250310"))
	assert.Equal(t, "system.sweep", family("system.sweep"))
	assert.Equal(t, "unknown", family(""))
}
