package planner

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
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type staticSubs []storage.Subscriber

func (s staticSubs) ListActive(context.Context) ([]storage.Subscriber, error) {
	return append([]storage.Subscriber(nil), s...), nil
}

type fakeSource struct {
	mu    sync.Mutex
	times map[string]map[timesource.Event]string
	fail  map[string]error
	calls int
}

func (f *fakeSource) Today(_ context.Context, location string, day time.Time) (timesource.Events, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[location]; err != nil {
		return timesource.Events{}, err
	}
	return timesource.Events{Location: location, Day: storage.FormatDate(day), Times: f.times[location]}, nil
}

type fakeTimer struct {
	mu   sync.Mutex
	jobs map[string]time.Time
	adds int
}

func (f *fakeTimer) Schedule(id string, at time.Time, p scheduler.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = map[string]time.Time{}
	}
	f.jobs[id] = at
	f.adds++
	return nil
}

func at(h, m int) time.Time { return time.Date(2025, 3, 10, h, m, 0, 0, time.UTC) }

func newPlanner(subs Subscribers, src timesource.Source, tm Timer, now time.Time) *Planner {
	return New(subs, src, tm, Config{Parallelism: 2, LookupTimeout: time.Second}, logx.Nop(), eventbus.New(),
		WithClock(func() time.Time { return now }), WithLocation(time.UTC))
}

func TestPlanRegistersFutureEvents(t *testing.T) {
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Damascus": {timesource.Fajr: "05:10", timesource.Dhuhr: "12:05"},
	}}
	tm := &fakeTimer{}
	p := newPlanner(staticSubs{{ID: 1, Location: "Damascus", Status: storage.StatusActive}}, src, tm, at(1, 0))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Registered)
	assert.Equal(t, "2025-03-10", rep.Day)
	assert.Equal(t, map[string]time.Time{
		"prayer:1:Fajr:20250310":  at(5, 10),
		"prayer:1:Dhuhr:20250310": at(12, 5),
	}, tm.jobs)
	require.Len(t, rep.Registrations, 2)
	assert.Equal(t, timesource.Fajr, rep.Registrations[0].Event, "registrations sorted by time")
}

func TestPlanSkipsPastEvents(t *testing.T) {
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Damascus": {timesource.Fajr: "05:10", timesource.Dhuhr: "12:05"},
	}}
	tm := &fakeTimer{}
	p := newPlanner(staticSubs{{ID: 1, Location: "Damascus"}}, src, tm, at(6, 0))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Registered)
	assert.Equal(t, 1, rep.Past)
	assert.NotContains(t, tm.jobs, "prayer:1:Fajr:20250310")
	assert.Contains(t, tm.jobs, "prayer:1:Dhuhr:20250310")
}

func TestPlanEqualInstantIsPast(t *testing.T) {
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Homs": {timesource.Fajr: "05:10"},
	}}
	tm := &fakeTimer{}
	p := newPlanner(staticSubs{{ID: 2, Location: "Homs"}}, src, tm, at(5, 10))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Registered)
	assert.Empty(t, tm.jobs)
}

func TestPlanIsolatesLookupFailures(t *testing.T) {
	src := &fakeSource{
		times: map[string]map[timesource.Event]string{
			"Aleppo": {timesource.Isha: "19:40"},
		},
		fail: map[string]error{"Damascus": errors.New("connection reset")},
	}
	tm := &fakeTimer{}
	subs := staticSubs{
		{ID: 1, Location: "Damascus"},
		{ID: 2, Location: "Aleppo"},
		{ID: 3},
		{ID: 4, Location: "Aleppo", ExpiryDate: "2025-03-10"},
	}
	p := newPlanner(subs, src, tm, at(1, 0))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, rep.Subscribers)
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, rep.Failures[1], "connection reset")
	assert.Equal(t, 1, rep.NoLocation)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, map[string]time.Time{"prayer:2:Isha:20250310": at(19, 40)}, tm.jobs)
}

// hangingSource never answers for the locations in hang until ctx ends.
type hangingSource struct {
	*fakeSource
	hang map[string]bool
}

func (h hangingSource) Today(ctx context.Context, location string, day time.Time) (timesource.Events, error) {
	if h.hang[location] {
		<-ctx.Done()
		return timesource.Events{}, ctx.Err()
	}
	return h.fakeSource.Today(ctx, location, day)
}

func TestPlanTimesOutHangingLookup(t *testing.T) {
	src := hangingSource{
		fakeSource: &fakeSource{times: map[string]map[timesource.Event]string{
			"Aleppo": {timesource.Isha: "19:40"},
		}},
		hang: map[string]bool{"Damascus": true},
	}
	tm := &fakeTimer{}
	subs := staticSubs{
		{ID: 1, Location: "Damascus"},
		{ID: 2, Location: "Aleppo"},
		{ID: 3, Location: "Aleppo"},
		{ID: 4, Location: "Aleppo"},
	}
	p := New(subs, src, tm, Config{Parallelism: 2, LookupTimeout: 200 * time.Millisecond}, logx.Nop(), nil,
		WithClock(func() time.Time { return at(1, 0) }), WithLocation(time.UTC))

	start := time.Now()
	rep, err := p.Run(context.Background())
	took := time.Since(start)

	require.NoError(t, err)
	assert.Less(t, took, 2*time.Second, "hanging lookup must be cut off")
	assert.Equal(t, 1, rep.Failed)
	assert.Contains(t, rep.Failures[1], context.DeadlineExceeded.Error())
	assert.Equal(t, map[string]time.Time{
		"prayer:2:Isha:20250310": at(19, 40),
		"prayer:3:Isha:20250310": at(19, 40),
		"prayer:4:Isha:20250310": at(19, 40),
	}, tm.jobs)
}

func TestPlanMalformedEventDegradesPerEvent(t *testing.T) {
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Tartus": {timesource.Fajr: "xx:yy", timesource.Maghrib: "17:55 (EET)"},
	}}
	tm := &fakeTimer{}
	p := newPlanner(staticSubs{{ID: 9, Location: "Tartus"}}, src, tm, at(1, 0))

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Registered)
	assert.Equal(t, 4, rep.EventErrors, "bad Fajr plus three missing events")
	assert.Contains(t, tm.jobs, "prayer:9:Maghrib:20250310")
}

func TestPlanDryRunRegistersNothing(t *testing.T) {
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Damascus": {timesource.Asr: "15:20"},
	}}
	tm := &fakeTimer{}
	p := newPlanner(staticSubs{{ID: 1, Location: "Damascus"}}, src, tm, at(1, 0))

	rep, err := p.Plan(context.Background(), at(1, 0), true)
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.Equal(t, 1, rep.Registered)
	assert.Empty(t, tm.jobs)
	assert.Empty(t, p.Last().RunID, "dry runs are not recorded")
}

func TestPlanRerunReplacesJobs(t *testing.T) {
	eng := engine.New(engine.Config{Enabled: true, Workers: 2}, logx.Nop(), nil)
	eng.Start(context.Background())
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, eng, logx.Nop(), nil)
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
		eng.Stop(ctx)
	})

	now := time.Now().UTC()
	later := now.Add(2 * time.Hour)
	if later.Day() != now.Day() {
		t.Skip("too close to midnight")
	}
	src := &fakeSource{times: map[string]map[timesource.Event]string{
		"Damascus": {timesource.Isha: later.Format("15:04")},
	}}
	p := New(staticSubs{{ID: 1, Location: "Damascus"}, {ID: 2, Location: "Damascus"}}, src, sched, Config{}, logx.Nop(), nil,
		WithLocation(time.UTC))

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	first := sched.List()
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	second := sched.List()

	require.Len(t, first, 2)
	assert.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}
}

type recSender struct {
	mu   sync.Mutex
	to   []int64
	text []string
	err  error
}

func (r *recSender) Send(_ context.Context, id int64, text string, _ *kit.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.to = append(r.to, id)
	r.text = append(r.text, text)
	return nil
}

func TestHandlerSendsPrayerText(t *testing.T) {
	rs := &recSender{}
	h := Handler(rs, logx.Nop())
	err := h(context.Background(), scheduler.Fired{
		JobID:   "prayer:7:Maghrib:20250310",
		Payload: Prayer{SubscriberID: 7, Location: "Aleppo", Event: timesource.Maghrib},
	})
	require.NoError(t, err)
	require.Equal(t, []int64{7}, rs.to)
	assert.Contains(t, rs.text[0], "<b>المغرب</b>")
	assert.Contains(t, rs.text[0], "<b>حلب</b>")
}

func TestHandlerFailureIsNotRetried(t *testing.T) {
	rs := &recSender{err: errors.New("bot was blocked by the user")}
	err := Handler(rs, logx.Nop())(context.Background(), scheduler.Fired{
		Payload: Prayer{SubscriberID: 7, Location: "Aleppo", Event: timesource.Fajr},
	})
	require.Error(t, err)
	assert.True(t, engine.IsNoRetry(err))
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "prayer:42:Asr:20250102", JobID(42, timesource.Asr, time.Date(2025, 1, 2, 23, 0, 0, 0, time.UTC)))
}
