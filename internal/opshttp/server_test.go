package opshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"adhanbot/internal/health"
	"adhanbot/internal/notifier"
	"adhanbot/internal/storage"
	"adhanbot/internal/task/scheduler"
	"adhanbot/pkg/logx"
)

type fakeHealth struct{ ok bool }

func (f fakeHealth) Check(context.Context) health.Report {
	return health.Report{OK: f.ok, Counts: storage.Counts{Total: 2}}
}

type fakeJobs []scheduler.JobInfo

func (f fakeJobs) List() []scheduler.JobInfo { return f }

type fakeStats struct{ err error }

func (f fakeStats) Stats(context.Context) (storage.Counts, error) {
	return storage.Counts{Total: 4, Active: 3}, f.err
}

func get(t *testing.T, h http.Handler, path string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthzStatus(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		ok   bool
		code int
	}{
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
	} {
		s := New(Deps{Health: fakeHealth{ok: tc.ok}}, logx.Nop())
		rec := get(t, s.Router(Config{}), "/healthz")
		if rec.Code != tc.code {
			t.Fatalf("ok=%v: code = %d, want %d", tc.ok, rec.Code, tc.code)
		}
		var rep health.Report
		if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rep.Counts.Total != 2 {
			t.Fatalf("counts = %+v", rep.Counts)
		}
	}
}

func TestJobsFilter(t *testing.T) {
	t.Parallel()
	jobs := fakeJobs{
		{ID: "prayer:1:Fajr:20250310", PayloadKind: "prayer"},
		{ID: "broadcast:morning", PayloadKind: "broadcast"},
	}
	h := New(Deps{Jobs: jobs}, logx.Nop()).Router(Config{})

	var all []scheduler.JobInfo
	if err := json.Unmarshal(get(t, h, "/jobs").Body.Bytes(), &all); err != nil || len(all) != 2 {
		t.Fatalf("all = %v, err %v", all, err)
	}
	var some []scheduler.JobInfo
	if err := json.Unmarshal(get(t, h, "/jobs?kind=broadcast").Body.Bytes(), &some); err != nil {
		t.Fatal(err)
	}
	if len(some) != 1 || some[0].ID != "broadcast:morning" {
		t.Fatalf("filtered = %v", some)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	h := New(Deps{Stats: fakeStats{}}, logx.Nop()).Router(Config{})
	rec := get(t, h, "/stats")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"active": 3`) {
		t.Fatalf("got %d %s", rec.Code, rec.Body)
	}

	h = New(Deps{Stats: fakeStats{err: errors.New("db down")}}, logx.Nop()).Router(Config{})
	if rec := get(t, h, "/stats"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestOptionalRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("m 1\n")) })
	s := New(Deps{Metrics: metrics}, logx.Nop())

	h := s.Router(Config{})
	if rec := get(t, h, "/metrics"); rec.Body.String() != "m 1\n" {
		t.Fatalf("metrics = %q", rec.Body)
	}
	if rec := get(t, h, "/healthz"); rec.Code != http.StatusNotFound {
		t.Fatalf("healthz without checker = %d", rec.Code)
	}
	if rec := get(t, h, "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d", rec.Code)
	}
	if rec := get(t, s.Router(Config{Pprof: true}), "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof enabled = %d", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()
	h := New(Deps{Stats: fakeStats{}}, logx.Nop()).Router(Config{CORSOrigins: []string{"https://ops.example"}})

	rec := get(t, h, "/stats", "Origin", "https://ops.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example" {
		t.Fatalf("allowed origin header = %q", got)
	}
	rec = get(t, h, "/stats", "Origin", "https://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("foreign origin header = %q", got)
	}
}

func TestApplyStartStop(t *testing.T) {
	s := New(Deps{Stats: fakeStats{}}, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("no listen address")
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/stats", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if s.Addr() != addr {
		t.Fatalf("unchanged config restarted the listener")
	}

	if err := s.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("addr after disable = %q", s.Addr())
	}
}

type fakeDeliveries []notifier.HistoryItem

func (f fakeDeliveries) History() []notifier.HistoryItem { return append([]notifier.HistoryItem(nil), f...) }

func TestDeliveriesNewestFirst(t *testing.T) {
	t.Parallel()
	d := fakeDeliveries{
		{Recipient: 1, Path: "send"},
		{Recipient: 2, Path: "send", Error: "recipient unreachable"},
		{Recipient: 3, Path: "notify"},
	}
	h := New(Deps{Deliveries: d}, logx.Nop()).Router(Config{})

	var all []notifier.HistoryItem
	if err := json.Unmarshal(get(t, h, "/deliveries").Body.Bytes(), &all); err != nil || len(all) != 3 || all[0].Recipient != 3 {
		t.Fatalf("all = %+v, err %v", all, err)
	}
	var failed []notifier.HistoryItem
	if err := json.Unmarshal(get(t, h, "/deliveries?failed=1").Body.Bytes(), &failed); err != nil || len(failed) != 1 || failed[0].Recipient != 2 {
		t.Fatalf("failed = %+v, err %v", failed, err)
	}
}
