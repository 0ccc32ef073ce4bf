package opshttp

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"adhanbot/internal/broadcast"
	"adhanbot/internal/health"
	"adhanbot/internal/notifier"
	"adhanbot/internal/planner"
	"adhanbot/internal/storage"
	"adhanbot/internal/task/scheduler"
	"adhanbot/pkg/logx"
)

// Config controls the ops listener.
type Config struct {
	Enabled     bool
	Addr        string
	CORSOrigins []string
	Pprof       bool
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8080"
	}
	return c
}

type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

type Jobs interface {
	List() []scheduler.JobInfo
}

type Stats interface {
	Stats(ctx context.Context) (storage.Counts, error)
}

type PlannerReports interface {
	Last() planner.Report
}

type Broadcasts interface {
	Recent() []broadcast.Status
}

type Deliveries interface {
	History() []notifier.HistoryItem
}

// Deps are the read-only views served over HTTP. Nil members disable
// their route.
type Deps struct {
	Health     HealthChecker
	Jobs       Jobs
	Stats      Stats
	Planner    PlannerReports
	Broadcasts Broadcasts
	Deliveries Deliveries
	Metrics    http.Handler
}

// Server manages the lifecycle of the ops listener.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	deps Deps
	cfg  Config
	srv  *http.Server
	ln   net.Listener
	addr string
}

func New(deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{deps: deps, log: log.With(logx.String("comp", "opshttp"))}
}

// Router builds the chi mux for cfg. Exposed for tests.
func (s *Server) Router(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: false,
		})
		r.Use(c.Handler)
	}

	d := s.deps
	if d.Health != nil {
		r.Get("/healthz", s.handleHealth)
	}
	if d.Jobs != nil {
		r.Get("/jobs", s.handleJobs)
	}
	if d.Stats != nil {
		r.Get("/stats", s.handleStats)
	}
	if d.Planner != nil {
		r.Get("/planner", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, d.Planner.Last())
		})
	}
	if d.Broadcasts != nil {
		r.Get("/broadcasts", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, d.Broadcasts.Recent())
		})
	}
	if d.Deliveries != nil {
		r.Get("/deliveries", s.handleDeliveries)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rep := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !rep.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.List()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		kept := jobs[:0:0]
		for _, j := range jobs {
			if j.PayloadKind == kind {
				kept = append(kept, j)
			}
		}
		jobs = kept
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Stats.Stats(r.Context())
	if err != nil {
		s.log.Warn("stats failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeliveries lists recent deliveries, newest first. ?failed=1 keeps
// failures only.
func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	items := s.deps.Deliveries.History()
	slices.Reverse(items)
	if r.URL.Query().Get("failed") == "1" {
		items = slices.DeleteFunc(items, func(h notifier.HistoryItem) bool { return h.Error == "" })
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Apply starts, restarts or stops the listener according to cfg.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.cfg.Addr == cfg.Addr && s.cfg.Pprof == cfg.Pprof && slices.Equal(s.cfg.CORSOrigins, cfg.CORSOrigins) {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Router(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.ln = ln
	s.cfg = cfg
	s.addr = ln.Addr().String()

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("ops server listening", logx.String("addr", addr), logx.Bool("pprof", cfg.Pprof))
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	if ctx == nil {
		ctx = context.Background()
	}
	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("ops server stopped", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
