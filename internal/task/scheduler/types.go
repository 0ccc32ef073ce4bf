package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/task/engine"
	"adhanbot/pkg/logx"
)

var (
	ErrJobNotFound    = errors.New("scheduler: job not found")
	ErrInvalidJob     = errors.New("scheduler: invalid job")
	ErrUnknownPayload = errors.New("scheduler: no handler for payload kind")
)

type Config struct {
	Enabled    bool
	Timezone   string        // IANA TZ, e.g. "Asia/Damascus"
	JobTimeout time.Duration // default handler timeout
}

// Payload is the data a job carries to its handler. Kind selects the handler.
type Payload interface {
	Kind() string
}

// Fired describes one firing handed to a Handler.
type Fired struct {
	JobID   string
	At      time.Time // planned instant for one-shots, trigger time for recurring jobs
	Payload Payload
}

type Handler func(ctx context.Context, f Fired) error

type HandleOption func(*handlerDef)

// NoTimeout passed to WithTimeout runs the handler without a job deadline;
// only shutdown cancels its context.
const NoTimeout time.Duration = -1

// WithTimeout overrides Config.JobTimeout for one payload kind.
func WithTimeout(d time.Duration) HandleOption {
	return func(h *handlerDef) { h.timeout = d }
}

// WithTaskOptions sets engine retry/overlap options for one payload kind.
func WithTaskOptions(opt engine.TaskOptions) HandleOption {
	return func(h *handlerDef) { h.opt = opt; h.optSet = true }
}

type handlerDef struct {
	fn      Handler
	timeout time.Duration
	opt     engine.TaskOptions
	optSet  bool
}

type JobKind string

const (
	JobOnce      JobKind = "once"
	JobRecurring JobKind = "recurring"
)

// JobInfo is a read-only view of one registered job.
type JobInfo struct {
	ID          string    `json:"id"`
	Kind        JobKind   `json:"kind"`
	PayloadKind string    `json:"payload_kind"`
	Spec        string    `json:"spec,omitempty"`
	Next        time.Time `json:"next"`
	Prev        time.Time `json:"prev,omitempty"`
	Running     bool      `json:"running,omitempty"` // recurring only
}

type onceJob struct {
	at      time.Time
	payload Payload
	ver     uint64
	timer   *time.Timer
}

type recurringJob struct {
	id      string
	spec    string
	payload Payload
	entryID cron.EntryID
	state   *engine.RunState
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	engine *engine.Service

	parser    cron.Parser
	c         *cron.Cron
	recurring map[string]*recurringJob
	once      map[string]*onceJob
	onceVer   uint64
	handlers  map[string]*handlerDef

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Snapshot struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`
	Running  bool   `json:"running"`

	// Registered jobs by payload kind.
	ByKind map[string]int `json:"by_kind"`
	Once   int            `json:"once"`
	Cron   int            `json:"recurring"`

	Engine engine.Snapshot `json:"engine"`
}
