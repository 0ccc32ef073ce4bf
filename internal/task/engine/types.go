package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the task execution engine. The timer facility only
// triggers; every job body runs here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout bounds one attempt when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops tasks that waited longer in the queue. 0 keeps
	// them regardless.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	c.RetryMax = max(c.RetryMax, 0)
	return c
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

// TaskOptions tune retries and overlap for one task. RetryMax < 0 disables
// retries; 0 takes Config.RetryMax.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction, 0.2 = ±20%
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	switch {
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	case o.RetryMax < 0:
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState gates OverlapSkipIfRunning. A task holds it from the moment it is
// queued until its last attempt returns. The zero value is free.
type RunState struct{ busy atomic.Bool }

func (s *RunState) acquire() bool { return s.busy.CompareAndSwap(false, true) }
func (s *RunState) release()      { s.busy.Store(false) }

// Running reports whether a run currently holds the state.
func (s *RunState) Running() bool { return s.busy.Load() }

// Task is a unit of work. Name identifies the task for overlap tracking when
// State is nil; ID is generated when empty.
type Task struct {
	ID   string
	Name string
	// Timeout bounds each attempt: 0 means Config.DefaultTimeout, a
	// negative value means no bound.
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// TaskEvent describes one task run. It is both the Data of task.* bus
// events and the entry type of the history.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// DropCounts counts tasks that never ran.
type DropCounts struct {
	QueueFull uint64 `json:"queue_full"`
	Stale     uint64 `json:"stale"`
}

type Snapshot struct {
	Enabled        bool          `json:"enabled"`
	Workers        int           `json:"workers"`
	QueueLen       int           `json:"queue_len"`
	QueueCap       int           `json:"queue_cap"`
	InFlight       int           `json:"in_flight"`
	Dropped        DropCounts    `json:"dropped"`
	DefaultTimeout time.Duration `json:"default_timeout"`
	MaxQueueDelay  time.Duration `json:"max_queue_delay"`
	RetryMax       int           `json:"retry_max"`
	History        []TaskEvent   `json:"history"`
}
