// Package broadcast sends one randomly chosen item of a fixed content set to
// every active subscriber.
package broadcast

import (
	"context"
	"errors"
	"time"

	"adhanbot/internal/storage"
	kit "adhanbot/internal/transport"
)

// Kind is the timer payload kind of broadcast jobs.
const Kind = "broadcast"

var ErrEmptyContent = errors.New("broadcast: empty content set")

// Payload names a content set. It is the whole job state of a recurring
// broadcast registration.
type Payload struct {
	Name    string   `json:"name"`
	Content []string `json:"content"`
}

func (Payload) Kind() string { return Kind }

// Schedule is one configured recurring broadcast.
type Schedule struct {
	Name    string
	At      string // "HH:MM" in the timer zone
	Content []string
}

type Recipients interface {
	ListActive(ctx context.Context) ([]storage.Subscriber, error)
}

type Sender interface {
	Send(ctx context.Context, recipientID int64, text string, opt *kit.SendOptions) error
}

// Status describes one run.
type Status struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Item      int       `json:"item"`
	Total     int       `json:"total"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Failures  []int64   `json:"failures,omitempty"`
	StartedAt time.Time `json:"started_at"`
	DoneAt    time.Time `json:"done_at,omitempty"`
	Running   bool      `json:"running"`
}

type Option func(*Dispatcher)

// WithPicker replaces the uniform random choice; pick(n) must return a value
// in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(d *Dispatcher) {
		if pick != nil {
			d.pick = pick
		}
	}
}

// WithStatusRetention bounds the in-memory run history.
func WithStatusRetention(maxEntries int, ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if maxEntries > 0 {
			d.statusMax = maxEntries
		}
		if ttl > 0 {
			d.statusTTL = ttl
		}
	}
}
