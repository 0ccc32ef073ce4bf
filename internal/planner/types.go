package planner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"adhanbot/internal/storage"
	"adhanbot/internal/task/scheduler"
	"adhanbot/internal/timesource"
)

// PrayerKind is the payload kind of prayer notification jobs.
const PrayerKind = "prayer"

type Config struct {
	Parallelism   int
	LookupTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 10 * time.Second
	}
	return c
}

// Timer is the part of the timer facility the planner registers jobs on.
type Timer interface {
	Schedule(jobID string, at time.Time, p scheduler.Payload) error
}

// Subscribers lists the recipients of a planning pass.
type Subscribers interface {
	ListActive(ctx context.Context) ([]storage.Subscriber, error)
}

// Prayer is the payload of one prayer notification job.
type Prayer struct {
	SubscriberID int64            `json:"subscriber_id"`
	Location     string           `json:"location"`
	Event        timesource.Event `json:"event"`
	At           time.Time        `json:"at"`
}

func (Prayer) Kind() string { return PrayerKind }

// JobID renders the day-qualified job identity
// "prayer:<subscriber>:<event>:<YYYYMMDD>".
func JobID(subscriberID int64, ev timesource.Event, day time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", PrayerKind, strconv.FormatInt(subscriberID, 10), ev, day.Format("20060102"))
}

// Registration is one job a pass registered (or would register in a dry run).
type Registration struct {
	JobID        string           `json:"job_id"`
	SubscriberID int64            `json:"subscriber_id"`
	Location     string           `json:"location"`
	Event        timesource.Event `json:"event"`
	At           time.Time        `json:"at"`
}

// Report summarizes one planning pass.
type Report struct {
	RunID  string    `json:"run_id"`
	Day    string    `json:"day"`
	DryRun bool      `json:"dry_run"`
	At     time.Time `json:"at"`

	Subscribers int `json:"subscribers"`
	NoLocation  int `json:"no_location"`
	Expired     int `json:"expired"`
	Failed      int `json:"failed"`

	Registered  int `json:"registered"`
	Past        int `json:"past"`
	EventErrors int `json:"event_errors"`

	Registrations []Registration   `json:"registrations,omitempty"`
	Failures      map[int64]string `json:"failures,omitempty"`
	Took          time.Duration    `json:"took"`
}

type Option func(*Planner)

func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(p *Planner) {
		if loc != nil {
			p.loc = loc
		}
	}
}
