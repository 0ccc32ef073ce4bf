package subscription

import (
	"context"
	"errors"
	"time"

	kit "adhanbot/internal/transport"
)

var (
	ErrLocationRequired     = errors.New("subscription: location required")
	ErrUnknownLocation      = errors.New("subscription: unknown location")
	ErrNoMatchingSubscriber = errors.New("subscription: no matching subscriber")
	ErrStaleOrder           = errors.New("subscription: order superseded or already used")
)

type Config struct {
	ValidityDays int
	PriceText    string
	PaymentCode  string
	QRFileID     string
	Operators    []int64
}

func (c Config) withDefaults() Config {
	if c.ValidityDays <= 0 {
		c.ValidityDays = 7
	}
	if c.PriceText == "" {
		c.PriceText = "1$ (USD)"
	}
	return c
}

// Sender is the delivery surface the manager needs. notifier.Service
// satisfies it.
type Sender interface {
	Send(ctx context.Context, recipientID int64, text string, opt *kit.SendOptions) error
	SendPhoto(ctx context.Context, recipientID int64, fileID, caption string) error
	Notify(ctx context.Context, n kit.Notification) error
}

// Order is the result of RequestOrder. Instructions is the rendered payment
// message for the subscriber.
type Order struct {
	ID           string
	SubscriberID int64
	Location     string
	Instructions string
}

// SweepReport lists the subscribers demoted by one sweep.
type SweepReport struct {
	Day     string
	Expired []int64
	Took    time.Duration
}

type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLocation sets the zone that defines "today". Default Asia/Damascus,
// falling back to UTC when tzdata is missing.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}
