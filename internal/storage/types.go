package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrClosed   = errors.New("storage: closed")
	// ErrOrderConflict: another subscriber already holds the order id as
	// pending.
	ErrOrderConflict = errors.New("storage: order id already pending")
)

// DateLayout is the on-disk form of calendar dates. Dates compare correctly
// as strings in this layout.
const DateLayout = "2006-01-02"

// FormatDate renders the calendar day of t in its own location.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }

type Status string

const (
	StatusUnset   Status = "unset"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// Config selects and configures a driver.
//
// Driver values: "file", "sqlite", "postgres". DSN is used by postgres only,
// Path by file and sqlite.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int           // postgres only
}

// Subscriber is one durable subscriber record.
//
// PendingOrder is the order awaiting confirmation. RetiredOrder is the last
// order that was superseded or consumed, kept so a replayed confirmation can
// be told apart from an unknown one.
type Subscriber struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username,omitempty"`
	Location     string    `json:"location,omitempty"`
	Status       Status    `json:"status"`
	ExpiryDate   string    `json:"expiry_date,omitempty"`
	PendingOrder string    `json:"pending_order,omitempty"`
	RetiredOrder string    `json:"retired_order,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Counts struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
	Pending int `json:"pending"`
}

// AuditEntry records an operator or lifecycle action.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	SubjectID int64     `json:"subject_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	MetaJSON  string    `json:"meta,omitempty"`
}

// Store is the persistence API used by the subscription manager, the
// planner and the broadcast dispatcher.
type Store interface {
	// EnsureSubscriber creates an unset record on first contact and
	// refreshes the username on later ones.
	EnsureSubscriber(ctx context.Context, id int64, username string) (Subscriber, error)
	GetSubscriber(ctx context.Context, id int64) (Subscriber, error)
	SetLocation(ctx context.Context, id int64, location string) error

	// IssueOrder stores orderID as pending; a previous pending order moves
	// to RetiredOrder. ErrOrderConflict when another record holds orderID
	// as pending.
	IssueOrder(ctx context.Context, id int64, orderID string) error

	// ActivateOrder is a compare-and-set on PendingOrder: the matching
	// record becomes active with the given expiry and the order is retired.
	// ErrNotFound when no record holds orderID as pending.
	ActivateOrder(ctx context.Context, orderID, expiryDate string) (Subscriber, error)
	FindByRetiredOrder(ctx context.Context, orderID string) (Subscriber, error)

	ListActive(ctx context.Context) ([]Subscriber, error)

	// ExpireDue demotes active records with ExpiryDate <= today and returns
	// their ids.
	ExpireDue(ctx context.Context, today string) ([]int64, error)
	Counts(ctx context.Context) (Counts, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	Ping(ctx context.Context) error
	Close() error
}
