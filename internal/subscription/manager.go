package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"adhanbot/internal/eventbus"
	"adhanbot/internal/storage"
	"adhanbot/internal/timesource"
	kit "adhanbot/internal/transport"
	"adhanbot/pkg/logx"
)

type Manager struct {
	store storage.Store
	send  Sender
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex
	cfg Config

	now func() time.Time
	loc *time.Location

	// ids handed out for the current or a later second, by their timestamp
	orderMu sync.Mutex
	issued  map[string]int64
}

func New(store storage.Store, send Sender, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		store: store,
		send:  send,
		log:   log.With(logx.String("comp", "subscription")),
		bus:   bus,
		cfg:   cfg.withDefaults(),
		now:    time.Now,
		loc:    defaultLocation(),
		issued: map[string]int64{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func defaultLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Damascus")
	if err != nil {
		return time.UTC
	}
	return loc
}

// Apply swaps the runtime config (payment details, operators, validity).
func (m *Manager) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.cfg
	c.Operators = append([]int64(nil), m.cfg.Operators...)
	return c
}

// Today returns the current calendar day in the manager's zone.
func (m *Manager) Today() time.Time {
	t := m.now().In(m.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.loc)
}

// Touch records first contact (or refreshes the username).
func (m *Manager) Touch(ctx context.Context, id int64, username string) (storage.Subscriber, error) {
	return m.store.EnsureSubscriber(ctx, id, username)
}

// ChooseLocation stores a validated location key. It never changes the
// subscription status.
func (m *Manager) ChooseLocation(ctx context.Context, id int64, name string) (timesource.Location, error) {
	loc, ok := timesource.LookupLocation(name)
	if !ok {
		return timesource.Location{}, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
	}
	err := m.store.SetLocation(ctx, id, loc.Key)
	if errors.Is(err, storage.ErrNotFound) {
		if _, err = m.store.EnsureSubscriber(ctx, id, ""); err == nil {
			err = m.store.SetLocation(ctx, id, loc.Key)
		}
	}
	if err != nil {
		return timesource.Location{}, fmt.Errorf("set location: %w", err)
	}
	m.audit(ctx, storage.AuditEntry{ActorID: id, SubjectID: id, Action: "location", Target: loc.Key, OK: true})
	m.log.Debug("location chosen", logx.Int64("subscriber", id), logx.String("location", loc.Key))
	return loc, nil
}

// RequestOrder issues a fresh order for a subscriber with a location. Any
// previous pending order is superseded. Operators get a notice and the
// subscriber gets the QR photo when one is configured; both are best-effort.
func (m *Manager) RequestOrder(ctx context.Context, id int64) (Order, error) {
	sub, err := m.store.GetSubscriber(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Order{}, ErrLocationRequired
	}
	if err != nil {
		return Order{}, fmt.Errorf("load subscriber: %w", err)
	}
	if sub.Location == "" {
		return Order{}, ErrLocationRequired
	}

	orderID := m.newOrderID(id)
	err = m.store.IssueOrder(ctx, id, orderID)
	// another process (or an earlier run) holds the id; take the next one
	for range maxOrderAttempts - 1 {
		if !errors.Is(err, storage.ErrOrderConflict) {
			break
		}
		m.log.Debug("order id taken, retrying", logx.Int64("subscriber", id), logx.String("order", orderID))
		orderID = m.newOrderID(id)
		err = m.store.IssueOrder(ctx, id, orderID)
	}
	if err != nil {
		m.audit(ctx, storage.AuditEntry{ActorID: id, SubjectID: id, Action: "order.issue", Target: orderID, Error: err.Error()})
		return Order{}, fmt.Errorf("issue order: %w", err)
	}
	m.audit(ctx, storage.AuditEntry{ActorID: id, SubjectID: id, Action: "order.issue", Target: orderID, OK: true,
		MetaJSON: metaJSON(map[string]any{"location": sub.Location, "superseded": sub.PendingOrder})})

	cfg := m.config()
	order := Order{
		ID:           orderID,
		SubscriberID: id,
		Location:     sub.Location,
		Instructions: paymentText(orderID, cfg),
	}

	m.log.Info("order issued",
		logx.Int64("subscriber", id),
		logx.String("order", orderID),
		logx.String("location", sub.Location),
		logx.Bool("superseded", sub.PendingOrder != ""),
	)
	m.publish(eventbus.OrderIssued, order)

	if m.send != nil {
		notice := operatorNotice(sub, orderID)
		for _, op := range cfg.Operators {
			n := kit.Notification{
				Channel:  "orders",
				Priority: 8,
				Target:   kit.ChatTarget{ChatID: op},
				Text:     notice,
				Options:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
			}
			if err := m.send.Notify(ctx, n); err != nil {
				m.log.Warn("operator notice failed", logx.Int64("operator", op), logx.String("order", orderID), logx.Err(err))
			}
		}
		if cfg.QRFileID != "" {
			if err := m.send.SendPhoto(ctx, id, cfg.QRFileID, qrCaption); err != nil {
				m.log.Warn("qr photo failed", logx.Int64("subscriber", id), logx.Err(err))
				if err := m.send.Send(ctx, id, qrFallbackText(cfg.PaymentCode), nil); err != nil {
					m.log.Warn("qr fallback failed", logx.Int64("subscriber", id), logx.Err(err))
				}
			}
		}
	}
	return order, nil
}

// Confirm activates the subscriber whose pending order is orderID. A
// superseded or already consumed order reports ErrStaleOrder, anything else
// ErrNoMatchingSubscriber. Neither changes any record.
func (m *Manager) Confirm(ctx context.Context, actorID int64, orderID string) (storage.Subscriber, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return storage.Subscriber{}, ErrNoMatchingSubscriber
	}
	cfg := m.config()
	expiry := storage.FormatDate(m.Today().AddDate(0, 0, cfg.ValidityDays))

	sub, err := m.store.ActivateOrder(ctx, orderID, expiry)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = m.classifyMiss(ctx, orderID)
		} else {
			err = fmt.Errorf("activate order: %w", err)
		}
		m.audit(ctx, storage.AuditEntry{ActorID: actorID, Action: "order.confirm", Target: orderID, Error: err.Error()})
		m.log.Warn("confirmation rejected", logx.Int64("actor", actorID), logx.String("order", orderID), logx.Err(err))
		return storage.Subscriber{}, err
	}

	m.audit(ctx, storage.AuditEntry{ActorID: actorID, SubjectID: sub.ID, Action: "order.confirm", Target: orderID, OK: true,
		MetaJSON: metaJSON(map[string]any{"expiry_date": sub.ExpiryDate})})
	m.log.Info("subscription activated",
		logx.Int64("subscriber", sub.ID),
		logx.String("order", orderID),
		logx.String("expiry", sub.ExpiryDate),
	)
	m.publish(eventbus.OrderActivated, sub)

	if m.send != nil {
		if err := m.send.Send(ctx, sub.ID, activationText(orderID, sub.ExpiryDate), nil); err != nil {
			// activation stands; the caller reports the delivery problem
			m.log.Warn("activation notice failed", logx.Int64("subscriber", sub.ID), logx.Err(err))
			return sub, &NoticeError{Subscriber: sub.ID, Err: err}
		}
	}
	return sub, nil
}

// NoticeError reports a successful activation whose subscriber notice could
// not be delivered.
type NoticeError struct {
	Subscriber int64
	Err        error
}

func (e *NoticeError) Error() string {
	return fmt.Sprintf("activated %d but notice failed: %v", e.Subscriber, e.Err)
}

func (e *NoticeError) Unwrap() error { return e.Err }

func (m *Manager) classifyMiss(ctx context.Context, orderID string) error {
	_, err := m.store.FindByRetiredOrder(ctx, orderID)
	switch {
	case err == nil:
		return ErrStaleOrder
	case errors.Is(err, storage.ErrNotFound):
		return ErrNoMatchingSubscriber
	default:
		return fmt.Errorf("lookup retired order: %w", err)
	}
}

// Sweep demotes every active subscriber whose expiry date is today or
// earlier.
func (m *Manager) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	day := storage.FormatDate(m.Today())
	ids, err := m.store.ExpireDue(ctx, day)
	rep := SweepReport{Day: day, Expired: ids, Took: time.Since(start)}
	if err != nil {
		m.log.Error("expiry sweep failed", logx.String("day", day), logx.Err(err))
		return rep, fmt.Errorf("expire due: %w", err)
	}
	if len(ids) > 0 {
		m.audit(ctx, storage.AuditEntry{Action: "sweep", Target: day, OK: true, MetaJSON: metaJSON(map[string]any{"expired": ids})})
	}
	m.log.Info("expiry sweep done", logx.String("day", day), logx.Int("expired", len(ids)), logx.Duration("took", rep.Took))
	m.publish(eventbus.SweepFinished, rep)
	return rep, nil
}

func (m *Manager) Stats(ctx context.Context) (storage.Counts, error) {
	return m.store.Counts(ctx)
}

// IsOperator reports whether id may confirm orders.
func (m *Manager) IsOperator(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.cfg.Operators {
		if op == id {
			return true
		}
	}
	return false
}

const maxOrderAttempts = 5

// newOrderID renders "<unix>-<last 4 digits of id>". The timestamp is bumped
// past every id already handed out, so two subscribers sharing a suffix
// never get the same id from this process.
func (m *Manager) newOrderID(id int64) string {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()
	suffix := strconv.FormatInt(id, 10)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	now := m.now().Unix()
	for oid, ts := range m.issued {
		if ts < now {
			delete(m.issued, oid)
		}
	}
	for ts := now; ; ts++ {
		oid := strconv.FormatInt(ts, 10) + "-" + suffix
		if _, taken := m.issued[oid]; !taken {
			m.issued[oid] = ts
			return oid
		}
	}
}

func (m *Manager) audit(ctx context.Context, e storage.AuditEntry) {
	if e.At.IsZero() {
		e.At = m.now()
	}
	if err := m.store.AppendAudit(ctx, e); err != nil {
		m.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (m *Manager) publish(typ string, data any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Time: m.now(), Data: data})
}

func metaJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
