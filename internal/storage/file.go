package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"adhanbot/pkg/logx"
)

// fileStore keeps all subscribers in memory and rewrites a snapshot after
// every mutation.
//
// Files:
//   - <prefix>.subscribers.json (atomic snapshot, tmp + rename)
//   - <prefix>.audit.jsonl      (append-only JSON Lines)
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	auditFile    *os.File
	subs         map[int64]*Subscriber
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".subscribers.json"
	subs := map[int64]*Subscriber{}
	if err := loadSnapshot(snapPath, subs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", snapPath, err)
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("snapshot", snapPath), logx.Int("subscribers", len(subs)))

	return &fileStore{
		log:          log,
		now:          time.Now,
		snapshotPath: snapPath,
		auditFile:    af,
		subs:         subs,
	}, nil
}

func loadSnapshot(path string, out map[int64]*Subscriber) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []Subscriber
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for i := range list {
		s := list[i]
		out[s.ID] = &s
	}
	return nil
}

// persistLocked writes the snapshot. Call with s.mu held.
func (s *fileStore) persistLocked() error {
	list := make([]Subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		list = append(list, *sub)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.snapshotPath)
}

// mutate applies fn to a copy of the record and commits it only when both fn
// and the snapshot write succeed.
func (s *fileStore) mutateLocked(sub *Subscriber, fn func(*Subscriber)) (Subscriber, error) {
	prev := *sub
	fn(sub)
	sub.UpdatedAt = s.now().UTC()
	if err := s.persistLocked(); err != nil {
		*sub = prev
		return Subscriber{}, err
	}
	return *sub, nil
}

func (s *fileStore) open() error {
	if s.auditFile == nil {
		return ErrClosed
	}
	return nil
}

func (s *fileStore) EnsureSubscriber(ctx context.Context, id int64, username string) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return Subscriber{}, err
	}
	if sub, ok := s.subs[id]; ok {
		if username == "" || sub.Username == username {
			return *sub, nil
		}
		return s.mutateLocked(sub, func(x *Subscriber) { x.Username = username })
	}

	now := s.now().UTC()
	sub := &Subscriber{ID: id, Username: username, Status: StatusUnset, CreatedAt: now, UpdatedAt: now}
	s.subs[id] = sub
	if err := s.persistLocked(); err != nil {
		delete(s.subs, id)
		return Subscriber{}, err
	}
	return *sub, nil
}

func (s *fileStore) GetSubscriber(ctx context.Context, id int64) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return Subscriber{}, ErrNotFound
	}
	return *sub, nil
}

func (s *fileStore) SetLocation(ctx context.Context, id int64, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	_, err := s.mutateLocked(sub, func(x *Subscriber) { x.Location = location })
	return err
}

func (s *fileStore) IssueOrder(ctx context.Context, id int64, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	for other, o := range s.subs {
		if other != id && o.PendingOrder == orderID {
			return ErrOrderConflict
		}
	}
	_, err := s.mutateLocked(sub, func(x *Subscriber) {
		if x.PendingOrder != "" {
			x.RetiredOrder = x.PendingOrder
		}
		x.PendingOrder = orderID
	})
	return err
}

func (s *fileStore) ActivateOrder(ctx context.Context, orderID, expiryDate string) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	for _, sub := range s.subs {
		if sub.PendingOrder != orderID {
			continue
		}
		return s.mutateLocked(sub, func(x *Subscriber) {
			x.Status = StatusActive
			x.ExpiryDate = expiryDate
			x.RetiredOrder = x.PendingOrder
			x.PendingOrder = ""
		})
	}
	return Subscriber{}, ErrNotFound
}

func (s *fileStore) FindByRetiredOrder(ctx context.Context, orderID string) (Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	for _, sub := range s.subs {
		if sub.RetiredOrder == orderID {
			return *sub, nil
		}
	}
	return Subscriber{}, ErrNotFound
}

func (s *fileStore) ListActive(ctx context.Context) ([]Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Subscriber
	for _, sub := range s.subs {
		if sub.Status == StatusActive {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) ExpireDue(ctx context.Context, today string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	prev := map[int64]Status{}
	now := s.now().UTC()
	for id, sub := range s.subs {
		if sub.Status == StatusActive && sub.ExpiryDate != "" && sub.ExpiryDate <= today {
			prev[id] = sub.Status
			sub.Status = StatusExpired
			sub.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.persistLocked(); err != nil {
		for id, st := range prev {
			s.subs[id].Status = st
		}
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fileStore) Counts(ctx context.Context) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{Total: len(s.subs)}
	for _, sub := range s.subs {
		switch sub.Status {
		case StatusActive:
			c.Active++
		case StatusExpired:
			c.Expired++
		}
		if sub.PendingOrder != "" {
			c.Pending++
		}
	}
	return c, nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = s.now().UTC()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	_, err := os.Stat(filepath.Dir(s.snapshotPath))
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
