package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"adhanbot/pkg/logx"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

const subscriberColumns = `id, username, location, status, expiry_date, pending_order, retired_order, created_at, updated_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; every statement below is a single-row or single-UPDATE unit.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) stamp() string { return s.now().UTC().Format(time.RFC3339Nano) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSubscriber(r rowScanner) (Subscriber, error) {
	var (
		sub                                          Subscriber
		username, location, expiry, pending, retired sql.NullString
		status, created, updated                     string
	)
	if err := r.Scan(&sub.ID, &username, &location, &status, &expiry, &pending, &retired, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscriber{}, ErrNotFound
		}
		return Subscriber{}, err
	}
	sub.Username = username.String
	sub.Location = location.String
	sub.Status = Status(status)
	sub.ExpiryDate = expiry.String
	sub.PendingOrder = pending.String
	sub.RetiredOrder = retired.String
	sub.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return sub, nil
}

func (s *sqliteStore) EnsureSubscriber(ctx context.Context, id int64, username string) (Subscriber, error) {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers(id, username, status, created_at, updated_at) VALUES(?, ?, 'unset', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = COALESCE(excluded.username, subscribers.username),
		   updated_at = CASE WHEN excluded.username IS NOT NULL AND excluded.username IS NOT subscribers.username
		                     THEN excluded.updated_at ELSE subscribers.updated_at END`,
		id, nullStr(username), now, now,
	)
	if err != nil {
		return Subscriber{}, err
	}
	return s.GetSubscriber(ctx, id)
}

func (s *sqliteStore) GetSubscriber(ctx context.Context, id int64) (Subscriber, error) {
	return scanSQLiteSubscriber(s.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = ?`, id))
}

func (s *sqliteStore) SetLocation(ctx context.Context, id int64, location string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE subscribers SET location = ?, updated_at = ? WHERE id = ?`, nullStr(location), s.stamp(), id)
	return affectedOne(res, err)
}

func (s *sqliteStore) IssueOrder(ctx context.Context, id int64, orderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscribers SET retired_order = COALESCE(pending_order, retired_order), pending_order = ?, updated_at = ? WHERE id = ?`,
		orderID, s.stamp(), id,
	)
	if isSQLiteUnique(err) {
		return ErrOrderConflict
	}
	return affectedOne(res, err)
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func (s *sqliteStore) ActivateOrder(ctx context.Context, orderID, expiryDate string) (Subscriber, error) {
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	return scanSQLiteSubscriber(s.db.QueryRowContext(ctx,
		`UPDATE subscribers
		 SET status = 'active', expiry_date = ?, retired_order = pending_order, pending_order = NULL, updated_at = ?
		 WHERE pending_order = ?
		 RETURNING `+subscriberColumns,
		expiryDate, s.stamp(), orderID,
	))
}

func (s *sqliteStore) FindByRetiredOrder(ctx context.Context, orderID string) (Subscriber, error) {
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	return scanSQLiteSubscriber(s.db.QueryRowContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE retired_order = ? LIMIT 1`, orderID))
}

func (s *sqliteStore) ListActive(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		sub, err := scanSQLiteSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ExpireDue(ctx context.Context, today string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE subscribers SET status = 'expired', updated_at = ?
		 WHERE status = 'active' AND expiry_date IS NOT NULL AND expiry_date <= ?
		 RETURNING id`,
		s.stamp(), today,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'expired' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN pending_order IS NOT NULL THEN 1 ELSE 0 END), 0)
		 FROM subscribers`,
	).Scan(&c.Total, &c.Active, &c.Expired, &c.Pending)
	return c, err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, subject_id, action, target, ok, err, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, e.SubjectID, e.Action, nullStr(e.Target), ok, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
