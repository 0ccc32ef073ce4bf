package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"adhanbot/pkg/logx"
)

// SQLSTATE unique_violation
const uniqueViolation = "23505"

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
	now  func() time.Time
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	st := &postgresStore{pool: pool, log: log, now: time.Now}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened", logx.Int("max_conns", int(poolCfg.MaxConns)))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func scanPostgresSubscriber(r pgx.Row) (Subscriber, error) {
	var (
		sub                                          Subscriber
		username, location, expiry, pending, retired *string
		status                                       string
	)
	err := r.Scan(&sub.ID, &username, &location, &status, &expiry, &pending, &retired, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Subscriber{}, ErrNotFound
	}
	if err != nil {
		return Subscriber{}, err
	}
	sub.Username = deref(username)
	sub.Location = deref(location)
	sub.Status = Status(status)
	sub.ExpiryDate = deref(expiry)
	sub.PendingOrder = deref(pending)
	sub.RetiredOrder = deref(retired)
	return sub, nil
}

func (s *postgresStore) EnsureSubscriber(ctx context.Context, id int64, username string) (Subscriber, error) {
	now := s.now().UTC()
	return scanPostgresSubscriber(s.pool.QueryRow(ctx,
		`INSERT INTO subscribers(id, username, status, created_at, updated_at) VALUES($1, $2, 'unset', $3, $3)
		 ON CONFLICT(id) DO UPDATE SET
		   username = COALESCE(EXCLUDED.username, subscribers.username),
		   updated_at = CASE WHEN EXCLUDED.username IS DISTINCT FROM subscribers.username AND EXCLUDED.username IS NOT NULL
		                     THEN EXCLUDED.updated_at ELSE subscribers.updated_at END
		 RETURNING `+subscriberColumns,
		id, nullStr(username), now,
	))
}

func (s *postgresStore) GetSubscriber(ctx context.Context, id int64) (Subscriber, error) {
	return scanPostgresSubscriber(s.pool.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id))
}

func (s *postgresStore) SetLocation(ctx context.Context, id int64, location string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE subscribers SET location = $1, updated_at = $2 WHERE id = $3`, nullStr(location), s.now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) IssueOrder(ctx context.Context, id int64, orderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscribers SET retired_order = COALESCE(pending_order, retired_order), pending_order = $1, updated_at = $2 WHERE id = $3`,
		orderID, s.now().UTC(), id,
	)
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrOrderConflict
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *postgresStore) ActivateOrder(ctx context.Context, orderID, expiryDate string) (Subscriber, error) {
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	return scanPostgresSubscriber(s.pool.QueryRow(ctx,
		`UPDATE subscribers
		 SET status = 'active', expiry_date = $1, retired_order = pending_order, pending_order = NULL, updated_at = $2
		 WHERE pending_order = $3
		 RETURNING `+subscriberColumns,
		expiryDate, s.now().UTC(), orderID,
	))
}

func (s *postgresStore) FindByRetiredOrder(ctx context.Context, orderID string) (Subscriber, error) {
	if orderID == "" {
		return Subscriber{}, ErrNotFound
	}
	return scanPostgresSubscriber(s.pool.QueryRow(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE retired_order = $1 LIMIT 1`, orderID))
}

func (s *postgresStore) ListActive(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subscriberColumns+` FROM subscribers WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		sub, err := scanPostgresSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *postgresStore) ExpireDue(ctx context.Context, today string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE subscribers SET status = 'expired', updated_at = $1
		 WHERE status = 'active' AND expiry_date IS NOT NULL AND expiry_date <= $2
		 RETURNING id`,
		s.now().UTC(), today,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (s *postgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'active'),
		        COUNT(*) FILTER (WHERE status = 'expired'),
		        COUNT(*) FILTER (WHERE pending_order IS NOT NULL)
		 FROM subscribers`,
	).Scan(&c.Total, &c.Active, &c.Expired, &c.Pending)
	return c, err
}

func (s *postgresStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(at, actor_id, subject_id, action, target, ok, err, meta) VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.At.UTC(), e.ActorID, e.SubjectID, e.Action, nullStr(e.Target), e.OK, nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *postgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
