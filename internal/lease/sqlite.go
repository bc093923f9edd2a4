package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const leaseSchema = `
CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at INTEGER NOT NULL
)`

// SQLiteLease persists the lease in a row so it survives process restarts.
// Acquisition is a single conditional upsert: the row is taken over only when
// the previous holder's expiry has passed.
type SQLiteLease struct {
	db    *sql.DB
	name  string
	ttl   time.Duration
	now   func() time.Time
	owner string
}

// NewSQLiteLease creates the lease table if needed.
func NewSQLiteLease(ctx context.Context, db *sql.DB, name string, ttl time.Duration) (*SQLiteLease, error) {
	if db == nil {
		return nil, errors.New("db required for lease")
	}
	if name == "" {
		return nil, errors.New("lease name is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if _, err := db.ExecContext(ctx, leaseSchema); err != nil {
		return nil, fmt.Errorf("ensure lease schema: %w", err)
	}
	return &SQLiteLease{db: db, name: name, ttl: ttl, now: time.Now}, nil
}

// WithClock swaps the time source. Tests use it to age a lease.
func (l *SQLiteLease) WithClock(now func() time.Time) *SQLiteLease {
	l.now = now
	return l
}

func (l *SQLiteLease) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	now := l.now().UTC()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.expires_at <= ?
	`, l.name, owner, now.Add(l.ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	if n != 1 {
		return false, nil
	}
	l.owner = owner
	return true, nil
}

// Release deletes the row only while this holder still owns it.
func (l *SQLiteLease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, l.name, l.owner); err != nil {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	l.owner = ""
	return nil
}

// Held reports whether an unexpired lease row exists, whoever owns it.
func (l *SQLiteLease) Held(ctx context.Context) (bool, error) {
	var expiresAt int64
	err := l.db.QueryRowContext(ctx, `SELECT expires_at FROM leases WHERE name = ?`, l.name).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease %s: %w", l.name, err)
	}
	return expiresAt > l.now().UTC().UnixNano(), nil
}
