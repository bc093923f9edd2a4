// Package uploadqueue is the device-side durable queue of recorded videos
// waiting to be uploaded, and the worker that drains it.
package uploadqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// Item is one recorded video in the device queue.
type Item struct {
	ID              string    `json:"id"`
	VideoRef        string    `json:"videoRef"`
	LocationID      string    `json:"locationId"`
	JobID           string    `json:"jobId"`
	JobTitle        string    `json:"jobTitle,omitempty"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	Error           string    `json:"error,omitempty"`
	StorageURL      string    `json:"storageUrl,omitempty"`
	EnqueuedAt      time.Time `json:"enqueuedAt"`
}

// Drainable reports whether a drain should pick the item up.
func (i Item) Drainable() bool {
	return i.Status == StatusPending || i.Status == StatusError
}

// NewItem is what a recording hands to Add.
type NewItem struct {
	VideoRef   string
	LocationID string
	JobID      string
	JobTitle   string
	// DurationSeconds is the recording length when the recorder knows it.
	DurationSeconds *int
}

// Store persists the queue in insertion order.
type Store interface {
	Add(ctx context.Context, in NewItem) (Item, error)
	List(ctx context.Context) ([]Item, error)
	Get(ctx context.Context, id string) (Item, error)
	Save(ctx context.Context, item Item) error
	PendingCount(ctx context.Context) (int, error)
	ClearCompleted(ctx context.Context) (int, error)
}

const DBFile = "uploads.db"

const schema = `
CREATE TABLE IF NOT EXISTS upload_items (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	video_ref   TEXT NOT NULL,
	location_id TEXT NOT NULL,
	job_id      TEXT NOT NULL,
	job_title   TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER,
	status      TEXT NOT NULL,
	progress    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	storage_url TEXT NOT NULL DEFAULT '',
	enqueued_at TEXT NOT NULL
)`

// SQLiteStore keeps the queue in <dataDir>/uploads.db.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.Mutex
	lastID int64
}

// Open opens (or creates) the queue database in dataDir.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// "database is locked" between writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating upload_items table: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock overrides the time source for ids and enqueue timestamps.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// DB exposes the handle so the drain lease can live in the same file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nextID derives an id from the clock, bumped past the previous one when two
// items arrive within the same nanosecond.
func (s *SQLiteStore) nextID(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := at.UnixNano()
	if n <= s.lastID {
		n = s.lastID + 1
	}
	s.lastID = n
	return strconv.FormatInt(n, 10)
}

func (s *SQLiteStore) Add(ctx context.Context, in NewItem) (Item, error) {
	if in.VideoRef == "" {
		return Item{}, apperr.New(apperr.KindValidation, "video reference is required")
	}
	if in.LocationID == "" || in.JobID == "" {
		return Item{}, apperr.New(apperr.KindValidation, "location and job ids are required")
	}
	if in.DurationSeconds != nil && *in.DurationSeconds < 0 {
		return Item{}, apperr.New(apperr.KindValidation, "duration cannot be negative")
	}
	now := s.now().UTC()
	item := Item{
		ID:         s.nextID(now),
		VideoRef:   in.VideoRef,
		LocationID: in.LocationID,
		JobID:      in.JobID,
		JobTitle:   in.JobTitle,
		Status:     StatusPending,
		EnqueuedAt: now,
	}
	if in.DurationSeconds != nil {
		d := *in.DurationSeconds
		item.DurationSeconds = &d
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_items (id, video_ref, location_id, job_id, job_title, duration_seconds, status, progress, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		item.ID, item.VideoRef, item.LocationID, item.JobID, item.JobTitle, item.DurationSeconds,
		string(item.Status), item.EnqueuedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindPersistence, err, "insert upload item")
	}
	return item, nil
}

const selectItem = `SELECT id, video_ref, location_id, job_id, job_title, duration_seconds, status, progress, error, storage_url, enqueued_at FROM upload_items`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item       Item
		status     string
		duration   sql.NullInt64
		enqueuedAt string
	)
	if err := row.Scan(&item.ID, &item.VideoRef, &item.LocationID, &item.JobID, &item.JobTitle,
		&duration, &status, &item.Progress, &item.Error, &item.StorageURL, &enqueuedAt); err != nil {
		return Item{}, err
	}
	item.Status = Status(status)
	if duration.Valid {
		d := int(duration.Int64)
		item.DurationSeconds = &d
	}
	t, err := time.Parse(time.RFC3339Nano, enqueuedAt)
	if err != nil {
		return Item{}, fmt.Errorf("parse enqueued_at for %s: %w", item.ID, err)
	}
	item.EnqueuedAt = t
	return item, nil
}

// List returns every item in insertion order.
func (s *SQLiteStore) List(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, selectItem+` ORDER BY seq ASC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "list upload items")
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, err, "scan upload item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "iterate upload items")
	}
	return items, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, selectItem+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, apperr.Newf(apperr.KindNotFound, "upload item %s not found", id)
	}
	if err != nil {
		return Item{}, apperr.Wrap(apperr.KindPersistence, err, "get upload item")
	}
	return item, nil
}

// Save writes the mutable fields of an existing item.
func (s *SQLiteStore) Save(ctx context.Context, item Item) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE upload_items
		SET status = ?, progress = ?, error = ?, storage_url = ?
		WHERE id = ?`,
		string(item.Status), item.Progress, item.Error, item.StorageURL, item.ID,
	)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "save upload item")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "save upload item")
	}
	if n == 0 {
		return apperr.Newf(apperr.KindNotFound, "upload item %s not found", item.ID)
	}
	return nil
}

// PendingCount counts items a drain would still attempt.
func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM upload_items WHERE status IN (?, ?)`,
		string(StatusPending), string(StatusError),
	).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, err, "count pending uploads")
	}
	return n, nil
}

// ClearCompleted removes successfully uploaded items.
func (s *SQLiteStore) ClearCompleted(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM upload_items WHERE status = ?`, string(StatusSuccess))
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, err, "clear completed uploads")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, err, "clear completed uploads")
	}
	return int(n), nil
}
