package training

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

// Store persists entries keyed by SourceMediaID.
type Store interface {
	// Upsert inserts or overwrites the entry for e.SourceMediaID. On return
	// e.ID, e.CreatedAt and e.UpdatedAt reflect the stored row; the ID of an
	// existing row is kept.
	Upsert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, sourceMediaID string) (*Entry, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Upsert(ctx context.Context, e *Entry) error {
	e.normalize()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO training_videos (
			id, source_media_id, video_url, room_type, action_types, object_labels,
			technique_tags, duration_seconds, quality_score, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now(), now())
		ON CONFLICT (source_media_id) DO UPDATE SET
			video_url = EXCLUDED.video_url,
			room_type = EXCLUDED.room_type,
			action_types = EXCLUDED.action_types,
			object_labels = EXCLUDED.object_labels,
			technique_tags = EXCLUDED.technique_tags,
			duration_seconds = EXCLUDED.duration_seconds,
			quality_score = EXCLUDED.quality_score,
			updated_at = now()
		RETURNING id, created_at, updated_at
	`, uuid.NewString(), e.SourceMediaID, e.VideoURL, e.RoomType, e.ActionTypes, e.ObjectLabels,
		e.TechniqueTags, e.DurationSeconds, e.QualityScore).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "upsert training entry")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sourceMediaID string) (*Entry, error) {
	var e Entry
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_media_id, video_url, room_type, action_types, object_labels,
			technique_tags, duration_seconds, quality_score, created_at, updated_at
		FROM training_videos WHERE source_media_id = $1
	`, sourceMediaID).Scan(&e.ID, &e.SourceMediaID, &e.VideoURL, &e.RoomType, &e.ActionTypes, &e.ObjectLabels,
		&e.TechniqueTags, &e.DurationSeconds, &e.QualityScore, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "training entry for media %s not found", sourceMediaID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "select training entry")
	}
	return &e, nil
}

// Count returns the number of stored entries.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*)::int FROM training_videos`).Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, err, "count training entries")
	}
	return n, nil
}

// MemoryStore is a threadsafe Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry), now: time.Now}
}

func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Upsert(_ context.Context, e *Entry) error {
	e.normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if existing, ok := s.entries[e.SourceMediaID]; ok {
		e.ID = existing.ID
		e.CreatedAt = existing.CreatedAt
	} else {
		e.ID = uuid.NewString()
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.entries[e.SourceMediaID] = clone(*e)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sourceMediaID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sourceMediaID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "training entry for media %s not found", sourceMediaID)
	}
	cp := clone(e)
	return &cp, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func clone(e Entry) Entry {
	e.ActionTypes = append([]string{}, e.ActionTypes...)
	e.ObjectLabels = append([]string{}, e.ObjectLabels...)
	e.TechniqueTags = append([]string{}, e.TechniqueTags...)
	return e
}
