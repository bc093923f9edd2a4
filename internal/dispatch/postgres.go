package dispatch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

// PostgresStore keeps the queue in video_processing_queue. ClaimNext relies
// on FOR UPDATE SKIP LOCKED so concurrent workers never pick the same row.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, maxAttempts: DefaultMaxAttempts}
}

// WithMaxAttempts sets max attempts for rows inserted afterwards.
func (s *PostgresStore) WithMaxAttempts(n int) *PostgresStore {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

func (s *PostgresStore) Enqueue(ctx context.Context, mediaID string, priority int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_processing_queue (id, media_id, status, priority, attempts, max_attempts, queued_at)
		VALUES ($1, $2, 'queued', $3, 0, $4, now())
		ON CONFLICT (media_id) DO UPDATE SET
			status = 'queued',
			priority = GREATEST(video_processing_queue.priority, EXCLUDED.priority),
			attempts = 0,
			last_error = NULL,
			started_at = NULL,
			completed_at = NULL,
			queued_at = now()
	`, uuid.NewString(), mediaID, priority, s.maxAttempts)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "enqueue media")
	}
	return nil
}

func (s *PostgresStore) ClaimNext(ctx context.Context) (*Claim, error) {
	var c Claim
	err := s.pool.QueryRow(ctx, `
		UPDATE video_processing_queue
		SET status = 'processing',
			started_at = now(),
			attempts = attempts + 1
		WHERE id = (
			SELECT id FROM video_processing_queue
			WHERE status = 'queued' AND attempts < max_attempts
			ORDER BY priority DESC, queued_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, media_id, attempts, max_attempts
	`).Scan(&c.ID, &c.MediaID, &c.Attempts, &c.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "claim next queue row")
	}
	return &c, nil
}

func (s *PostgresStore) Complete(ctx context.Context, mediaID string) error {
	return s.update(ctx, "complete queue row", `
		UPDATE video_processing_queue
		SET status = 'completed', completed_at = now()
		WHERE media_id = $1
	`, mediaID)
}

func (s *PostgresStore) Fail(ctx context.Context, mediaID, message string) error {
	return s.update(ctx, "fail queue row", `
		UPDATE video_processing_queue
		SET status = 'failed', last_error = $2
		WHERE media_id = $1
	`, mediaID, message)
}

func (s *PostgresStore) Requeue(ctx context.Context, mediaID, message string) error {
	return s.update(ctx, "requeue queue row", `
		UPDATE video_processing_queue
		SET status = 'queued', last_error = $2, started_at = NULL, queued_at = now()
		WHERE media_id = $1 AND status = 'processing'
	`, mediaID, message)
}

func (s *PostgresStore) update(ctx context.Context, op, stmt string, args ...any) error {
	tag, err := s.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, op)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "%s: no row for media %v", op, args[0])
	}
	return nil
}

func (s *PostgresStore) RetryFailed(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE video_processing_queue
		SET status = 'queued', attempts = 0, last_error = NULL, started_at = NULL, queued_at = now()
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, err, "retry failed rows")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*)::int FROM video_processing_queue GROUP BY status`)
	if err != nil {
		return stats, apperr.Wrap(apperr.KindPersistence, err, "queue stats")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, apperr.Wrap(apperr.KindPersistence, err, "scan queue stats")
		}
		stats.add(Status(status), count)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, apperr.Wrap(apperr.KindPersistence, err, "queue stats")
	}
	return stats, nil
}

func (s *PostgresStore) Get(ctx context.Context, mediaID string) (*Row, error) {
	var r Row
	err := s.pool.QueryRow(ctx, `
		SELECT id, media_id, status, priority, attempts, max_attempts, last_error, queued_at, started_at, completed_at
		FROM video_processing_queue WHERE media_id = $1
	`, mediaID).Scan(&r.ID, &r.MediaID, &r.Status, &r.Priority, &r.Attempts, &r.MaxAttempts,
		&r.LastError, &r.QueuedAt, &r.StartedAt, &r.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "queue row for media %s not found", mediaID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, err, "select queue row")
	}
	return &r, nil
}
