package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
)

// MediaStore is the slice of the media table the pipeline and API touch.
// The Mark* methods only write ai_* columns.
type MediaStore interface {
	Register(ctx context.Context, m *model.Media) error
	Get(ctx context.Context, id string) (*model.Media, error)
	MarkAIProcessing(ctx context.Context, id string) error
	MarkAICompleted(ctx context.Context, id string, annotations json.RawMessage) error
	MarkAIFailed(ctx context.Context, id string, msg string) error
}

// MediaRepository wraps all media SQL used by the API and worker.
type MediaRepository struct {
	pool *pgxpool.Pool
}

func NewMediaRepository(pool *pgxpool.Pool) *MediaRepository {
	return &MediaRepository{pool: pool}
}

// Register inserts a media row with ai_status pending. Registering the same
// id twice is a validation error.
func (r *MediaRepository) Register(ctx context.Context, m *model.Media) error {
	m.AIStatus = model.AIStatusPending
	m.CreatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO media (id, storage_url, location_id, job_id, file_name, file_size, mime_type, duration_seconds, ai_status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.StorageURL, m.LocationID, m.JobID, m.FileName, m.FileSize, m.MimeType, m.DurationSeconds, m.AIStatus, m.CreatedAt)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "insert media")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindValidation, "media %s already registered", m.ID)
	}
	return nil
}

func (r *MediaRepository) Get(ctx context.Context, id string) (*model.Media, error) {
	var (
		m           model.Media
		locationID  *string
		jobID       *string
		fileName    *string
		fileSize    *int64
		mimeType    *string
		annotations []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, storage_url, location_id, job_id, file_name, file_size, mime_type, duration_seconds,
			ai_status, ai_annotations, ai_error, ai_processed_at, created_at
		FROM media WHERE id=$1
	`, id).Scan(&m.ID, &m.StorageURL, &locationID, &jobID, &fileName, &fileSize, &mimeType, &m.DurationSeconds,
		&m.AIStatus, &annotations, &m.AIError, &m.AIProcessedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "media %s not found", id)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, err, "select media")
	}
	m.LocationID = deref(locationID)
	m.JobID = deref(jobID)
	m.FileName = deref(fileName)
	m.MimeType = deref(mimeType)
	if fileSize != nil {
		m.FileSize = *fileSize
	}
	if len(annotations) > 0 {
		m.AIAnnotations = json.RawMessage(annotations)
	}
	return &m, nil
}

func (r *MediaRepository) MarkAIProcessing(ctx context.Context, id string) error {
	return r.update(ctx, id, `UPDATE media SET ai_status='processing' WHERE id=$1`, id)
}

func (r *MediaRepository) MarkAICompleted(ctx context.Context, id string, annotations json.RawMessage) error {
	return r.update(ctx, id, `
		UPDATE media
		SET ai_status='completed', ai_annotations=$2::jsonb, ai_error=NULL, ai_processed_at=now()
		WHERE id=$1
	`, id, string(annotations))
}

func (r *MediaRepository) MarkAIFailed(ctx context.Context, id string, msg string) error {
	return r.update(ctx, id, `UPDATE media SET ai_status='failed', ai_error=$2 WHERE id=$1`, id, msg)
}

func (r *MediaRepository) update(ctx context.Context, id, stmt string, args ...any) error {
	tag, err := r.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return apperr.Wrap(apperr.KindPersistence, err, "update media")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.KindNotFound, "media %s not found", id)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
