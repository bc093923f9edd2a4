package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/database/dbtest"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
)

func stores() map[string]func(t *testing.T) MediaStore {
	return map[string]func(t *testing.T) MediaStore{
		"memory":   func(*testing.T) MediaStore { return NewMemoryMediaStore() },
		"postgres": func(t *testing.T) MediaStore { return NewMediaRepository(dbtest.Pool(t)) },
	}
}

func TestMediaLifecycle(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)
			duration := 12

			require.NoError(t, s.Register(ctx, &model.Media{
				ID:              "m1",
				StorageURL:      "s3://teleops-videos/loc/job/video-1.mp4",
				LocationID:      "loc",
				JobID:           "job",
				FileName:        "video-1.mp4",
				FileSize:        1024,
				MimeType:        "video/mp4",
				DurationSeconds: &duration,
			}))
			err := s.Register(ctx, &model.Media{ID: "m1", StorageURL: "x"})
			assert.True(t, apperr.Is(err, apperr.KindValidation))

			m, err := s.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, model.AIStatusPending, m.AIStatus)
			assert.Equal(t, "loc", m.LocationID)
			require.NotNil(t, m.DurationSeconds)
			assert.Equal(t, 12, *m.DurationSeconds)

			require.NoError(t, s.MarkAIProcessing(ctx, "m1"))
			require.NoError(t, s.MarkAIFailed(ctx, "m1", "quota exceeded"))
			m, err = s.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, model.AIStatusFailed, m.AIStatus)
			require.NotNil(t, m.AIError)
			assert.Equal(t, "quota exceeded", *m.AIError)

			require.NoError(t, s.MarkAICompleted(ctx, "m1", json.RawMessage(`{"labels":[]}`)))
			m, err = s.Get(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, model.AIStatusCompleted, m.AIStatus)
			assert.Nil(t, m.AIError)
			assert.NotNil(t, m.AIProcessedAt)
			assert.JSONEq(t, `{"labels":[]}`, string(m.AIAnnotations))
			assert.Equal(t, "s3://teleops-videos/loc/job/video-1.mp4", m.StorageURL)

			_, err = s.Get(ctx, "missing")
			assert.True(t, apperr.Is(err, apperr.KindNotFound))
			assert.True(t, apperr.Is(s.MarkAIProcessing(ctx, "missing"), apperr.KindNotFound))
		})
	}
}
