package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
)

type registerMediaRequest struct {
	ID              string `json:"id" validate:"omitempty,uuid"`
	StorageURL      string `json:"storageUrl" validate:"required"`
	LocationID      string `json:"locationId" validate:"required"`
	JobID           string `json:"jobId" validate:"required"`
	FileName        string `json:"fileName" validate:"required"`
	FileSize        int64  `json:"fileSize" validate:"gte=0"`
	MimeType        string `json:"mimeType" validate:"required"`
	DurationSeconds *int   `json:"durationSeconds" validate:"omitempty,gte=0"`
	Priority        int    `json:"priority" validate:"gte=0,lte=100"`
}

type enqueueRequest struct {
	MediaID  string `json:"mediaId" validate:"required"`
	Priority int    `json:"priority" validate:"gte=0,lte=100"`
}

type mediaResponse struct {
	*model.Media
	PlaybackURL string `json:"playbackUrl,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegisterMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerMediaRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	m := &model.Media{
		ID:              id,
		StorageURL:      req.StorageURL,
		LocationID:      req.LocationID,
		JobID:           req.JobID,
		FileName:        req.FileName,
		FileSize:        req.FileSize,
		MimeType:        req.MimeType,
		DurationSeconds: req.DurationSeconds,
		AIStatus:        model.AIStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.deps.Queue.Register(ctx, m, req.Priority); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.nudge(ctx)
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	m, err := s.deps.Media.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	resp := mediaResponse{Media: m}
	if s.deps.Presigner != nil {
		url, err := s.deps.Presigner.Presign(ctx, m.StorageURL, s.deps.PresignTTL)
		if err != nil {
			s.logg.Warn(s.logg.WithMediaID(ctx, m.ID), "presign playback url", err)
		} else {
			resp.PlaybackURL = url
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req enqueueRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if err := s.deps.Queue.Enqueue(ctx, req.MediaID, req.Priority); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	s.nudge(ctx)
	respondJSON(w, http.StatusAccepted, map[string]any{
		"mediaId": req.MediaID,
		"status":  "queued",
	})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := s.deps.Queue.RetryFailed(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if n > 0 {
		s.nudge(ctx)
	}
	respondJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := s.deps.Queue.Stats(ctx)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetTraining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, err := s.deps.Training.Get(ctx, chi.URLParam(r, "mediaId"))
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// nudge is best effort; the scheduler picks the row up on its next tick.
func (s *Server) nudge(ctx context.Context) {
	if s.deps.Nudge == nil {
		return
	}
	if err := s.deps.Nudge(ctx); err != nil {
		s.logg.Warn(ctx, "failed to nudge workers", err)
	}
}
