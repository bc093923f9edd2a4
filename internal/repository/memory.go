package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
)

// MemoryMediaStore is a threadsafe MediaStore for tests and local runs.
type MemoryMediaStore struct {
	mu    sync.RWMutex
	media map[string]*model.Media
}

func NewMemoryMediaStore() *MemoryMediaStore {
	return &MemoryMediaStore{media: make(map[string]*model.Media)}
}

func (s *MemoryMediaStore) Register(_ context.Context, m *model.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.media[m.ID]; ok {
		return apperr.Newf(apperr.KindValidation, "media %s already registered", m.ID)
	}
	m.AIStatus = model.AIStatusPending
	m.CreatedAt = time.Now().UTC()
	cp := *m
	s.media[m.ID] = &cp
	return nil
}

// Get returns a copy so callers cannot mutate the stored record.
func (s *MemoryMediaStore) Get(_ context.Context, id string) (*model.Media, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.media[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "media %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMediaStore) MarkAIProcessing(_ context.Context, id string) error {
	return s.update(id, func(m *model.Media) {
		m.AIStatus = model.AIStatusProcessing
	})
}

func (s *MemoryMediaStore) MarkAICompleted(_ context.Context, id string, annotations json.RawMessage) error {
	now := time.Now().UTC()
	stored := append(json.RawMessage(nil), annotations...)
	return s.update(id, func(m *model.Media) {
		m.AIStatus = model.AIStatusCompleted
		m.AIAnnotations = stored
		m.AIError = nil
		m.AIProcessedAt = &now
	})
}

func (s *MemoryMediaStore) MarkAIFailed(_ context.Context, id string, msg string) error {
	return s.update(id, func(m *model.Media) {
		m.AIStatus = model.AIStatusFailed
		m.AIError = &msg
	})
}

func (s *MemoryMediaStore) update(id string, fn func(*model.Media)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "media %s not found", id)
	}
	fn(m)
	return nil
}
