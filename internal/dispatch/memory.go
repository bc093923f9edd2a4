package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

// MemoryStore implements Store in process memory. It backs tests and the
// single-binary local mode; the mutex plays the role of the row lock.
type MemoryStore struct {
	mu          sync.Mutex
	rows        map[string]*memoryRow
	seq         int64
	maxAttempts int
	now         func() time.Time
}

type memoryRow struct {
	Row
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:        make(map[string]*memoryRow),
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
	}
}

// WithMaxAttempts sets max attempts for rows inserted afterwards.
func (m *MemoryStore) WithMaxAttempts(n int) *MemoryStore {
	if n > 0 {
		m.maxAttempts = n
	}
	return m
}

func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Enqueue(_ context.Context, mediaID string, priority int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	now := m.now().UTC()
	if r, ok := m.rows[mediaID]; ok {
		r.Status = StatusQueued
		r.Priority = max(r.Priority, priority)
		r.Attempts = 0
		r.LastError = nil
		r.StartedAt = nil
		r.CompletedAt = nil
		r.QueuedAt = now
		r.seq = m.seq
		return nil
	}
	m.rows[mediaID] = &memoryRow{
		Row: Row{
			ID:          uuid.NewString(),
			MediaID:     mediaID,
			Status:      StatusQueued,
			Priority:    priority,
			MaxAttempts: m.maxAttempts,
			QueuedAt:    now,
		},
		seq: m.seq,
	}
	return nil
}

func (m *MemoryStore) ClaimNext(_ context.Context) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var eligible []*memoryRow
	for _, r := range m.rows {
		if r.Status == StatusQueued && r.Attempts < r.MaxAttempts {
			eligible = append(eligible, r)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.QueuedAt.Equal(b.QueuedAt) {
			return a.QueuedAt.Before(b.QueuedAt)
		}
		return a.seq < b.seq
	})
	r := eligible[0]
	now := m.now().UTC()
	r.Status = StatusProcessing
	r.StartedAt = &now
	r.Attempts++
	return &Claim{ID: r.ID, MediaID: r.MediaID, Attempts: r.Attempts, MaxAttempts: r.MaxAttempts}, nil
}

func (m *MemoryStore) Complete(_ context.Context, mediaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[mediaID]
	if !ok {
		return notFound("complete queue row", mediaID)
	}
	now := m.now().UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &now
	return nil
}

func (m *MemoryStore) Fail(_ context.Context, mediaID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[mediaID]
	if !ok {
		return notFound("fail queue row", mediaID)
	}
	r.Status = StatusFailed
	r.LastError = &message
	return nil
}

func (m *MemoryStore) Requeue(_ context.Context, mediaID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[mediaID]
	if !ok || r.Status != StatusProcessing {
		return notFound("requeue queue row", mediaID)
	}
	m.seq++
	r.Status = StatusQueued
	r.LastError = &message
	r.StartedAt = nil
	r.QueuedAt = m.now().UTC()
	r.seq = m.seq
	return nil
}

func (m *MemoryStore) RetryFailed(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now().UTC()
	for _, r := range m.rows {
		if r.Status != StatusFailed {
			continue
		}
		m.seq++
		r.Status = StatusQueued
		r.Attempts = 0
		r.LastError = nil
		r.StartedAt = nil
		r.QueuedAt = now
		r.seq = m.seq
		n++
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s Stats
	for _, r := range m.rows {
		s.add(r.Status, 1)
	}
	return s, nil
}

func (m *MemoryStore) Get(_ context.Context, mediaID string) (*Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[mediaID]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "queue row for media %s not found", mediaID)
	}
	cp := r.Row
	return &cp, nil
}

func notFound(op, mediaID string) error {
	return apperr.Newf(apperr.KindNotFound, "%s: no row for media %s", op, mediaID)
}
