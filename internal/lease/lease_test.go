package lease

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSQLiteLeaseIsExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	first, err := NewSQLiteLease(ctx, db, "drain", time.Minute)
	require.NoError(t, err)
	first.WithClock(clock.Now)
	second, err := NewSQLiteLease(ctx, db, "drain", time.Minute)
	require.NoError(t, err)
	second.WithClock(clock.Now)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := second.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// A non-owner release must not drop someone else's lease.
	require.NoError(t, second.Release(ctx))
	held, err = first.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteLeaseExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	crashed, err := NewSQLiteLease(ctx, db, "drain", 5*time.Minute)
	require.NoError(t, err)
	crashed.WithClock(clock.Now)
	ok, err := crashed.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	next, err := NewSQLiteLease(ctx, db, "drain", 5*time.Minute)
	require.NoError(t, err)
	next.WithClock(clock.Now)

	clock.Advance(4 * time.Minute)
	ok, err = next.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(time.Minute)
	ok, err = next.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The stale holder's release is a no-op now.
	require.NoError(t, crashed.Release(ctx))
	held, err := next.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestNewSQLiteLeaseValidation(t *testing.T) {
	_, err := NewSQLiteLease(context.Background(), nil, "x", 0)
	assert.Error(t, err)
	_, err = NewSQLiteLease(context.Background(), openTestDB(t), "", 0)
	assert.Error(t, err)
}

type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestRedisLease(t *testing.T) {
	ctx := context.Background()
	store := &memoryRedis{data: map[string]string{}}

	a, err := NewRedisLease(store, "teleops:scheduler", time.Minute)
	require.NoError(t, err)
	b, err := NewRedisLease(store, "teleops:scheduler", time.Minute)
	require.NoError(t, err)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx))
	assert.Len(t, store.data, 1)

	require.NoError(t, a.Release(ctx))
	assert.Empty(t, store.data)

	_, err = NewRedisLease(nil, "k", 0)
	assert.Error(t, err)
}
