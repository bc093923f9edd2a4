// Package dbtest opens a migrated Postgres pool for integration tests. Tests
// are skipped unless TELEOPS_TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/config"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/database"
)

const envURL = "TELEOPS_TEST_DATABASE_URL"

// Pool returns a pool on an empty, migrated schema.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(envURL)
	if url == "" {
		t.Skipf("%s not set; skipping postgres test", envURL)
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, config.DBConfig{URL: url, MaxConns: 16})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := database.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE media, video_processing_queue, training_videos`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
