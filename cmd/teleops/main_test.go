package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUploadsLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	video := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(video, []byte("mp4"), 0o644))

	out, err := runCLI(t, "uploads", "add", video, "--location", "loc1", "--job", "job1", "--duration", "31", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "queued ")

	out, err = runCLI(t, "uploads", "pending", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))

	out, err = runCLI(t, "uploads", "list", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "clip.mp4")
	assert.Contains(t, out, "pending")

	out, err = runCLI(t, "uploads", "list", "--json", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, `"durationSeconds": 31`)

	out, err = runCLI(t, "uploads", "clear-completed", "--data-dir", dataDir)
	require.NoError(t, err)
	assert.Equal(t, "cleared 0", strings.TrimSpace(out))
}

func TestUploadsAddRequiresExistingFile(t *testing.T) {
	_, err := runCLI(t, "uploads", "add", "/does/not/exist.mp4", "--location", "l", "--job", "j", "--data-dir", t.TempDir())
	assert.Error(t, err)

	_, err = runCLI(t, "uploads", "add", "x.mp4", "--data-dir", t.TempDir())
	assert.Error(t, err)
}

func TestQueueCommandsNeedDatabase(t *testing.T) {
	t.Setenv("TELEOPS_DATABASE_URL", "")
	_, err := runCLI(t, "queue", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEOPS_DATABASE_URL")
}
