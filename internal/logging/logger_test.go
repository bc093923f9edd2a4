package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextFieldsAreEmitted(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{Service: "worker", Level: "debug", Output: &buf})

	ctx := logg.WithMediaID(context.Background(), "media-1")
	ctx = logg.WithFields(ctx, map[string]any{"attempt": 2})
	logg.Error(ctx, "annotation failed", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "worker", line["service"])
	assert.Equal(t, "media-1", line["media_id"])
	assert.Equal(t, float64(2), line["attempt"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "error", line["level"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logg := New(Options{Service: "api", Level: "warn", Output: &buf})

	logg.Info(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	logg.Warn(context.Background(), "shown", nil)
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}
