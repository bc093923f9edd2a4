package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/training"
)

// scriptedAnnotator returns a canned result per URL.
type scriptedAnnotator struct {
	mu      sync.Mutex
	results map[string]annotation.Result
	calls   map[string]int
}

func newScriptedAnnotator() *scriptedAnnotator {
	return &scriptedAnnotator{results: map[string]annotation.Result{}, calls: map[string]int{}}
}

func (s *scriptedAnnotator) Annotate(_ context.Context, url string, _ []annotation.Feature) annotation.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[url]++
	if res, ok := s.results[url]; ok {
		return res
	}
	return annotation.Result{Success: true, Annotations: &annotation.Annotations{
		Labels:  []annotation.Label{{Description: "Kitchen", Confidence: 0.9}},
		Objects: []annotation.Object{{Description: "Stove"}},
		Shots:   []annotation.Segment{{EndTime: 7.2}},
	}}
}

type fixture struct {
	pipeline  *Pipeline
	queue     *dispatch.MemoryStore
	media     *repository.MemoryMediaStore
	entries   *training.MemoryStore
	annotator *scriptedAnnotator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		queue:     dispatch.NewMemoryStore(),
		media:     repository.NewMemoryMediaStore(),
		entries:   training.NewMemoryStore(),
		annotator: newScriptedAnnotator(),
	}
	p, err := New(Params{
		Queue:     f.queue,
		Media:     f.media,
		Annotator: f.annotator,
		Deriver:   training.NewDeriver(f.entries, nil, nil, nil),
	})
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func (f *fixture) register(t *testing.T, id string, priority int) {
	t.Helper()
	require.NoError(t, f.pipeline.Register(context.Background(), &model.Media{
		ID:         id,
		StorageURL: "s3://teleops-videos/" + id + ".mp4",
	}, priority))
}

func TestProcessNextHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "m1", 0)

	out, err := f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, out.Processed)
	assert.Equal(t, "m1", out.MediaID)
	assert.Equal(t, dispatch.StatusCompleted, out.Status)
	assert.NoError(t, out.Err)

	m, err := f.media.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.AIStatusCompleted, m.AIStatus)
	var stored annotation.Annotations
	require.NoError(t, json.Unmarshal(m.AIAnnotations, &stored))
	assert.Equal(t, "Kitchen", stored.Labels[0].Description)

	entry, err := f.entries.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "kitchen", *entry.RoomType)
	assert.Equal(t, int64(8), *entry.DurationSeconds)

	stats, err := f.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.Stats{Completed: 1}, stats)
}

func TestProcessNextOnEmptyQueue(t *testing.T) {
	out, err := newFixture(t).pipeline.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Processed)
}

func TestOversizedVideoFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "big", 0)
	f.annotator.results["s3://teleops-videos/big.mp4"] = annotation.Result{
		Err: apperr.New(apperr.KindPayloadTooLarge, "video too large for inline processing (25MB > 20MB limit)"),
	}

	out, err := f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFailed, out.Status)
	assert.Equal(t, apperr.KindPayloadTooLarge, apperr.KindOf(out.Err))

	row, err := f.queue.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFailed, row.Status)
	assert.Equal(t, 1, row.Attempts)
	assert.Contains(t, *row.LastError, "too large")

	m, err := f.media.Get(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, model.AIStatusFailed, m.AIStatus)
	assert.Contains(t, *m.AIError, "too large")
}

func TestRetryableFailureIsRequeuedUntilAttemptsRunOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "flaky", 0)
	url := "s3://teleops-videos/flaky.mp4"
	f.annotator.results[url] = annotation.Result{Err: apperr.New(apperr.KindAnnotationService, "deadline exceeded")}

	for attempt := 1; attempt < dispatch.DefaultMaxAttempts; attempt++ {
		out, err := f.pipeline.ProcessNext(ctx)
		require.NoError(t, err)
		assert.Equal(t, dispatch.StatusQueued, out.Status, "attempt %d", attempt)
	}
	out, err := f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFailed, out.Status)
	assert.Equal(t, dispatch.DefaultMaxAttempts, f.annotator.calls[url])

	out, err = f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, out.Processed)

	delete(f.annotator.results, url)
	n, err := f.pipeline.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err = f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCompleted, out.Status)
}

func TestMissingMediaRecordFailsRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.queue.Enqueue(ctx, "ghost", 0))

	out, err := f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusFailed, out.Status)
	assert.True(t, apperr.Is(out.Err, apperr.KindNotFound))
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "a", 0)
	f.register(t, "b", 5)
	f.register(t, "c", 0)
	f.annotator.results["s3://teleops-videos/b.mp4"] = annotation.Result{Err: apperr.New(apperr.KindPayloadTooLarge, "too big")}

	res := f.pipeline.ProcessBatch(ctx, 10)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Requeued)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "b:")

	res = f.pipeline.ProcessBatch(ctx, 10)
	assert.Zero(t, res.Processed)
	assert.Empty(t, res.Errors)
}

func TestProcessBatchRespectsLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.register(t, id, 0)
	}
	res := f.pipeline.ProcessBatch(ctx, 2)
	assert.Equal(t, 2, res.Processed)

	stats, err := f.pipeline.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
}

func TestEnqueueRequiresKnownMedia(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	assert.True(t, apperr.Is(f.pipeline.Enqueue(ctx, "nope", 0), apperr.KindNotFound))

	f.register(t, "m1", 0)
	_, err := f.pipeline.ProcessNext(ctx)
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Enqueue(ctx, "m1", 3))
	row, err := f.queue.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusQueued, row.Status)
	assert.Equal(t, 3, row.Priority)
}

func TestNewValidatesParams(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}

func TestIntakeWorksWithoutAnnotator(t *testing.T) {
	ctx := context.Background()
	queue := dispatch.NewMemoryStore()
	in, err := NewIntake(queue, repository.NewMemoryMediaStore(), nil)
	require.NoError(t, err)

	require.NoError(t, in.Register(ctx, &model.Media{ID: "m1", StorageURL: "s3://b/m1.mp4"}, 1))
	stats, err := in.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)

	_, err = NewIntake(nil, nil, nil)
	assert.Error(t, err)
}
