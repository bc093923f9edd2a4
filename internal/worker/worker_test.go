package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/pipeline"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/queue"
)

type fakeBatches struct {
	sizes []int
	res   pipeline.BatchResult
}

func (f *fakeBatches) ProcessBatch(_ context.Context, n int) pipeline.BatchResult {
	f.sizes = append(f.sizes, n)
	return f.res
}

func TestProcessorRunsBatchFromPayload(t *testing.T) {
	batches := &fakeBatches{res: pipeline.BatchResult{Processed: 1, Failed: 1, Errors: []string{"m2: too large"}}}
	p := NewProcessor(batches, 5, nil)

	task, err := queue.NewProcessBatchTask(3)
	require.NoError(t, err)
	require.NoError(t, p.handleProcessBatch(context.Background(), task))

	require.NoError(t, p.handleProcessBatch(context.Background(), asynq.NewTask(queue.ProcessBatchTask, nil)))
	assert.Equal(t, []int{3, 5}, batches.sizes)
}

func TestProcessorSkipsRetryOnBadPayload(t *testing.T) {
	p := NewProcessor(&fakeBatches{}, 5, logging.Nop())
	err := p.handleProcessBatch(context.Background(), asynq.NewTask(queue.ProcessBatchTask, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type fakeLease struct {
	held     bool
	releases int
	err      error
}

func (f *fakeLease) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLease) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func TestSchedulerEnqueuesUnderLease(t *testing.T) {
	l := &fakeLease{}
	client := &recordingEnqueuer{}
	s, err := NewScheduler(SchedulerParams{Logger: logging.Nop(), Lease: l, Client: client, BatchSize: 4})
	require.NoError(t, err)

	require.NoError(t, s.runCycle(context.Background()))
	require.Len(t, client.tasks, 1)
	assert.Zero(t, l.releases)
	assert.True(t, l.held)

	// Until the lease expires the next tick is skipped, here and elsewhere.
	require.NoError(t, s.runCycle(context.Background()))
	assert.Len(t, client.tasks, 1)

	payload, err := queue.DecodeProcessBatch(client.tasks[0], 0)
	require.NoError(t, err)
	assert.Equal(t, 4, payload.BatchSize)
}

func TestSchedulerSkipsWhenLeaseHeld(t *testing.T) {
	l := &fakeLease{held: true}
	client := &recordingEnqueuer{}
	s, err := NewScheduler(SchedulerParams{Logger: logging.Nop(), Lease: l, Client: client})
	require.NoError(t, err)

	require.NoError(t, s.runCycle(context.Background()))
	assert.Empty(t, client.tasks)
	assert.Zero(t, l.releases)

	l.err = errors.New("redis unreachable")
	assert.Error(t, s.runCycle(context.Background()))
}

func TestSchedulerReleasesLeaseWhenEnqueueFails(t *testing.T) {
	l := &fakeLease{}
	client := &recordingEnqueuer{err: errors.New("redis down")}
	s, err := NewScheduler(SchedulerParams{Logger: logging.Nop(), Lease: l, Client: client})
	require.NoError(t, err)

	assert.Error(t, s.runCycle(context.Background()))
	assert.Equal(t, 1, l.releases)
	assert.False(t, l.held)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	client := &recordingEnqueuer{}
	s, err := NewScheduler(SchedulerParams{Logger: logging.Nop(), Lease: &fakeLease{}, Client: client, Interval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Len(t, client.tasks, 1)
}

func TestNewSchedulerValidation(t *testing.T) {
	_, err := NewScheduler(SchedulerParams{})
	assert.Error(t, err)
}
