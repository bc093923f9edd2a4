package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ProcessBatchTask asks a worker to drain up to BatchSize rows from the
	// video processing queue.
	ProcessBatchTask = "annotation:process_batch"

	// uniqueWindow collapses bursts of nudges into a single pending task.
	uniqueWindow = 30 * time.Second
)

// ProcessBatchPayload is serialized into the task payload.
type ProcessBatchPayload struct {
	BatchSize int `json:"batch_size"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewProcessBatchTask builds the task without enqueueing it.
func NewProcessBatchTask(batchSize int) (*asynq.Task, error) {
	data, err := json.Marshal(ProcessBatchPayload{BatchSize: batchSize})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ProcessBatchTask, data), nil
}

// EnqueueProcessBatch schedules a batch run. A batch already waiting within
// the unique window is treated as success.
func EnqueueProcessBatch(ctx context.Context, client Enqueuer, batchSize int) error {
	task, err := NewProcessBatchTask(batchSize)
	if err != nil {
		return err
	}
	_, err = client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Unique(uniqueWindow))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue process batch task: %w", err)
	}
	return nil
}

// DecodeProcessBatch reads a task payload, falling back to def when the batch
// size is missing or invalid.
func DecodeProcessBatch(task *asynq.Task, def int) (ProcessBatchPayload, error) {
	var payload ProcessBatchPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return payload, fmt.Errorf("decode payload: %w", err)
		}
	}
	if payload.BatchSize <= 0 {
		payload.BatchSize = def
	}
	return payload, nil
}
