package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/pipeline"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/queue"
)

// BatchProcessor is implemented by *pipeline.Pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, n int) pipeline.BatchResult
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	batches   BatchProcessor
	batchSize int
	logg      *logging.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(batches BatchProcessor, batchSize int, logg *logging.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = 10
	}
	if logg == nil {
		logg = logging.Nop()
	}
	return &Processor{batches: batches, batchSize: batchSize, logg: logg}
}

// Handler registers the batch handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ProcessBatchTask, p.handleProcessBatch)
	return mux
}

// handleProcessBatch never asks asynq to retry for a failed video: the
// queue row already carries that failure. Only a cancelled run is retried.
func (p *Processor) handleProcessBatch(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeProcessBatch(task, p.batchSize)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	res := p.batches.ProcessBatch(ctx, payload.BatchSize)

	ctx = p.logg.WithFields(ctx, map[string]any{
		"processed": res.Processed,
		"requeued":  res.Requeued,
		"failed":    res.Failed,
	})
	if len(res.Errors) > 0 {
		p.logg.Warn(ctx, "batch finished with errors", fmt.Errorf("%s", strings.Join(res.Errors, "; ")))
	} else {
		p.logg.Info(ctx, "batch finished")
	}
	return ctx.Err()
}
