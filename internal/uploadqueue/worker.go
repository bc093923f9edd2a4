package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/lease"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/metrics"
)

// ErrDrainInProgress is returned when another drain, in this process or
// another one sharing the data dir, holds the queue.
var ErrDrainInProgress = errors.New("upload drain already in progress")

const interruptedMessage = "upload interrupted before completion"

const (
	DrainLeaseName = "upload-drain"
	// DrainLeaseTTL is how long a crashed drain keeps others out.
	DrainLeaseTTL = 5 * time.Minute
)

// NewDrainLease returns the persisted lease every drain on this data dir
// competes for.
func NewDrainLease(ctx context.Context, store *SQLiteStore) (*lease.SQLiteLease, error) {
	return lease.NewSQLiteLease(ctx, store.DB(), DrainLeaseName, DrainLeaseTTL)
}

// Uploader moves one item's video off the device and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, item Item, progress func(percent int)) (string, error)
}

// ProgressFunc observes per-item upload progress during a drain.
type ProgressFunc func(item Item, percent int)

type DrainResult struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

type Worker struct {
	store    Store
	uploader Uploader
	lease    lease.Lease
	logg     *logging.Logger
	metrics  *metrics.PipelineMetrics
	remove   func(string) error

	running atomic.Bool
}

func NewWorker(store Store, uploader Uploader, l lease.Lease, logg *logging.Logger, m *metrics.PipelineMetrics) (*Worker, error) {
	if store == nil {
		return nil, errors.New("upload store required")
	}
	if uploader == nil {
		return nil, errors.New("uploader required")
	}
	if l == nil {
		return nil, errors.New("drain lease required")
	}
	if logg == nil {
		logg = logging.Nop()
	}
	return &Worker{
		store:    store,
		uploader: uploader,
		lease:    l,
		logg:     logg,
		metrics:  m,
		remove:   os.Remove,
	}, nil
}

// Drain uploads every pending or errored item once, in queue order. Item
// failures are recorded on the item and do not stop the drain; the returned
// error only carries queue persistence problems.
func (w *Worker) Drain(ctx context.Context, onProgress ProgressFunc) (res DrainResult, err error) {
	if !w.running.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer w.running.Store(false)

	acquired, err := w.lease.Acquire(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("acquire drain lease: %w", err)
	}
	if !acquired {
		return DrainResult{}, ErrDrainInProgress
	}
	defer func() {
		if relErr := w.lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			w.logg.Warn(ctx, "failed to release drain lease", relErr)
		}
	}()

	items, err := w.store.List(ctx)
	if err != nil {
		return DrainResult{}, fmt.Errorf("list upload queue: %w", err)
	}

	var ids []string
	for _, item := range items {
		// Holding the lease means nobody else is uploading, so anything still
		// marked uploading was cut off by a crash.
		if item.Status == StatusUploading {
			item.Status = StatusError
			item.Error = interruptedMessage
			if saveErr := w.store.Save(ctx, item); saveErr != nil {
				err = multierr.Append(err, saveErr)
				continue
			}
		}
		if item.Drainable() {
			ids = append(ids, item.ID)
		}
	}

	for _, id := range ids {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = multierr.Append(err, ctxErr)
			break
		}
		item, getErr := w.store.Get(ctx, id)
		if apperr.Is(getErr, apperr.KindNotFound) {
			continue
		}
		if getErr != nil {
			err = multierr.Append(err, getErr)
			continue
		}
		if !item.Drainable() {
			continue
		}
		res.Attempted++
		ok, itemErr := w.uploadItem(ctx, item, onProgress)
		if ok {
			res.Succeeded++
		} else {
			res.Failed++
		}
		err = multierr.Append(err, itemErr)
	}

	w.logg.Info(ctx, fmt.Sprintf("upload drain finished: %d attempted, %d succeeded, %d failed",
		res.Attempted, res.Succeeded, res.Failed))
	return res, err
}

// uploadItem walks one item through uploading to success or error. The
// returned error is set only when the item's state could not be persisted.
func (w *Worker) uploadItem(ctx context.Context, item Item, onProgress ProgressFunc) (bool, error) {
	ctx = w.logg.WithFields(ctx, map[string]any{
		"upload_id": item.ID,
		"job_id":    item.JobID,
	})

	item.Status = StatusUploading
	item.Error = ""
	item.Progress = 0
	if err := w.store.Save(ctx, item); err != nil {
		return false, err
	}

	progress := func(percent int) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		item.Progress = percent
		if onProgress != nil {
			onProgress(item, percent)
		}
	}

	storageURL, upErr := w.upload(ctx, item, progress)
	if upErr != nil {
		item.Status = StatusError
		item.Error = upErr.Error()
		w.metrics.IncUploadItem(string(StatusError))
		w.logg.Warn(ctx, "upload failed", upErr)
		return false, w.saveFinal(ctx, item)
	}

	item.Status = StatusSuccess
	item.Progress = 100
	item.StorageURL = storageURL
	if err := w.saveFinal(ctx, item); err != nil {
		return false, err
	}
	w.metrics.IncUploadItem(string(StatusSuccess))
	if onProgress != nil {
		onProgress(item, 100)
	}

	if err := w.remove(item.VideoRef); err != nil && !errors.Is(err, fs.ErrNotExist) {
		w.logg.Warn(ctx, "failed to delete local video", err)
	}
	w.logg.Info(ctx, "upload complete")
	return true, nil
}

// saveFinal persists a terminal state even if the drain context was
// cancelled mid-upload.
func (w *Worker) saveFinal(ctx context.Context, item Item) error {
	return w.store.Save(context.WithoutCancel(ctx), item)
}

func (w *Worker) upload(ctx context.Context, item Item, progress func(int)) (url string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("upload panicked: %v", r)
		}
	}()
	return w.uploader.Upload(ctx, item, progress)
}
