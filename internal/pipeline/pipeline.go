// Package pipeline runs claimed queue rows through annotation and training
// derivation and records the outcome on the media record and the queue row.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/annotation"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/metrics"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/model"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/training"
)

type Annotator interface {
	Annotate(ctx context.Context, url string, features []annotation.Feature) annotation.Result
}

type Deriver interface {
	Derive(ctx context.Context, mediaID, videoURL string, a *annotation.Annotations) (*training.Entry, error)
}

// Outcome describes one ProcessNext call. Processed is false when the queue
// had nothing eligible.
type Outcome struct {
	Processed bool
	MediaID   string
	Status    dispatch.Status
	Err       error
}

// BatchResult summarizes ProcessBatch.
type BatchResult struct {
	Processed int      `json:"processed"`
	Requeued  int      `json:"requeued"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

type Params struct {
	Queue     dispatch.Store
	Media     repository.MediaStore
	Annotator Annotator
	Deriver   Deriver
	Features  []annotation.Feature
	Metrics   *metrics.PipelineMetrics
	Logger    *logging.Logger
}

// Intake registers media and manages queue rows without processing
// anything. The API server runs on an Intake alone.
type Intake struct {
	queue dispatch.Store
	media repository.MediaStore
	logg  *logging.Logger
}

func NewIntake(queue dispatch.Store, media repository.MediaStore, logg *logging.Logger) (*Intake, error) {
	if queue == nil {
		return nil, errors.New("queue store required")
	}
	if media == nil {
		return nil, errors.New("media store required")
	}
	if logg == nil {
		logg = logging.Nop()
	}
	return &Intake{queue: queue, media: media, logg: logg}, nil
}

type Pipeline struct {
	*Intake
	annotator Annotator
	deriver   Deriver
	features  []annotation.Feature
	metrics   *metrics.PipelineMetrics
}

func New(p Params) (*Pipeline, error) {
	intake, err := NewIntake(p.Queue, p.Media, p.Logger)
	if err != nil {
		return nil, err
	}
	if p.Annotator == nil {
		return nil, errors.New("annotator required")
	}
	if p.Deriver == nil {
		return nil, errors.New("deriver required")
	}
	features := p.Features
	if len(features) == 0 {
		features = annotation.AllFeatures
	}
	return &Pipeline{
		Intake:    intake,
		annotator: p.Annotator,
		deriver:   p.Deriver,
		features:  features,
		metrics:   p.Metrics,
	}, nil
}

// ProcessNext claims one row and processes it. The returned error is
// reserved for queue persistence failures; a video that fails processing is
// reported through Outcome.Err.
func (p *Pipeline) ProcessNext(ctx context.Context) (Outcome, error) {
	claim, err := p.queue.ClaimNext(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("claim next: %w", err)
	}
	if claim == nil {
		return Outcome{}, nil
	}
	p.metrics.IncClaim()
	ctx = p.logg.WithFields(ctx, map[string]any{
		"media_id": claim.MediaID,
		"attempt":  claim.Attempts,
	})

	procErr := p.processClaim(ctx, claim)
	if procErr == nil {
		if err := p.queue.Complete(ctx, claim.MediaID); err != nil {
			return Outcome{Processed: true, MediaID: claim.MediaID, Err: err}, fmt.Errorf("complete queue row: %w", err)
		}
		p.metrics.IncOutcome(string(dispatch.StatusCompleted))
		p.logg.Info(ctx, "video processed")
		return Outcome{Processed: true, MediaID: claim.MediaID, Status: dispatch.StatusCompleted}, nil
	}
	return p.recordFailure(ctx, claim, procErr)
}

func (p *Pipeline) processClaim(ctx context.Context, claim *dispatch.Claim) error {
	media, err := p.media.Get(ctx, claim.MediaID)
	if err != nil {
		return err
	}
	return p.ProcessVideo(ctx, claim.MediaID, media.StorageURL)
}

// recordFailure requeues a retryable failure while attempts remain and
// parks everything else as failed.
func (p *Pipeline) recordFailure(ctx context.Context, claim *dispatch.Claim, procErr error) (Outcome, error) {
	out := Outcome{Processed: true, MediaID: claim.MediaID, Err: procErr}
	msg := procErr.Error()

	if apperr.Retryable(procErr) && claim.HasAttemptsLeft() {
		if err := p.queue.Requeue(ctx, claim.MediaID, msg); err != nil {
			return out, fmt.Errorf("requeue queue row: %w", err)
		}
		out.Status = dispatch.StatusQueued
		p.metrics.IncOutcome("requeued")
		p.logg.Warn(ctx, fmt.Sprintf("video processing failed, requeued (%d/%d attempts)", claim.Attempts, claim.MaxAttempts), procErr)
		return out, nil
	}

	if err := p.queue.Fail(ctx, claim.MediaID, msg); err != nil {
		return out, fmt.Errorf("fail queue row: %w", err)
	}
	out.Status = dispatch.StatusFailed
	p.metrics.IncOutcome(string(dispatch.StatusFailed))
	p.logg.Error(ctx, "video processing failed", procErr)
	return out, nil
}

// ProcessVideo annotates one video, stores the annotations on the media
// record and derives its training entry. Any failure is also recorded on the
// media record.
func (p *Pipeline) ProcessVideo(ctx context.Context, mediaID, url string) error {
	if err := p.media.MarkAIProcessing(ctx, mediaID); err != nil {
		return err
	}

	started := time.Now()
	res := p.annotator.Annotate(ctx, url, p.features)
	p.metrics.ObserveAnnotation(res.Success, time.Since(started))
	if !res.Success || res.Annotations == nil {
		err := res.Err
		if err == nil {
			err = apperr.New(apperr.KindAnnotationService, "no annotations returned")
		}
		return p.failMedia(ctx, mediaID, err)
	}

	raw, err := json.Marshal(res.Annotations)
	if err != nil {
		return p.failMedia(ctx, mediaID, apperr.Wrap(apperr.KindAnnotationService, err, "encode annotations"))
	}
	if err := p.media.MarkAICompleted(ctx, mediaID, raw); err != nil {
		return p.failMedia(ctx, mediaID, err)
	}
	if _, err := p.deriver.Derive(ctx, mediaID, url, res.Annotations); err != nil {
		return p.failMedia(ctx, mediaID, err)
	}
	return nil
}

func (p *Pipeline) failMedia(ctx context.Context, mediaID string, cause error) error {
	if err := p.media.MarkAIFailed(ctx, mediaID, cause.Error()); err != nil {
		p.logg.Error(ctx, "failed to record media failure", err)
	}
	return cause
}

// ProcessBatch processes up to n rows and stops early when the queue is
// empty or the queue itself cannot be reached.
func (p *Pipeline) ProcessBatch(ctx context.Context, n int) BatchResult {
	res := BatchResult{Errors: []string{}}
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err().Error())
			break
		}
		out, err := p.ProcessNext(ctx)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			break
		}
		if !out.Processed {
			break
		}
		switch out.Status {
		case dispatch.StatusCompleted:
			res.Processed++
		case dispatch.StatusQueued:
			res.Requeued++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", out.MediaID, out.Err))
		default:
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", out.MediaID, out.Err))
		}
	}
	return res
}

// Register stores a newly uploaded media item and queues it for annotation.
func (in *Intake) Register(ctx context.Context, m *model.Media, priority int) error {
	if err := in.media.Register(ctx, m); err != nil {
		return err
	}
	if err := in.queue.Enqueue(ctx, m.ID, priority); err != nil {
		return err
	}
	in.logg.Info(in.logg.WithMediaID(ctx, m.ID), fmt.Sprintf("media queued with priority %d", priority))
	return nil
}

// Enqueue queues an existing media item, e.g. to reprocess it.
func (in *Intake) Enqueue(ctx context.Context, mediaID string, priority int) error {
	if _, err := in.media.Get(ctx, mediaID); err != nil {
		return err
	}
	return in.queue.Enqueue(ctx, mediaID, priority)
}

func (in *Intake) RetryFailed(ctx context.Context) (int, error) {
	return in.queue.RetryFailed(ctx)
}

func (in *Intake) Stats(ctx context.Context) (dispatch.Stats, error) {
	return in.queue.Stats(ctx)
}
