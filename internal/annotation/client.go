// Package annotation sends stored videos to the external video annotation
// service and normalizes its output into Annotations.
package annotation

import (
	"context"
	"fmt"
	"time"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
)

// MaxInlineBytes is the largest video sent inline to the annotation service.
const MaxInlineBytes int64 = 20 << 20

// Downloader fetches stored video bytes by URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// VideoService is the remote annotation provider. Submit starts a
// long-running job and returns its handle; Await blocks until the job ends
// and returns the raw result payload.
type VideoService interface {
	Submit(ctx context.Context, content []byte, features []Feature) (string, error)
	Await(ctx context.Context, handle string) ([]byte, error)
}

// Result is the outcome of one Annotate call. Err carries an apperr kind.
type Result struct {
	Success     bool
	Annotations *Annotations
	Err         error
}

type Client struct {
	downloader Downloader
	service    VideoService
	maxBytes   int64
	logg       *logging.Logger
	now        func() time.Time
}

type Option func(*Client)

// WithMaxBytes lowers the inline size cap. Values above MaxInlineBytes are
// ignored.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 && n <= MaxInlineBytes {
			c.maxBytes = n
		}
	}
}

func WithLogger(logg *logging.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(downloader Downloader, service VideoService, opts ...Option) *Client {
	c := &Client{
		downloader: downloader,
		service:    service,
		maxBytes:   MaxInlineBytes,
		logg:       logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Annotate downloads the video at url, sends it for annotation and parses
// the response. It never panics or returns an error outside the Result.
func (c *Client) Annotate(ctx context.Context, url string, features []Feature) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(apperr.Newf(apperr.KindAnnotationService, "annotate panicked: %v", r))
		}
	}()

	if len(features) == 0 {
		features = AllFeatures
	}
	started := c.now()

	data, err := c.downloader.Download(ctx, url)
	if err != nil {
		return failure(apperr.Wrap(apperr.KindTransientIO, err, "download video"))
	}
	if size := int64(len(data)); size > c.maxBytes {
		return failure(apperr.Newf(apperr.KindPayloadTooLarge,
			"video too large for inline processing (%dMB > %dMB limit)", size>>20, c.maxBytes>>20))
	}

	c.logg.Info(ctx, fmt.Sprintf("starting annotation (%d bytes, %d features)", len(data), len(features)))
	handle, err := c.service.Submit(ctx, data, features)
	if err != nil {
		return failure(apperr.Wrap(apperr.KindAnnotationService, err, "submit annotation"))
	}
	raw, err := c.service.Await(ctx, handle)
	if err != nil {
		return failure(apperr.Wrap(apperr.KindAnnotationService, err, "await annotation"))
	}
	annotations, err := Parse(raw)
	if err != nil {
		return failure(apperr.Wrap(apperr.KindAnnotationService, err, "parse annotation"))
	}

	finished := c.now()
	annotations.ProcessedAt = finished.UTC()
	annotations.ProcessingTimeMs = finished.Sub(started).Milliseconds()
	c.logg.Info(ctx, fmt.Sprintf("annotation complete in %dms: %d labels, %d objects, %d text items",
		annotations.ProcessingTimeMs, len(annotations.Labels), len(annotations.Objects), len(annotations.Text)))
	return Result{Success: true, Annotations: annotations}
}

func failure(err error) Result {
	return Result{Success: false, Err: err}
}
