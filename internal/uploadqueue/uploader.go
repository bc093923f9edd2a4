package uploadqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
)

const videoContentType = "video/mp4"

// ObjectUploader is the slice of s3storage.Storage the device needs.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress func(sent, total int64)) (string, error)
}

// RemoteUploader sends the video to object storage and then registers its
// metadata with the API so the server can queue it for annotation.
type RemoteUploader struct {
	objects ObjectUploader
	apiURL  string
	client  *http.Client
	now     func() time.Time
}

func NewRemoteUploader(objects ObjectUploader, apiURL string, client *http.Client) (*RemoteUploader, error) {
	if objects == nil {
		return nil, errors.New("object uploader required")
	}
	if apiURL == "" {
		return nil, errors.New("api url required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteUploader{
		objects: objects,
		apiURL:  strings.TrimRight(apiURL, "/"),
		client:  client,
		now:     time.Now,
	}, nil
}

// ObjectKey is the storage path for an upload started at ts.
func ObjectKey(locationID, jobID string, ts time.Time) string {
	return fmt.Sprintf("media/%s/%s/%d-video.mp4", locationID, jobID, ts.UnixMilli())
}

type mediaRegistration struct {
	StorageURL      string `json:"storageUrl"`
	LocationID      string `json:"locationId"`
	JobID           string `json:"jobId"`
	FileName        string `json:"fileName"`
	FileSize        int64  `json:"fileSize"`
	MimeType        string `json:"mimeType"`
	DurationSeconds *int   `json:"durationSeconds,omitempty"`
}

func (u *RemoteUploader) Upload(ctx context.Context, item Item, progress func(percent int)) (string, error) {
	f, err := os.Open(item.VideoRef)
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat video: %w", err)
	}

	started := u.now()
	storageURL, err := u.objects.Upload(ctx, ObjectKey(item.LocationID, item.JobID, started), f, info.Size(), videoContentType,
		func(sent, total int64) {
			if progress != nil && total > 0 {
				progress(int(sent * 100 / total))
			}
		})
	if err != nil {
		return "", fmt.Errorf("upload video: %w", err)
	}

	reg := mediaRegistration{
		StorageURL:      storageURL,
		LocationID:      item.LocationID,
		JobID:           item.JobID,
		FileName:        fmt.Sprintf("video-%d.mp4", started.UnixMilli()),
		FileSize:        info.Size(),
		MimeType:        videoContentType,
		DurationSeconds: item.DurationSeconds,
	}
	if err := u.register(ctx, reg); err != nil {
		return "", err
	}
	return storageURL, nil
}

func (u *RemoteUploader) register(ctx context.Context, reg mediaRegistration) error {
	body, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("encode media registration: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.apiURL+"/v1/media", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build media registration: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientIO, err, "register media")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return apperr.Newf(apperr.KindTransientIO, "register media: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
