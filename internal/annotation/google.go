package annotation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/option"
	videointelligence "google.golang.org/api/videointelligence/v1"
)

const defaultPollInterval = 5 * time.Second

// GoogleConfig selects credentials and polling for GoogleVideoService.
// Empty credentials fall back to application default credentials.
type GoogleConfig struct {
	CredentialsJSON string
	CredentialsFile string
	LocationID      string
	PollInterval    time.Duration
}

// GoogleVideoService runs annotation jobs on Cloud Video Intelligence.
type GoogleVideoService struct {
	svc          *videointelligence.Service
	locationID   string
	pollInterval time.Duration
}

// NewGoogleVideoService builds the REST client. extra options are appended
// after the credential options; tests point it at a local endpoint.
func NewGoogleVideoService(ctx context.Context, cfg GoogleConfig, extra ...option.ClientOption) (*GoogleVideoService, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)
	svc, err := videointelligence.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("init video intelligence client: %w", err)
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &GoogleVideoService{svc: svc, locationID: cfg.LocationID, pollInterval: interval}, nil
}

// Submit starts an annotate operation with the video inlined as base64.
func (g *GoogleVideoService) Submit(ctx context.Context, content []byte, features []Feature) (string, error) {
	names := make([]string, 0, len(features))
	for _, f := range features {
		names = append(names, string(f))
	}
	req := &videointelligence.GoogleCloudVideointelligenceV1AnnotateVideoRequest{
		InputContent: base64.StdEncoding.EncodeToString(content),
		Features:     names,
		LocationId:   g.locationID,
	}
	op, err := g.svc.Videos.Annotate(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("annotate video: %w", err)
	}
	if op.Name == "" {
		return "", errors.New("annotate video: operation has no name")
	}
	return op.Name, nil
}

// Await polls the operation until it is done and returns its response.
func (g *GoogleVideoService) Await(ctx context.Context, handle string) ([]byte, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()
	for {
		op, err := g.svc.Projects.Locations.Operations.Get(handle).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("get operation %s: %w", handle, err)
		}
		if op.Done {
			if op.Error != nil {
				return nil, fmt.Errorf("operation %s failed: %s (code %d)", handle, op.Error.Message, op.Error.Code)
			}
			if len(op.Response) == 0 {
				return nil, ErrNoResults
			}
			return op.Response, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
