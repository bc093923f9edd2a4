package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/apperr"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/config"
)

// Storage wraps MinIO/S3 interactions for recorded videos.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the S3 settings.
func New(cfg config.S3Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
	}, nil
}

// EnsureBucket makes sure the video bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores the object under key and returns its s3:// URL. progress,
// when set, receives cumulative bytes sent and the object size.
func (s *Storage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string, progress func(sent, total int64)) (string, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if progress != nil {
		opts.Progress = &progressReader{total: size, fn: progress}
	}
	if _, err := s.client.PutObject(ctx, s.bucket, key, r, size, opts); err != nil {
		return "", apperr.Wrap(apperr.KindTransientIO, err, "upload object")
	}
	return ObjectURL(s.bucket, key), nil
}

// Download fetches an object by the URL Upload returned. Path-style http(s)
// URLs are accepted too.
func (s *Storage) Download(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "parse storage url")
	}
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, err, "get object")
	}
	defer obj.Close()
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, err, "read object")
	}
	return buf, nil
}

// Presign returns a signed GET URL for a stored video.
func (s *Storage) Presign(ctx context.Context, rawURL string, expiry time.Duration) (string, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err, "parse storage url")
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign object: %w", err)
	}
	return u.String(), nil
}

// ObjectURL formats the canonical storage URL for an object.
func ObjectURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.TrimPrefix(key, "/"))
}

// ParseObjectURL splits s3://bucket/key or a path-style
// http(s)://host/bucket/key URL into bucket and key.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	switch u.Scheme {
	case "s3":
		bucket = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case "http", "https":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) == 2 {
			bucket, key = parts[0], parts[1]
		}
	default:
		return "", "", fmt.Errorf("unsupported storage url scheme %q", u.Scheme)
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage url %q has no bucket or key", rawURL)
	}
	return bucket, key, nil
}

// progressReader is handed to minio as PutObjectOptions.Progress; minio
// feeds it every chunk it sends.
type progressReader struct {
	sent  int64
	total int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	p.sent += int64(len(b))
	p.fn(p.sent, p.total)
	return len(b), nil
}
