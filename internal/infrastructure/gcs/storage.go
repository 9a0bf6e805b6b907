package gcs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"

	"TubeDigest/internal/ports"
)

// Storage stages audio files in a Cloud Storage bucket and hands the
// transcriber a signed download URL. Uploads always bypass proxies: the
// transport is built on a base with no proxy function regardless of
// environment.
type Storage struct {
	bucket  *storage.BucketHandle
	bucketN string
	signTTL time.Duration
	logger  *slog.Logger
}

var _ ports.Storage = (*Storage)(nil)

// New connects to the bucket with a direct-only HTTP transport.
func New(ctx context.Context, bucketName string, signTTL time.Duration, logger *slog.Logger) (*Storage, error) {
	base := &http.Transport{Proxy: nil}
	rt, err := htransport.NewTransport(ctx, base, option.WithScopes(storage.ScopeFullControl))
	if err != nil {
		return nil, fmt.Errorf("build storage transport: %w", err)
	}
	client, err := storage.NewClient(ctx, option.WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &Storage{
		bucket:  client.Bucket(bucketName),
		bucketN: bucketName,
		signTTL: signTTL,
		logger:  logger.With("component", "gcs"),
	}, nil
}

// Upload copies the local file into the bucket under a random object name
// and returns a time-limited signed URL for it.
func (s *Storage) Upload(ctx context.Context, localPath string) (string, string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	objectKey := "audio_" + uuid.NewString() + filepath.Ext(localPath)
	writer := s.bucket.Object(objectKey).NewWriter(ctx)
	if _, err := io.Copy(writer, file); err != nil {
		writer.Close()
		return "", "", fmt.Errorf("upload %s: %w", objectKey, err)
	}
	if err := writer.Close(); err != nil {
		return "", "", fmt.Errorf("finalize %s: %w", objectKey, err)
	}

	signedURL, err := s.bucket.SignedURL(objectKey, &storage.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(s.signTTL),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", "", fmt.Errorf("sign %s: %w", objectKey, err)
	}

	s.logger.Info("audio staged", "bucket", s.bucketN, "object", objectKey)
	return signedURL, objectKey, nil
}

// Delete removes a staged object once transcription no longer needs it.
func (s *Storage) Delete(ctx context.Context, objectKey string) error {
	if err := s.bucket.Object(objectKey).Delete(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", objectKey, err)
	}
	return nil
}
