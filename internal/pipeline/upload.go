package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/storage"
)

// ErrUploadFailed is returned when an artifact cannot be uploaded after
// all retries. It stops the subjob.
var ErrUploadFailed = errors.New("upload failed")

// Uploader pushes finished artifacts to the output store.
type Uploader struct {
	store     storage.Store
	maxRetry  int
	backoffMs int
	log       *slog.Logger
}

// NewUploader creates an uploader.
func NewUploader(store storage.Store, maxRetry, backoffMs int) *Uploader {
	if maxRetry < 1 {
		maxRetry = 3
	}
	if backoffMs < 1 {
		backoffMs = 1000
	}
	return &Uploader{
		store:     store,
		maxRetry:  maxRetry,
		backoffMs: backoffMs,
		log:       logging.Component("uploader"),
	}
}

// Upload copies an artifact to its destination key and removes its staging
// directory on success.
func (u *Uploader) Upload(ctx context.Context, a Artifact) error {
	log := u.log.With("key", a.Key)
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt < u.maxRetry; attempt++ {
		if attempt > 0 {
			if m := metrics.Get(); m != nil {
				m.IncRetryAttempts("upload")
			}
			backoff := time.Duration(u.backoffMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		info, err := u.store.Upload(ctx, a.Path, a.Key)
		if err == nil {
			log.Info("artifact uploaded",
				"uri", u.store.URI(a.Key),
				"size", humanize.Bytes(uint64(info.Size)),
				"checksum", info.Checksum,
				"attempts", attempt+1,
			)
			if m := metrics.Get(); m != nil {
				m.ObserveUpload("success", info.Size, time.Since(start).Seconds())
			}
			if a.Staging != "" {
				if err := os.RemoveAll(a.Staging); err != nil {
					log.Warn("failed to remove staging dir", "path", a.Staging, "error", err)
				}
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		log.Warn("upload failed", "attempt", attempt+1, "error", err)
	}

	if m := metrics.Get(); m != nil {
		m.ObserveUpload("failure", 0, time.Since(start).Seconds())
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrUploadFailed, a.Key, u.maxRetry, lastErr)
}
