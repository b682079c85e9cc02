package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	"gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob" // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore reads and writes objects through a gocloud.dev bucket.
// Works with AWS S3, GCS, MinIO, R2 and the in-memory driver.
type BlobStore struct {
	bucket *blob.Bucket
	scheme string
	name   string
	prefix string
}

// NewS3Store creates a new S3-compatible store.
func NewS3Store(bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	ctx := context.Background()

	// Build URL for gocloud.dev
	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}

	return &BlobStore{bucket: bucket, scheme: "s3", name: bucketName, prefix: prefix}, nil
}

// NewGCSStore creates a new GCS store.
func NewGCSStore(bucketName, prefix string) (*BlobStore, error) {
	ctx := context.Background()

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}

	return &BlobStore{bucket: bucket, scheme: "gs", name: bucketName, prefix: prefix}, nil
}

// NewMemStore creates an in-memory store. Contents are lost on Close.
func NewMemStore(prefix string) (*BlobStore, error) {
	return &BlobStore{bucket: memblob.OpenBucket(nil), scheme: "mem", name: "memory", prefix: prefix}, nil
}

func (s *BlobStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

// Download streams the object into dst via a temp file + rename.
func (s *BlobStore) Download(ctx context.Context, key, dst string) (*ObjectInfo, error) {
	full := s.key(key)

	r, err := s.bucket.NewReader(ctx, full, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("open %s: %w", s.URI(key), ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", s.URI(key), err)
	}
	defer r.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := dst + ".tmp." + uuid.New().String()
	out, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("read %s: %w", s.URI(key), err)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("rename %s to %s: %w", tempPath, dst, err)
	}

	return &ObjectInfo{
		Key:      key,
		Size:     n,
		Checksum: formatChecksum(h.Sum(nil)),
		ModTime:  r.ModTime(),
	}, nil
}

// Upload streams src to key. The object only becomes visible once the
// writer is closed successfully, so a failed upload never leaves a partial
// object behind.
func (s *BlobStore) Upload(ctx context.Context, src, key string) (*ObjectInfo, error) {
	full := s.key(key)

	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	// Cancelling the writer's context aborts the upload on error paths.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(wctx, full, nil)
	if err != nil {
		return nil, fmt.Errorf("create writer for %s: %w", full, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), in)
	if err != nil {
		cancel()
		w.Close()
		return nil, fmt.Errorf("write data to %s: %w", full, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close writer for %s: %w", full, err)
	}

	return &ObjectInfo{Key: key, Size: n, Checksum: formatChecksum(h.Sum(nil))}, nil
}

// Exists checks if an object exists.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, s.key(key))
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, s.name, s.key(key))
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}
