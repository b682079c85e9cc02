package storage

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore reads and writes files on a local or shared filesystem.
// Keys are resolved relative to baseDir; absolute keys are used as-is.
type LocalStore struct {
	baseDir string
	prefix  string
}

// NewLocalStore creates a new local filesystem store.
func NewLocalStore(baseDir, prefix string) (*LocalStore, error) {
	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
		prefix:  prefix,
	}, nil
}

func (s *LocalStore) path(key string) string {
	if filepath.IsAbs(key) {
		return filepath.Clean(key)
	}
	return filepath.Join(s.baseDir, s.prefix, key)
}

// Download copies the file at key into dst.
func (s *LocalStore) Download(ctx context.Context, key, dst string) (*ObjectInfo, error) {
	src := s.path(key)
	info, err := copyFile(ctx, src, dst)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("download %s: %w", src, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s: %w", src, err)
	}
	info.Key = key
	return info, nil
}

// Upload copies src to key using temp file + rename.
func (s *LocalStore) Upload(ctx context.Context, src, key string) (*ObjectInfo, error) {
	info, err := copyFile(ctx, src, s.path(key))
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	info.Key = key
	return info, nil
}

// Exists checks if a file exists at key.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	return "file://" + s.path(key)
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// copyFile copies src to dst atomically and returns size and checksum.
func copyFile(ctx context.Context, src, dst string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

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
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, dst); err != nil {
		// Clean up temp file on rename failure
		os.Remove(tempPath)
		return nil, fmt.Errorf("rename %s to %s: %w", tempPath, dst, err)
	}

	st, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}

	return &ObjectInfo{
		Size:     n,
		Checksum: formatChecksum(h.Sum(nil)),
		ModTime:  st.ModTime(),
	}, nil
}
