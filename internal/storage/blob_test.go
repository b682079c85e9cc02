package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemStoreRoundTrip(t *testing.T) {
	store, err := NewMemStore("jobs/x")
	if err != nil {
		t.Fatalf("NewMemStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "results.tar.gz")
	writeFile(t, src, "payload")

	info, err := store.Upload(ctx, src, "output/a.tar.gz")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if info.Checksum != checksumOf([]byte("payload")) {
		t.Errorf("checksum mismatch: %s", info.Checksum)
	}

	ok, err := store.Exists(ctx, "output/a.tar.gz")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	dst := filepath.Join(dir, "copy")
	got, err := store.Download(ctx, "output/a.tar.gz", dst)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if got.Size != 7 {
		t.Errorf("expected size 7, got %d", got.Size)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Errorf("content mismatch: %q", data)
	}

	if uri := store.URI("output/a.tar.gz"); uri != "mem://memory/jobs/x/output/a.tar.gz" {
		t.Errorf("unexpected URI %s", uri)
	}
}

func TestMemStoreMissing(t *testing.T) {
	store, _ := NewMemStore("")
	defer store.Close()

	_, err := store.Download(context.Background(), "nope", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewStoreUnknownBackend(t *testing.T) {
	if _, err := NewStore(StorageConfig{Backend: "ftp"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := NewStore(StorageConfig{Backend: "s3"}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}

func TestPoolCachesPerBucket(t *testing.T) {
	opened := 0
	p := NewPool(func(bucket string) (Store, error) {
		opened++
		return NewMemStore("")
	})
	defer p.Close()

	a1, err := p.Get("a")
	if err != nil {
		t.Fatalf("Get(a): %v", err)
	}
	a2, _ := p.Get("a")
	if a1 != a2 {
		t.Error("expected cached store for the same bucket")
	}
	if _, err := p.Get("b"); err != nil {
		t.Fatalf("Get(b): %v", err)
	}
	if opened != 2 {
		t.Errorf("expected 2 opens, got %d", opened)
	}
}
