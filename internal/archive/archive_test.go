package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func buildTarGz(t *testing.T, path string, members map[string]string, order []string) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, name := range order {
		body := members[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	tw.Close()
	zw.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestCreateThenExtract(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "results")
	os.MkdirAll(filepath.Join(src, "nested"), 0755)
	os.WriteFile(filepath.Join(src, "a.pdbqt"), []byte("A"), 0644)
	os.WriteFile(filepath.Join(src, "nested", "b.pdbqt"), []byte("B"), 0644)

	tgz := filepath.Join(dir, "out", "results.tar.gz")
	if err := Create(src, "0000001", tgz); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	files, err := Extract(tgz, filepath.Join(dir, "extracted"))
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	want := []string{"0000001/a.pdbqt", "0000001/nested/b.pdbqt"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	data, err := os.ReadFile(filepath.Join(dir, "extracted", "0000001", "nested", "b.pdbqt"))
	if err != nil || string(data) != "B" {
		t.Errorf("nested member content = %q, %v", data, err)
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	tgz := filepath.Join(dir, "evil.tar.gz")
	buildTarGz(t, tgz, map[string]string{"../escape.txt": "x"}, []string{"../escape.txt"})

	_, err := Extract(tgz, filepath.Join(dir, "out"))
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected ErrUnsafePath, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.txt")); !os.IsNotExist(err) {
		t.Error("member escaped the extraction directory")
	}
}

func TestExtractCorrupt(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tar.gz")
	os.WriteFile(bad, []byte("not a gzip stream"), 0644)

	if _, err := Extract(bad, filepath.Join(dir, "out")); err == nil {
		t.Error("expected error for corrupt archive")
	}
}
