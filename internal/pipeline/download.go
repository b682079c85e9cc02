package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/storage"
)

// StoreResolver returns the store holding a bucket. storage.Pool satisfies it.
type StoreResolver interface {
	Get(bucket string) (storage.Store, error)
}

// groupArchives orders collections into physical archives. Collections
// sharing a source (sparse selections of one archive) download once.
func groupArchives(collections []manifest.Collection) []archiveGroup {
	var groups []archiveGroup
	index := make(map[manifest.Source]int)
	for _, c := range collections {
		if i, ok := index[c.Source]; ok {
			groups[i].Collections = append(groups[i].Collections, c)
			continue
		}
		index[c.Source] = len(groups)
		groups = append(groups, archiveGroup{Source: c.Source, Collections: []manifest.Collection{c}})
	}
	return groups
}

// Downloader fetches collection archives into private scratch directories.
type Downloader struct {
	stores    StoreResolver
	workspace Workspace
	log       *slog.Logger
}

// NewDownloader creates a downloader.
func NewDownloader(stores StoreResolver, ws Workspace) *Downloader {
	return &Downloader{
		stores:    stores,
		workspace: ws,
		log:       logging.Component("downloader"),
	}
}

// Download fetches one archive. On failure the scratch directory is removed.
func (d *Downloader) Download(ctx context.Context, g archiveGroup) (*downloaded, error) {
	dir := filepath.Join(d.workspace.Downloads(), uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create scratch %s: %w", dir, err)
	}

	store, err := d.stores.Get(g.Source.Bucket)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	start := time.Now()
	dst := filepath.Join(dir, path.Base(g.Source.Path))
	info, err := store.Download(ctx, g.Source.Path, dst)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("download %s: %w", g.Source, err)
	}

	d.log.Info("archive downloaded",
		"source", g.Source.String(),
		"collections", len(g.Collections),
		"size", humanize.Bytes(uint64(info.Size)),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if m := metrics.Get(); m != nil {
		m.ObserveDownload(info.Size)
	}

	return &downloaded{
		archiveGroup: g,
		Archive:      dst,
		Scratch:      newScratch(dir, len(g.Collections)),
	}, nil
}

// failedEvents reports every collection of a group as lost. The
// aggregator never registers them, so they are not counted as complete.
func failedEvents(g archiveGroup, tasksPerLigand int, cause error) []Event {
	events := make([]Event, 0, len(g.Collections))
	for _, c := range g.Collections {
		events = append(events, Event{
			Kind:       EventDownloadFailed,
			Collection: c.Key,
			Count:      c.LigandCount * tasksPerLigand,
			Info:       cause.Error(),
		})
	}
	return events
}
