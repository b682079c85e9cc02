package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/withObsrvr/docking-worker/internal/archive"
	"github.com/withObsrvr/docking-worker/internal/config"
	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/pipeline"
	"github.com/withObsrvr/docking-worker/internal/program"
	"github.com/withObsrvr/docking-worker/internal/storage"
	"github.com/withObsrvr/docking-worker/internal/summary"
)

// errNothingToDo ends the run successfully without docking anything.
var errNothingToDo = errors.New("nothing to do")

const workUnitArchive = "vfvs_input.tar.gz"

func run(ctx context.Context, cfg config.Config) error {
	logging.Setup(logging.Config{
		Format: cfg.Log.Format,
		Level:  cfg.Log.Level,
		Output: os.Stderr,
	})

	metrics.Init("vfvs")
	if cfg.Log.MetricsAddr != "" {
		go func() {
			log.Printf("[metrics] listening on %s", cfg.Log.MetricsAddr)
			if err := metrics.StartServer(cfg.Log.MetricsAddr); err != nil {
				log.Printf("[metrics] server stopped: %v", err)
			}
		}()
	}

	tmp, err := filepath.Abs(cfg.Perf.TmpPath)
	if err != nil {
		return fmt.Errorf("resolve tmp path: %w", err)
	}
	free, err := config.CheckFreeSpace(tmp, cfg.Perf.MinFreeBytes)
	if err != nil {
		return err
	}
	log.Printf("[main] %s free in %s", humanize.Bytes(free), tmp)

	correlationID := logging.GenerateCorrelationID()
	ctx = logging.WithCorrelationID(ctx, correlationID)
	log.Printf("[main] correlation id %s", correlationID)

	root := filepath.Join(tmp, "vfvs-"+uuid.New().String())
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer os.RemoveAll(root)

	manifestFile, inputs, err := fetchWorkUnit(ctx, cfg, root)
	if err != nil {
		return err
	}

	job, err := loadJob(cfg, manifestFile, inputs)
	if err != nil {
		return err
	}

	sources, output, err := openStores(cfg, job)
	if err != nil {
		return err
	}
	defer sources.Close()
	defer output.Close()

	start := time.Now()
	p := pipeline.New(pipeline.Options{
		Job:           job,
		Workspace:     pipeline.Workspace{Root: filepath.Join(root, "work")},
		Sources:       sources,
		Output:        output,
		Registry:      program.DefaultRegistry(),
		ToolsPath:     cfg.Perf.ToolsPath,
		InputFilesDir: inputs,
		VCPUs:         cfg.Perf.VCPUs,
		Producer:      summary.ProducerInfo{Name: "docking-worker", Version: Version, GitSHA: GitSHA},
	})

	overview, err := p.Run(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	log.Printf("[main] subjob %s/%s done in %s: %d dockings, %d succeeded, %d failed, %d skipped, %d failed downloads",
		job.Workunit, job.Subjob, time.Since(start).Round(time.Second),
		overview.Counters.Dockings, overview.Counters.Succeeded, overview.Counters.Failed,
		overview.Counters.Skipped, overview.Counters.FailedDownloads)
	return nil
}

// fetchWorkUnit copies the work unit tarball into dir and extracts it,
// returning the manifest path and the scenario input files directory.
func fetchWorkUnit(ctx context.Context, cfg config.Config, dir string) (string, string, error) {
	if cfg.Worker.ManifestPath != "" {
		return cfg.Worker.ManifestPath, cfg.Worker.InputFilesDir, nil
	}

	var (
		store storage.Store
		key   string
		err   error
	)
	if cfg.ObjectStore() {
		store, err = storage.NewStore(storage.StorageConfig{
			Backend:    cfg.Storage.Mode,
			Bucket:     cfg.Storage.JobBucket,
			S3Endpoint: cfg.Storage.Endpoint,
			S3Region:   cfg.Storage.Region,
		})
		key = cfg.Storage.JobObject
	} else {
		if key, err = filepath.Abs(cfg.Storage.JobTarball); err != nil {
			return "", "", fmt.Errorf("resolve job tarball %s: %w", cfg.Storage.JobTarball, err)
		}
		store, err = storage.NewLocalStore("/", "")
	}
	if err != nil {
		return "", "", fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	tarball := filepath.Join(dir, workUnitArchive)
	info, err := store.Download(ctx, key, tarball)
	if err != nil {
		return "", "", fmt.Errorf("fetch work unit %s: %w", store.URI(key), err)
	}
	log.Printf("[main] fetched work unit %s (%s)", store.URI(key), humanize.Bytes(uint64(info.Size)))

	if _, err := archive.Extract(tarball, dir); err != nil {
		return "", "", fmt.Errorf("extract work unit: %w", err)
	}
	if err := os.Remove(tarball); err != nil {
		log.Printf("[main] failed to remove %s: %v", tarball, err)
	}

	return filepath.Join(dir, "vf_input", "config.json"), filepath.Join(dir, "vf_input", "input-files"), nil
}

// loadJob resolves the configured subjob. A missing subjob "1" is not an
// error: array jobs need at least two members even when one suffices.
func loadJob(cfg config.Config, manifestFile, inputs string) (*manifest.Job, error) {
	wu, err := manifest.Load(manifestFile)
	if err != nil {
		return nil, err
	}

	mode := manifest.ModeSharedFS
	if cfg.ObjectStore() {
		mode = manifest.ModeObject
	}

	job, err := wu.Resolve(manifest.ResolveOptions{
		Workunit:      cfg.Worker.Workunit,
		Subjob:        cfg.Worker.Subjob,
		StorageMode:   mode,
		InputFilesDir: inputs,
		Programs:      program.DefaultRegistry(),
	})
	if errors.Is(err, manifest.ErrUnknownSubjob) && cfg.Worker.Subjob == "1" {
		return nil, fmt.Errorf("%w: %v", errNothingToDo, err)
	}
	return job, err
}

// openStores opens the collection source pool and the artifact destination.
func openStores(cfg config.Config, job *manifest.Job) (*storage.Pool, storage.Store, error) {
	if !cfg.ObjectStore() {
		out, err := storage.NewLocalStore(job.WorkflowPath, "")
		if err != nil {
			return nil, nil, err
		}
		return storage.PoolFor(storage.StorageConfig{Backend: "local", LocalDir: "/"}), out, nil
	}

	base := storage.StorageConfig{
		Backend:    cfg.Storage.Mode,
		S3Endpoint: cfg.Storage.Endpoint,
		S3Region:   cfg.Storage.Region,
	}
	outCfg := base
	outCfg.Bucket = job.OutputBucket
	outCfg.Prefix = job.OutputPrefix
	out, err := storage.NewStore(outCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open output store: %w", err)
	}
	return storage.PoolFor(base), out, nil
}
