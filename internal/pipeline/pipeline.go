// Package pipeline runs the six docking stages of one subjob: download,
// unpack, collection processing, docking, aggregation and upload. Stages
// are worker pools joined by bounded channels; the first fatal error
// cancels every stage.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/program"
	"github.com/withObsrvr/docking-worker/internal/storage"
	"github.com/withObsrvr/docking-worker/internal/summary"
)

// DefaultUnpackDepth bounds how many downloaded archives may wait for
// unpacking, which caps scratch space used by prefetching.
const DefaultUnpackDepth = 35

// Options configures a pipeline run.
type Options struct {
	Job       *manifest.Job
	Workspace Workspace

	Sources StoreResolver // collection archives, by bucket
	Output  storage.Store // artifact destination

	Registry      *program.Registry
	ToolsPath     string
	InputFilesDir string
	VCPUs         int
	Producer      summary.ProducerInfo

	UnpackDepth     int
	UploadRetries   int
	UploadBackoffMs int
}

// Sizes are the worker counts of each pool.
type Sizes struct {
	Download int
	Unpack   int
	Process  int
	Docking  int
	Upload   int
}

// PoolSizes derives pool sizes from the number of compute units. Docking
// gets one worker per unit; the auxiliary pools scale with units/8.
func PoolSizes(vcpus int) Sizes {
	if vcpus < 1 {
		vcpus = 1
	}
	aux := 2 * ((vcpus + 7) / 8)
	return Sizes{
		Download: aux,
		Unpack:   aux,
		Process:  aux,
		Docking:  vcpus,
		Upload:   aux,
	}
}

// Pipeline wires the stages together.
type Pipeline struct {
	opts  Options
	sizes Sizes
	log   *slog.Logger

	aggregator *Aggregator
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	if opts.UnpackDepth < 1 {
		opts.UnpackDepth = DefaultUnpackDepth
	}
	return &Pipeline{
		opts:  opts,
		sizes: PoolSizes(opts.VCPUs),
		log:   logging.Component("pipeline"),
	}
}

// Run processes every collection of the job and returns the overview.
// It returns the first fatal error of any stage.
func (p *Pipeline) Run(ctx context.Context) (*summary.Overview, error) {
	job := p.opts.Job
	ws := p.opts.Workspace
	if err := ws.Prepare(); err != nil {
		return nil, err
	}

	groups := groupArchives(job.Collections)
	p.log.Info("starting pipeline",
		"correlation_id", logging.CorrelationID(ctx),
		"workunit", job.Workunit,
		"subjob", job.Subjob,
		"collections", len(job.Collections),
		"archives", len(groups),
		"scenarios", len(job.Scenarios),
		"tasks_per_ligand", job.TasksPerLigand(),
		"download_workers", p.sizes.Download,
		"docking_workers", p.sizes.Docking,
	)

	var (
		downloads = make(chan archiveGroup, len(groups))
		unpackQ   = make(chan *downloaded, p.opts.UnpackDepth)
		processQ  = make(chan unpacked, p.sizes.Process*2)
		taskQ     = make(chan Task, p.sizes.Docking*2)
		events    = make(chan Event, 256)
		uploads   = make(chan Artifact, 16)
	)

	g, ctx := errgroup.WithContext(ctx)

	downloader := NewDownloader(p.opts.Sources, ws)
	unpacker := NewUnpacker(job.LigandFormat)
	processor := NewProcessor(job, ws)
	docker := NewDocker(DockerConfig{
		Registry:      p.opts.Registry,
		ToolsPath:     p.opts.ToolsPath,
		InputFilesDir: p.opts.InputFilesDir,
		Threads:       job.Threads,
		LigandFormat:  job.LigandFormat,
		WithSMILES:    job.WithSMILES,
	}, ws)
	p.aggregator = NewAggregator(job, ws, p.opts.Producer, uploads)
	uploader := NewUploader(p.opts.Output, p.opts.UploadRetries, p.opts.UploadBackoffMs)

	for _, grp := range groups {
		downloads <- grp
	}
	close(downloads)

	// Events close once every stage that emits them has drained.
	var emitters sync.WaitGroup
	emitters.Add(3)
	g.Go(func() error {
		emitters.Wait()
		close(events)
		return nil
	})

	runPool(g, p.sizes.Download, func(id int) error {
		log := logging.WorkerLogger("download", id)
		return consume(ctx, downloads, "download", func(grp archiveGroup) error {
			d, err := downloader.Download(ctx, grp)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn("download failed", "source", grp.Source.String(), "error", err)
				if m := metrics.Get(); m != nil {
					m.IncDownloadsFailed()
				}
				for _, ev := range failedEvents(grp, job.TasksPerLigand(), err) {
					if err := send(ctx, events, ev); err != nil {
						return err
					}
				}
				return nil
			}
			return send(ctx, unpackQ, d)
		})
	}, func() {
		close(unpackQ)
		emitters.Done()
	})

	runPool(g, p.sizes.Unpack, func(id int) error {
		log := logging.WorkerLogger("unpack", id)
		return consume(ctx, unpackQ, "unpack", func(d *downloaded) error {
			items, err := unpacker.Unpack(d)
			if err != nil {
				log.Error("unpack failed", "source", d.Source.String(), "error", err)
				if m := metrics.Get(); m != nil {
					m.IncUnpackFailures()
				}
				if err := os.RemoveAll(d.Scratch.Dir); err != nil {
					log.Warn("failed to remove scratch", "path", d.Scratch.Dir, "error", err)
				}
				return nil
			}
			for _, item := range items {
				if err := send(ctx, processQ, item); err != nil {
					return err
				}
			}
			return nil
		})
	}, func() { close(processQ) })

	emit := func(ev Event) error { return send(ctx, events, ev) }
	enqueue := func(t Task) error { return send(ctx, taskQ, t) }
	runPool(g, p.sizes.Process, func(int) error {
		return consume(ctx, processQ, "process", func(item unpacked) error {
			return processor.Process(item, emit, enqueue)
		})
	}, func() {
		close(taskQ)
		emitters.Done()
	})

	runPool(g, p.sizes.Docking, func(int) error {
		return consume(ctx, taskQ, "docking", func(t Task) error {
			ev, err := docker.Run(ctx, t)
			if err != nil {
				return err
			}
			return send(ctx, events, ev)
		})
	}, emitters.Done)

	g.Go(func() error {
		defer close(uploads)
		return p.aggregator.Run(ctx, events)
	})

	runPool(g, p.sizes.Upload, func(int) error {
		return consume(ctx, uploads, "upload", func(a Artifact) error {
			return uploader.Upload(ctx, a)
		})
	}, func() {})

	if err := g.Wait(); err != nil {
		return p.aggregator.Overview(), err
	}
	return p.aggregator.Overview(), nil
}

// runPool starts n workers in g and calls done once all of them return.
func runPool(g *errgroup.Group, n int, worker func(id int) error, done func()) {
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			defer wg.Done()
			return worker(i)
		})
	}
	g.Go(func() error {
		wg.Wait()
		done()
		return nil
	})
}

// consume calls fn for every value received on in until it is closed.
func consume[T any](ctx context.Context, in <-chan T, stage string, fn func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-in:
			if !ok {
				return nil
			}
			if m := metrics.Get(); m != nil {
				m.SetQueueDepth(stage, len(in))
			}
			if err := fn(v); err != nil {
				return err
			}
		}
	}
}

func send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
