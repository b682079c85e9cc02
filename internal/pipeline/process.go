package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/withObsrvr/docking-worker/internal/ligand"
	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
	"github.com/withObsrvr/docking-worker/internal/metrics"
)

// Processor validates the ligands of a collection and expands the accepted
// ones into docking tasks.
type Processor struct {
	job       *manifest.Job
	workspace Workspace
	log       *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(job *manifest.Job, ws Workspace) *Processor {
	return &Processor{job: job, workspace: ws, log: logging.Component("processor")}
}

// Process handles one logical collection. Skips are emitted as they are
// found. The collection is registered with its expected completion count
// before any of its tasks is enqueued, so completions can never outrun the
// registration.
func (p *Processor) Process(item unpacked, emit func(Event) error, enqueue func(Task) error) error {
	c := item.Collection
	log := p.log.With("collection", c.Key)

	opts := ligand.CheckOptions{DisallowedElements: p.job.CheckElements}
	var accepted []ligand.Record
	skipped := 0

	for _, rec := range item.Ligands {
		rej, err := ligand.Validate(rec.Path, opts)
		if err != nil {
			rej = &ligand.Rejection{Status: "failed(ligand_unreadable)", Info: err.Error()}
		}
		if rej == nil {
			accepted = append(accepted, rec)
			continue
		}

		skipped++
		log.Debug("ligand skipped", "ligand", rec.Name, "reason", rej.Status)
		if m := metrics.Get(); m != nil {
			m.IncSkipped(rej.Status)
		}
		if err := emit(Event{
			Kind:       EventSkip,
			Collection: c.Key,
			Ligand:     rec.Name,
			Status:     StatusFailed,
			Reason:     rej.Status,
			Info:       rej.Info,
		}); err != nil {
			return err
		}
	}

	for _, s := range p.job.Scenarios {
		for _, kind := range []string{kindResults, kindLogfiles} {
			dir := p.workspace.Incomplete(c.Key, s.Name, kind)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}

	expected := len(accepted)*p.job.TasksPerLigand() + skipped
	if err := emit(Event{
		Kind:       EventDelete,
		Collection: c.Key,
		Count:      expected,
		Scratch:    item.Scratch,
	}); err != nil {
		return err
	}

	log.Info("collection processed",
		"ligands", len(item.Ligands),
		"accepted", len(accepted),
		"skipped", skipped,
		"tasks", len(accepted)*p.job.TasksPerLigand(),
	)

	for _, rec := range accepted {
		for _, s := range p.job.Scenarios {
			for replica := 0; replica < s.Replicas; replica++ {
				if err := enqueue(p.task(c.Key, rec, s, replica)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (p *Processor) task(collection string, rec ligand.Record, s manifest.Scenario, replica int) Task {
	name := fmt.Sprintf("%s_replica-%d", rec.Name, replica)
	base := filepath.Join(p.workspace.Incomplete(collection, s.Name, kindResults), name)
	return Task{
		Collection: collection,
		Ligand:     rec.Name,
		LigandPath: rec.Path,
		Scenario:   s,
		Replica:    replica,
		Timeout:    p.job.Timeout,
		OutputPath: base + "." + p.job.LigandFormat,
		OutputBase: base,
		LogPath:    filepath.Join(p.workspace.Incomplete(collection, s.Name, kindLogfiles), name),
	}
}
