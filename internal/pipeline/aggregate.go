package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/docking-worker/internal/archive"
	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
	"github.com/withObsrvr/docking-worker/internal/metrics"
	"github.com/withObsrvr/docking-worker/internal/summary"
)

// Aggregator is the single consumer of completion events. It owns every
// counter, record and tracker entry, so none of them is locked.
type Aggregator struct {
	job       *manifest.Job
	workspace Workspace
	producer  summary.ProducerInfo
	uploads   chan<- Artifact

	tracker  *Tracker
	counters summary.Counters
	// scenario -> collection -> ligand
	records  map[string]map[string]map[string]*summary.Record
	entries  map[string][]summary.Entry
	archived []*Completion
	lost     map[string]int

	startedAt time.Time
	overview  *summary.Overview
	log       *slog.Logger
}

// NewAggregator creates an aggregator that hands artifacts to uploads.
func NewAggregator(job *manifest.Job, ws Workspace, producer summary.ProducerInfo, uploads chan<- Artifact) *Aggregator {
	return &Aggregator{
		job:       job,
		workspace: ws,
		producer:  producer,
		uploads:   uploads,
		tracker:   NewTracker(),
		records:   make(map[string]map[string]map[string]*summary.Record),
		entries:   make(map[string][]summary.Entry),
		lost:      make(map[string]int),
		startedAt: time.Now().UTC(),
		log:       logging.Component("aggregator"),
	}
}

// Run consumes events until the channel is closed, then emits the end of
// run artifacts.
func (a *Aggregator) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return a.finish(ctx)
			}
			if err := a.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

// Overview returns the overview built at the end of Run.
func (a *Aggregator) Overview() *summary.Overview {
	return a.overview
}

func (a *Aggregator) handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventDockingComplete:
		a.counters.Dockings++
		if ev.Status == StatusSuccess {
			a.counters.Succeeded++
			a.record(ev)
		} else {
			a.counters.Failed++
		}
		replica, seconds := ev.Replica, ev.Seconds
		a.entries[ev.Collection] = append(a.entries[ev.Collection], summary.Entry{
			Ligand:   ev.Ligand,
			Scenario: ev.Scenario,
			Replica:  &replica,
			Status:   string(ev.Status),
			Seconds:  &seconds,
			Score:    ev.Score,
			Info:     ev.Info,
			Listing:  ev.Reason,
		})
		return a.complete(ctx, ev.Collection)

	case EventSkip:
		a.counters.Skipped++
		a.entries[ev.Collection] = append(a.entries[ev.Collection], summary.Entry{
			Ligand:  ev.Ligand,
			Status:  string(StatusFailed),
			Info:    ev.Info,
			Listing: ev.Reason,
		})
		return a.complete(ctx, ev.Collection)

	case EventDownloadFailed:
		a.counters.FailedDownloads++
		a.counters.LostDockings += ev.Count
		a.lost[ev.Collection] = ev.Count
		a.log.Warn("collection lost", "collection", ev.Collection, "dockings", ev.Count, "error", ev.Info)
		return nil

	case EventDelete:
		done, err := a.tracker.Register(ev.Collection, ev.Count, ev.Scratch)
		if err != nil {
			return err
		}
		a.updatePending()
		if done != nil {
			return a.archive(ctx, done)
		}
		return nil

	default:
		return fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

func (a *Aggregator) record(ev Event) {
	byCollection, ok := a.records[ev.Scenario]
	if !ok {
		byCollection = make(map[string]map[string]*summary.Record)
		a.records[ev.Scenario] = byCollection
	}
	byLigand, ok := byCollection[ev.Collection]
	if !ok {
		byLigand = make(map[string]*summary.Record)
		byCollection[ev.Collection] = byLigand
	}
	r, ok := byLigand[ev.Ligand]
	if !ok {
		r = summary.NewRecord(ev.Ligand)
		byLigand[ev.Ligand] = r
	}
	r.Add(ev.Replica, *ev.Score, ev.SMILES)
}

func (a *Aggregator) complete(ctx context.Context, key string) error {
	done, err := a.tracker.Complete(key)
	if err != nil {
		return err
	}
	a.updatePending()
	if done == nil {
		return nil
	}
	return a.archive(ctx, done)
}

func (a *Aggregator) updatePending() {
	if m := metrics.Get(); m != nil {
		m.SetPendingCollections(a.tracker.Pending())
	}
}

// archive moves a finished collection's outputs out of the incomplete
// tree, drops its scratch reference and ships its status listing and
// event log.
func (a *Aggregator) archive(ctx context.Context, done *Completion) error {
	key := done.Key
	coll, ok := a.job.Collection(key)
	if !ok {
		return fmt.Errorf("archive unknown collection %s", key)
	}
	log := logging.CollectionLogger(logging.CorrelationID(ctx), key)

	for _, s := range a.job.Scenarios {
		for _, kind := range []string{kindResults, kindLogfiles} {
			src := a.workspace.Incomplete(key, s.Name, kind)
			dst := a.workspace.Complete(s.Name, kind, key)
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
			}
			if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("move %s: %w", src, err)
			}
		}
	}
	if err := os.RemoveAll(filepath.Join(a.workspace.Root, "incomplete", key)); err != nil {
		log.Warn("failed to remove incomplete dir", "error", err)
	}
	if err := done.Scratch.Release(); err != nil {
		log.Warn("failed to remove scratch", "error", err)
	}

	a.archived = append(a.archived, done)
	log.Info("collection archived", "completions", done.Count)
	if m := metrics.Get(); m != nil {
		m.IncArchived()
	}

	entries := a.entries[key]
	delete(a.entries, key)

	num := coll.Ref.FormattedNumber()
	if err := a.emit(ctx, num+".status.gz", a.job.Output.CollectionArtifact("ligand-lists", coll.Ref, ".status.gz"),
		func(path string) error { return summary.WriteStatus(path, entries) }); err != nil {
		return err
	}
	return a.emit(ctx, num+".json.gz", a.job.Output.CollectionArtifact("ligand-lists", coll.Ref, ".json.gz"),
		func(path string) error { return summary.WriteEventLog(path, entries) })
}

// emit writes one artifact into a fresh staging directory and queues it
// for upload.
func (a *Aggregator) emit(ctx context.Context, name, key string, write func(path string) error) error {
	dir := filepath.Join(a.workspace.Staging(), uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := write(path); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("write %s: %w", name, err)
	}
	return send(ctx, a.uploads, Artifact{Path: path, Key: key, Staging: dir})
}

func (a *Aggregator) finish(ctx context.Context) error {
	if a.counters.Dockings > 0 {
		for _, done := range a.archived {
			if err := a.finishCollection(ctx, done.Key); err != nil {
				return err
			}
		}
	}

	a.overview = a.buildOverview()
	a.log.Info("subjob finished",
		"dockings", a.counters.Dockings,
		"succeeded", a.counters.Succeeded,
		"failed", a.counters.Failed,
		"skipped", a.counters.Skipped,
		"failed_downloads", a.counters.FailedDownloads,
		"archived", len(a.archived),
	)
	return a.emit(ctx, a.job.Workunit+"-"+a.job.Subjob+".json", a.job.Output.Overview(a.job.Workunit, a.job.Subjob),
		a.overview.WriteFile)
}

func (a *Aggregator) finishCollection(ctx context.Context, key string) error {
	coll, _ := a.job.Collection(key)
	num := coll.Ref.FormattedNumber()

	for _, s := range a.job.Scenarios {
		for _, kind := range []string{kindResults, kindLogfiles} {
			src := a.workspace.Complete(s.Name, kind, key)
			if err := os.MkdirAll(src, 0755); err != nil {
				return fmt.Errorf("create %s: %w", src, err)
			}
			err := a.emit(ctx, num+".tar.gz", a.job.Output.ScenarioArtifact(s.Name, kind, coll.Ref, ".tar.gz"),
				func(path string) error { return archive.Create(src, num, path) })
			if err != nil {
				return err
			}
			if err := os.RemoveAll(src); err != nil {
				a.log.Warn("failed to remove archived outputs", "path", src, "error", err)
			}
		}

		table := &summary.Table{
			Scenario:   s.Name,
			Collection: coll.FullName,
			Ref:        coll.Ref,
			Source:     coll.Source.String(),
			Replicas:   s.Replicas,
			WithSMILES: a.job.WithSMILES,
		}
		for _, r := range a.records[s.Name][key] {
			table.Records = append(table.Records, r)
		}
		for _, format := range a.job.SummaryFormats {
			err := a.emit(ctx, summary.FileName(format, coll.Ref), a.job.Output.ScenarioArtifact(s.Name, "summaries", coll.Ref, "."+format),
				func(path string) error { return summary.Write(format, path, table) })
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Aggregator) buildOverview() *summary.Overview {
	archived := make(map[string]int, len(a.archived))
	for _, done := range a.archived {
		archived[done.Key] = done.Count
	}
	unfinished := make(map[string]Progress)
	for _, p := range a.tracker.Unfinished() {
		unfinished[p.Key] = p
	}

	o := &summary.Overview{
		Workunit:   a.job.Workunit,
		Subjob:     a.job.Subjob,
		JobLetter:  a.job.JobLetter,
		Producer:   a.producer,
		Counters:   a.counters,
		StartedAt:  a.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	for _, c := range a.job.Collections {
		out := summary.CollectionOutcome{Key: c.Key}
		if n, ok := archived[c.Key]; ok {
			out.Outcome = summary.OutcomeArchived
			out.Expected, out.Completed = n, n
		} else if n, ok := a.lost[c.Key]; ok {
			out.Outcome = summary.OutcomeDownloadFailed
			out.Expected = n
		} else {
			out.Outcome = summary.OutcomeIncomplete
			if p, ok := unfinished[c.Key]; ok {
				out.Expected, out.Completed = p.Expected, p.Current
			}
		}
		o.Collections = append(o.Collections, out)
	}
	return o
}
