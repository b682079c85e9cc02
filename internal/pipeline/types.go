package pipeline

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/withObsrvr/docking-worker/internal/ligand"
	"github.com/withObsrvr/docking-worker/internal/manifest"
)

// EventKind tags a completion event.
type EventKind int

const (
	EventDockingComplete EventKind = iota
	EventSkip
	EventDownloadFailed
	EventDelete
)

func (k EventKind) String() string {
	switch k {
	case EventDockingComplete:
		return "docking_complete"
	case EventSkip:
		return "skip"
	case EventDownloadFailed:
		return "download_failed"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Status is the outcome of a docking task.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Event is the only value that flows back to the aggregator. It carries
// keys and summary fields; only delete events carry a scratch handle.
type Event struct {
	Kind       EventKind
	Collection string

	Ligand   string
	Scenario string
	Replica  int
	Status   Status
	Reason   string // listing form of a failure, e.g. "failed(timeout)"
	Info     string
	Score    *float64
	Seconds  float64
	SMILES   string

	// Count is the expected completion count for delete events and the
	// number of dockings lost for download_failed events.
	Count   int
	Scratch *Scratch
}

// Task is one external program invocation. Immutable once created.
type Task struct {
	Collection string
	Ligand     string
	LigandPath string
	Scenario   manifest.Scenario
	Replica    int
	Timeout    time.Duration

	OutputPath string
	OutputBase string
	LogPath    string
}

// Scratch is the directory an archive was unpacked into. Every logical
// collection cut from the archive holds one reference; the last Release
// removes the directory.
type Scratch struct {
	Dir  string
	refs atomic.Int32
}

func newScratch(dir string, refs int) *Scratch {
	s := &Scratch{Dir: dir}
	s.refs.Store(int32(refs))
	return s
}

// Release drops one reference.
func (s *Scratch) Release() error {
	if s == nil {
		return nil
	}
	if s.refs.Add(-1) == 0 {
		return os.RemoveAll(s.Dir)
	}
	return nil
}

// Artifact is a finished local file awaiting upload. Staging is removed
// once the upload succeeds.
type Artifact struct {
	Path    string
	Key     string
	Staging string
}

// archiveGroup is one physical archive and the logical collections it
// serves. Only sparse selections share an archive.
type archiveGroup struct {
	Source      manifest.Source
	Collections []manifest.Collection
}

type downloaded struct {
	archiveGroup
	Archive string
	Scratch *Scratch
}

type unpacked struct {
	Collection manifest.Collection
	Ligands    []ligand.Record
	Scratch    *Scratch
}

// Workspace lays out the worker's scratch area.
type Workspace struct {
	Root string
}

func (w Workspace) Downloads() string { return filepath.Join(w.Root, "downloads") }
func (w Workspace) Tasks() string     { return filepath.Join(w.Root, "tasks") }
func (w Workspace) Staging() string   { return filepath.Join(w.Root, "staging") }

// Incomplete is where a collection's outputs accumulate while docking.
func (w Workspace) Incomplete(collection, scenario, kind string) string {
	return filepath.Join(w.Root, "incomplete", collection, scenario, kind)
}

// Complete is where outputs move once their collection is archived.
func (w Workspace) Complete(scenario, kind, collection string) string {
	return filepath.Join(w.Root, "output-files", scenario, kind, collection)
}

// Prepare creates the base directories.
func (w Workspace) Prepare() error {
	for _, dir := range []string{w.Downloads(), w.Tasks(), w.Staging()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Result kinds kept per (scenario, collection).
const (
	kindResults  = "results"
	kindLogfiles = "logfiles"
)
