package manifest

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/docking-worker/internal/addressing"
)

// Selection chooses which members of a collection archive become ligands.
type Selection string

const (
	SelectAll    Selection = "all"
	SelectNamed  Selection = "named"
	SelectSparse Selection = "sparse"
)

// Summary output formats.
const (
	FormatText    = "txt.gz"
	FormatCSV     = "csv.gz"
	FormatParquet = "parquet"
)

// Storage modes.
const (
	ModeObject   = "object"
	ModeSharedFS = "sharedfs"
)

// Job is the resolved, read-only configuration of one subjob. Stages receive
// it by pointer and never modify it.
type Job struct {
	Workunit string
	Subjob   string

	JobLetter     string
	StorageMode   string
	Scenarios     []Scenario
	Timeout       time.Duration
	Threads       int
	LigandFormat  string
	WithSMILES    bool
	CheckElements bool

	SummaryFormats []string

	// Output destination
	Output       addressing.OutputLayout
	OutputBucket string
	OutputPrefix string
	WorkflowPath string // shared-filesystem output root

	Collections []Collection
}

// Scenario is one docking configuration applied to every ligand.
type Scenario struct {
	Name        string
	Program     string // adapter name
	ProgramLong string // name as written in the manifest
	Replicas    int
	ConfigPath  string
}

// Source locates a collection archive.
type Source struct {
	Bucket string // empty in shared-filesystem mode
	Path   string
}

// String returns a printable location.
func (s Source) String() string {
	if s.Bucket == "" {
		return s.Path
	}
	return s.Bucket + "/" + s.Path
}

// Collection is one logical collection to dock.
type Collection struct {
	Key         string
	Ref         addressing.Ref
	FullName    string
	LigandCount int
	Source      Source

	Selection    Selection
	Ligands      []string // named selection
	SparseCutoff int      // sparse selection
}

// TasksPerLigand is the number of docking tasks one accepted ligand expands
// into: the sum of replicas across scenarios.
func (j *Job) TasksPerLigand() int {
	n := 0
	for _, s := range j.Scenarios {
		n += s.Replicas
	}
	return n
}

// Scenario returns the scenario with the given name.
func (j *Job) Scenario(name string) (Scenario, bool) {
	for _, s := range j.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// Collection returns the collection with the given key.
func (j *Job) Collection(key string) (Collection, bool) {
	for _, c := range j.Collections {
		if c.Key == key {
			return c, true
		}
	}
	return Collection{}, false
}

// ProgramResolver maps a manifest program name to an adapter name.
type ProgramResolver interface {
	Resolve(name string) (string, error)
}

// ResolveOptions carries the worker-side context needed to resolve a subjob.
type ResolveOptions struct {
	Workunit      string
	Subjob        string
	StorageMode   string // ModeObject | ModeSharedFS
	InputFilesDir string // extracted vf_input/input-files
	Programs      ProgramResolver
}

// Resolve validates the work unit and builds the Job for one subjob.
func (w *WorkUnit) Resolve(opts ResolveOptions) (*Job, error) {
	sub, ok := w.Subjobs[opts.Subjob]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubjob, opts.Subjob)
	}
	cfg := w.Config

	job := &Job{
		Workunit:      opts.Workunit,
		Subjob:        opts.Subjob,
		JobLetter:     cfg.JobLetter,
		StorageMode:   opts.StorageMode,
		Threads:       cfg.ThreadsPerDocking.Or(1),
		LigandFormat:  cfg.LigandFormat,
		WithSMILES:    cfg.PrintSMILES.Or(0) == 1,
		CheckElements: cfg.CheckElements == nil || *cfg.CheckElements,
		WorkflowPath:  cfg.SharedFSWorkflowPath,
		OutputBucket:  cfg.JobBucket,
	}

	if job.LigandFormat == "" {
		return nil, fmt.Errorf("%w: ligand_library_format is required", ErrInvalidManifest)
	}
	if job.Threads < 1 {
		return nil, fmt.Errorf("%w: threads_per_docking must be positive", ErrInvalidManifest)
	}

	timeout := cfg.ProgramTimeout.Or(0)
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: program_timeout must be positive", ErrInvalidManifest)
	}
	job.Timeout = time.Duration(timeout) * time.Second

	scenarios, err := resolveScenarios(cfg, opts)
	if err != nil {
		return nil, err
	}
	job.Scenarios = scenarios

	formats, err := resolveFormats(cfg.SummaryFormats)
	if err != nil {
		return nil, err
	}
	job.SummaryFormats = formats

	outMode, err := addressing.ParseMode(cfg.JobAddressingMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	job.Output = addressing.OutputLayout{Mode: outMode, JobLetter: cfg.JobLetter}
	job.OutputPrefix = cfg.JobPrefixFull
	if outMode == addressing.Hash {
		job.OutputPrefix = cfg.JobPrefix
	}

	switch opts.StorageMode {
	case ModeObject:
		if job.OutputBucket == "" {
			return nil, fmt.Errorf("%w: object_store_job_bucket is required", ErrInvalidManifest)
		}
	case ModeSharedFS:
		if job.WorkflowPath == "" {
			return nil, fmt.Errorf("%w: sharedfs_workflow_path is required", ErrInvalidManifest)
		}
	default:
		return nil, fmt.Errorf("%w: unknown storage mode %q", ErrInvalidManifest, opts.StorageMode)
	}

	inMode, err := addressing.ParseMode(cfg.DataAddressingMode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	input := addressing.InputLayout{
		Mode:       inMode,
		Prefix:     cfg.DataPrefix,
		Identifier: cfg.DataIdentifier,
		Format:     cfg.LigandFormat,
	}
	if opts.StorageMode == ModeSharedFS {
		input.Prefix = cfg.SharedFSDataPath
	}

	keys := make([]string, 0, len(sub.Collections))
	for key := range sub.Collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c, err := resolveCollection(key, sub.Collections[key], cfg, input, opts.StorageMode)
		if err != nil {
			return nil, err
		}
		job.Collections = append(job.Collections, c)
	}

	return job, nil
}

func resolveScenarios(cfg Settings, opts ResolveOptions) ([]Scenario, error) {
	n := len(cfg.ScenarioNames)
	if n == 0 {
		return nil, fmt.Errorf("%w: no docking scenarios", ErrInvalidManifest)
	}
	if len(cfg.ScenarioPrograms) != n || len(cfg.ScenarioReplicas) != n || len(cfg.ScenarioInputFolders) != n {
		return nil, fmt.Errorf("%w: scenario names, programs, replicas and input folders differ in length", ErrInvalidManifest)
	}

	seen := make(map[string]bool, n)
	out := make([]Scenario, 0, n)
	for i, name := range cfg.ScenarioNames {
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate scenario %q", ErrInvalidManifest, name)
		}
		seen[name] = true

		replicas := cfg.ScenarioReplicas[i].Or(0)
		if replicas < 1 {
			return nil, fmt.Errorf("%w: scenario %q needs at least one replica", ErrInvalidManifest, name)
		}

		long := cfg.ScenarioPrograms[i]
		program := long
		if opts.Programs != nil {
			resolved, err := opts.Programs.Resolve(long)
			if err != nil {
				return nil, fmt.Errorf("scenario %q: %w", name, err)
			}
			program = resolved
		}

		out = append(out, Scenario{
			Name:        name,
			Program:     program,
			ProgramLong: long,
			Replicas:    replicas,
			ConfigPath:  filepath.Join(opts.InputFilesDir, cfg.ScenarioInputFolders[i], "config.txt"),
		})
	}
	return out, nil
}

func resolveFormats(formats FlexList) ([]string, error) {
	if len(formats) == 0 {
		return []string{FormatText}, nil
	}
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		switch f {
		case FormatText, FormatCSV, FormatParquet:
			out = append(out, f)
		default:
			return nil, fmt.Errorf("%w: unsupported summary format %q", ErrInvalidManifest, f)
		}
	}
	return out, nil
}

func resolveCollection(key string, spec CollectionSpec, cfg Settings, input addressing.InputLayout, mode string) (Collection, error) {
	ref, err := parseRef(key, spec)
	if err != nil {
		return Collection{}, err
	}

	c := Collection{
		Key:          key,
		Ref:          ref,
		FullName:     spec.FullName,
		LigandCount:  spec.Count.Or(spec.LigandCount.Or(0)),
		Selection:    Selection(spec.Selection),
		Ligands:      spec.Ligands,
		SparseCutoff: spec.SparseCutoff.Or(0),
	}
	if c.FullName == "" {
		c.FullName = key
	}
	if c.LigandCount < 0 {
		return Collection{}, fmt.Errorf("%w: collection %s has negative ligand count", ErrInvalidManifest, key)
	}

	switch c.Selection {
	case "":
		c.Selection = SelectAll
	case SelectAll:
	case SelectNamed:
		if len(c.Ligands) == 0 {
			return Collection{}, fmt.Errorf("%w: collection %s uses named selection without ligands", ErrInvalidManifest, key)
		}
	case SelectSparse:
		if c.SparseCutoff <= 0 {
			return Collection{}, fmt.Errorf("%w: collection %s uses sparse selection without a positive sparse_cutoff", ErrInvalidManifest, key)
		}
	default:
		return Collection{}, fmt.Errorf("%w: collection %s has unknown selection %q", ErrInvalidManifest, key, spec.Selection)
	}

	if mode == ModeSharedFS {
		c.Source.Path = spec.SharedFSPath
	} else {
		c.Source.Bucket = spec.S3Bucket
		if c.Source.Bucket == "" {
			c.Source.Bucket = cfg.DataBucket
		}
		c.Source.Path = spec.S3Path
		if c.Source.Bucket == "" {
			return Collection{}, fmt.Errorf("%w: collection %s has no bucket", ErrInvalidManifest, key)
		}
	}
	if c.Source.Path == "" {
		c.Source.Path = input.ArchivePath(ref)
	}

	return c, nil
}

// parseRef reads name and number from the entry, falling back to the
// "<name>_<number>" form of the key.
func parseRef(key string, spec CollectionSpec) (addressing.Ref, error) {
	name := spec.Name
	number := spec.Number.Value
	hasNumber := spec.Number.Set

	if name == "" || !hasNumber {
		i := strings.Index(key, "_")
		if i <= 0 || i == len(key)-1 {
			return addressing.Ref{}, fmt.Errorf("%w: collection key %q is not <name>_<number>", ErrInvalidManifest, key)
		}
		if name == "" {
			name = key[:i]
		}
		if !hasNumber {
			n, err := strconv.Atoi(key[i+1:])
			if err != nil {
				return addressing.Ref{}, fmt.Errorf("%w: collection key %q has non-numeric number", ErrInvalidManifest, key)
			}
			number = n
		}
	}

	return addressing.Ref{Name: name, Number: number}, nil
}
