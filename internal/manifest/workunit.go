// Package manifest decodes work unit manifests and resolves one subjob into
// the immutable Job value shared by every pipeline stage.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidManifest is returned for structurally invalid manifests.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrUnknownSubjob is returned when the requested subjob is absent.
	ErrUnknownSubjob = errors.New("subjob not found in work unit")
)

// WorkUnit is the decoded work unit document. JSON manifests are valid YAML
// and decode through the same path.
type WorkUnit struct {
	Config  Settings          `yaml:"config"`
	Subjobs map[string]Subjob `yaml:"subjobs"`
}

// Subjob lists the collections assigned to one worker invocation.
type Subjob struct {
	Collections map[string]CollectionSpec `yaml:"collections"`
}

// Settings holds the job-wide configuration block.
type Settings struct {
	JobLetter string `yaml:"job_letter"`

	ScenarioNames        []string  `yaml:"docking_scenario_names"`
	ScenarioPrograms     []string  `yaml:"docking_scenario_programs"`
	ScenarioReplicas     []FlexInt `yaml:"docking_scenario_replicas"`
	ScenarioInputFolders []string  `yaml:"docking_scenario_inputfolders"`

	ProgramTimeout    FlexInt  `yaml:"program_timeout"`
	ThreadsPerDocking FlexInt  `yaml:"threads_per_docking"`
	LigandFormat      string   `yaml:"ligand_library_format"`
	PrintSMILES       FlexInt  `yaml:"print_smi_in_summary"`
	SummaryFormats    FlexList `yaml:"summary_formats"`
	CheckElements     *bool    `yaml:"check_disallowed_elements"`

	JobAddressingMode    string `yaml:"object_store_job_addressing_mode"`
	JobPrefix            string `yaml:"object_store_job_prefix"`
	JobPrefixFull        string `yaml:"object_store_job_prefix_full"`
	JobBucket            string `yaml:"object_store_job_bucket"`
	SharedFSWorkflowPath string `yaml:"sharedfs_workflow_path"`

	DataAddressingMode string `yaml:"object_store_data_collection_addressing_mode"`
	DataPrefix         string `yaml:"object_store_data_collection_prefix"`
	DataIdentifier     string `yaml:"object_store_data_collection_identifier"`
	DataBucket         string `yaml:"object_store_data_bucket"`
	SharedFSDataPath   string `yaml:"sharedfs_collection_path"`
}

// CollectionSpec is one collection entry of a subjob.
type CollectionSpec struct {
	Name     string  `yaml:"collection_name"`
	Number   FlexInt `yaml:"collection_number"`
	FullName string  `yaml:"collection_full_name"`

	Count       FlexInt `yaml:"count"`
	LigandCount FlexInt `yaml:"ligand_count"`

	S3Bucket     string `yaml:"s3_bucket"`
	S3Path       string `yaml:"s3_download_path"`
	SharedFSPath string `yaml:"sharedfs_path"`

	Selection    string   `yaml:"selection"`
	Ligands      []string `yaml:"ligands"`
	SparseCutoff FlexInt  `yaml:"sparse_cutoff"`
}

// FlexInt decodes from either a number or a numeric string.
type FlexInt struct {
	Value int
	Set   bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlexInt) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected integer", node.Line)
	}
	s := strings.TrimSpace(node.Value)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("line %d: parse integer %q: %w", node.Line, node.Value, err)
	}
	f.Value, f.Set = v, true
	return nil
}

// Or returns the value, or def when the field was absent.
func (f FlexInt) Or(def int) int {
	if !f.Set {
		return def
	}
	return f.Value
}

// FlexList decodes from a sequence or a comma-separated string.
type FlexList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *FlexList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var out []string
		for _, part := range strings.Split(node.Value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("line %d: expected list or string", node.Line)
	}
}

// Parse decodes a work unit document.
func Parse(data []byte) (*WorkUnit, error) {
	var wu WorkUnit
	if err := yaml.Unmarshal(data, &wu); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if len(wu.Subjobs) == 0 {
		return nil, fmt.Errorf("%w: no subjobs", ErrInvalidManifest)
	}
	return &wu, nil
}

// Load reads and decodes a work unit document from disk.
func Load(path string) (*WorkUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return Parse(data)
}
