package summary

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Collection outcomes recorded in the overview.
const (
	OutcomeArchived       = "archived"
	OutcomeDownloadFailed = "download_failed"
	OutcomeIncomplete     = "incomplete"
)

// Overview is the per-subjob report, written even when no work was done.
type Overview struct {
	Workunit    string              `json:"workunit"`
	Subjob      string              `json:"subjob"`
	JobLetter   string              `json:"job_letter,omitempty"`
	Producer    ProducerInfo        `json:"producer"`
	Counters    Counters            `json:"counters"`
	Collections []CollectionOutcome `json:"collections"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// ProducerInfo describes the software that produced the artifacts.
type ProducerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	GitSHA  string `json:"git_sha,omitempty"`
}

// Counters are the global tallies kept by the aggregator.
type Counters struct {
	Dockings        int `json:"dockings"`
	Succeeded       int `json:"succeeded"`
	Failed          int `json:"failed"`
	Skipped         int `json:"skipped"`
	FailedDownloads int `json:"failed_downloads"`
	LostDockings    int `json:"lost_dockings"`
}

// CollectionOutcome is the final state of one collection.
type CollectionOutcome struct {
	Key       string `json:"key"`
	Outcome   string `json:"outcome"`
	Expected  int    `json:"expected_completions"`
	Completed int    `json:"current_completions"`
}

// WriteFile writes the overview as indented JSON using temp file + rename.
func (o *Overview) WriteFile(path string) error {
	if o.Collections == nil {
		o.Collections = []CollectionOutcome{}
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal overview: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}
	return nil
}
