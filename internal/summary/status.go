package summary

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Entry is one line of a collection's status listing and JSON event log.
type Entry struct {
	Ligand   string   `json:"ligand"`
	Scenario string   `json:"scenario_key,omitempty"`
	Replica  *int     `json:"replica_index,omitempty"`
	Status   string   `json:"status"` // "success" | "failed"
	Seconds  *float64 `json:"seconds,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Info     string   `json:"info,omitempty"`

	// Listing is the status column of the plain text listing, for example
	// "succeeded" or "failed(ligand_coordinates)".
	Listing string `json:"-"`
}

// Line renders the entry for the plain text status listing.
func (e Entry) Line() string {
	if e.Replica == nil {
		return e.Ligand + " " + e.Listing
	}
	line := fmt.Sprintf("%s %s %d %s", e.Ligand, e.Scenario, *e.Replica, e.Listing)
	if e.Seconds != nil {
		line += fmt.Sprintf(" total-time:%.2f", *e.Seconds)
	}
	return line
}

// WriteStatus writes the gzip-compressed plain text status listing.
func WriteStatus(path string, entries []Entry) error {
	f, zw, err := createGzip(path)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Line())
		b.WriteByte('\n')
	}
	if _, err := zw.Write([]byte(b.String())); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return closeGzip(f, zw)
}

// WriteEventLog writes the gzip-compressed JSON event log.
func WriteEventLog(path string, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal event log: %w", err)
	}

	f, zw, err := createGzip(path)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return closeGzip(f, zw)
}
