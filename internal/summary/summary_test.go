package summary

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/docking-worker/internal/addressing"
)

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func sampleTable() *Table {
	a := NewRecord("Z100")
	a.Add(2, -6.0, "CCO")
	a.Add(0, -8.0, "")
	// replica 1 failed and is absent

	b := NewRecord("Z050")
	b.Add(0, -5.5, "CCN")
	b.Add(1, -4.5, "CCN")
	b.Add(2, -5.0, "CCN")

	failed := NewRecord("Z999") // no successful replica

	return &Table{
		Scenario:   "qvina",
		Collection: "AACDEF_0000042",
		Ref:        addressing.Ref{Name: "AACDEF", Number: 42},
		Source:     "libraries/AACDEF/42.tar.gz",
		Replicas:   3,
		WithSMILES: true,
		Records:    []*Record{a, b, failed},
	}
}

func TestRecordStatsIgnoreFailedReplicas(t *testing.T) {
	r := NewRecord("lig")
	r.Add(3, -7.0, "")
	r.Add(0, -9.0, "")
	r.Add(1, -8.0, "")

	st := r.Stats()
	if st.Count != 3 || st.Minimum != -9.0 || st.Maximum != -7.0 || st.Average != -8.0 {
		t.Errorf("Stats() = %+v", st)
	}

	scores := r.Scores()
	if len(scores) != 3 || scores[0] != -9.0 || scores[2] != -7.0 {
		t.Errorf("Scores() not in replica order: %v", scores)
	}

	if empty := NewRecord("none").Stats(); empty.Count != 0 {
		t.Errorf("expected zero count for record without scores, got %+v", empty)
	}
}

func TestRecordKeepsFirstAttributes(t *testing.T) {
	r := NewRecord("lig")
	r.Add(0, -1, "")
	r.Add(1, -1, "C1CC1")
	r.Add(2, -1, "OTHER")
	if r.SMILES != "C1CC1" {
		t.Errorf("SMILES = %q", r.SMILES)
	}
}

func TestWriteText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000042.txt.gz")
	if err := WriteText(path, sampleTable()); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(readGzip(t, path)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if lines[0] != "Tranche Compound SMILES average-score maximum-score number-of-dockings score-replica-0 score-replica-1 score-replica-2" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "AACDEF_0000042 Z050 CCN -5.0 -4.5 3 -5.5 -4.5 -5.0" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != "AACDEF_0000042 Z100 CCO -7.0 -6.0 2 -8.0 - -6.0" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000042.csv.gz")
	if err := WriteCSV(path, sampleTable()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewBufferString(readGzip(t, path))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 csv rows, got %d", len(rows))
	}

	header := rows[0]
	if header[2] != "tranche_0" || header[7] != "tranche_5" || header[8] != "compound" {
		t.Errorf("unexpected header %v", header)
	}
	z100 := rows[2]
	if z100[2] != "A" || z100[4] != "C" || z100[8] != "Z100" {
		t.Errorf("unexpected row %v", z100)
	}
	// minimum_score and the missing replica column
	if z100[12] != "-8" || z100[15] != "" {
		t.Errorf("unexpected score columns %v", z100[10:])
	}
}

func TestWriteParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0000042.parquet")
	if err := WriteParquet(path, sampleTable()); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}

	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	z100 := rows[1]
	if z100.Compound != "Z100" || z100.MinimumScore != -8.0 || z100.MaximumScore != -6.0 || z100.NumberOfDockings != 2 {
		t.Errorf("unexpected row %+v", z100)
	}
	if z100.CollectionNumber != 42 || z100.SMILES != "CCO" {
		t.Errorf("unexpected attributes %+v", z100)
	}
	checkReplicaSlots(t, z100.ReplicaScores, []*float64{ptr(-8.0), nil, ptr(-6.0)})
}

func TestWriteParquetKeepsReplicaPositions(t *testing.T) {
	r := NewRecord("Z200")
	r.Add(2, -9.0, "")
	table := &Table{
		Scenario:   "qvina",
		Collection: "AACDEF_0000042",
		Ref:        addressing.Ref{Name: "AACDEF", Number: 42},
		Replicas:   3,
		Records:    []*Record{r},
	}

	path := filepath.Join(t.TempDir(), "0000042.parquet")
	if err := WriteParquet(path, table); err != nil {
		t.Fatalf("WriteParquet: %v", err)
	}
	rows, err := parquet.ReadFile[parquetRow](path)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	checkReplicaSlots(t, rows[0].ReplicaScores, []*float64{nil, nil, ptr(-9.0)})
}

func ptr(v float64) *float64 { return &v }

func checkReplicaSlots(t *testing.T, got []replicaScore, want []*float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("replica slots = %d, want %d", len(got), len(want))
	}
	for i, slot := range got {
		if int(slot.Replica) != i {
			t.Errorf("slot %d labelled replica %d", i, slot.Replica)
		}
		switch {
		case want[i] == nil && slot.Score != nil:
			t.Errorf("replica %d score = %v, want null", i, *slot.Score)
		case want[i] != nil && (slot.Score == nil || *slot.Score != *want[i]):
			t.Errorf("replica %d score = %v, want %v", i, slot.Score, *want[i])
		}
	}
}

func TestWriteDispatch(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{"txt.gz", "csv.gz", "parquet"} {
		path := filepath.Join(dir, FileName(format, addressing.Ref{Name: "AACDEF", Number: 42}))
		if err := Write(format, path, sampleTable()); err != nil {
			t.Errorf("Write(%s): %v", format, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
	}
	if err := Write("xlsx", filepath.Join(dir, "x"), sampleTable()); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestStatusAndEventLog(t *testing.T) {
	rep := 1
	secs := 12.345
	score := -7.25
	entries := []Entry{
		{Ligand: "Z1", Scenario: "qvina", Replica: &rep, Status: "success", Seconds: &secs, Score: &score, Listing: "succeeded"},
		{Ligand: "Z2", Status: "failed", Info: "duplicate coordinates", Listing: "failed(ligand_coordinates)"},
	}

	dir := t.TempDir()
	statusPath := filepath.Join(dir, "0000042.status.gz")
	if err := WriteStatus(statusPath, entries); err != nil {
		t.Fatalf("WriteStatus: %v", err)
	}
	want := "Z1 qvina 1 succeeded total-time:12.35\nZ2 failed(ligand_coordinates)\n"
	if got := readGzip(t, statusPath); got != want {
		t.Errorf("status listing = %q, want %q", got, want)
	}

	jsonPath := filepath.Join(dir, "0000042.json.gz")
	if err := WriteEventLog(jsonPath, entries); err != nil {
		t.Fatalf("WriteEventLog: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal([]byte(readGzip(t, jsonPath)), &decoded); err != nil {
		t.Fatalf("decode event log: %v", err)
	}
	if decoded[0]["score"] != -7.25 || decoded[0]["scenario_key"] != "qvina" {
		t.Errorf("unexpected first entry %v", decoded[0])
	}
	if _, ok := decoded[1]["score"]; ok {
		t.Errorf("skip entry must not carry a score: %v", decoded[1])
	}
}

func TestOverviewWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overview", "12-0.json")
	o := &Overview{Workunit: "12", Subjob: "0", Counters: Counters{Skipped: 1}}
	if err := o.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back Overview
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if back.Counters.Skipped != 1 || back.Collections == nil {
		t.Errorf("unexpected overview %+v", back)
	}
}
