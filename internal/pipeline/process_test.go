package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/withObsrvr/docking-worker/internal/ligand"
	"github.com/withObsrvr/docking-worker/internal/manifest"
)

func TestProcessSkipsThenRegistersThenEnqueues(t *testing.T) {
	ws := testWorkspace(t)
	dir := t.TempDir()
	records := []ligand.Record{
		{Name: "good-1", Path: filepath.Join(dir, "good-1.pdbqt")},
		{Name: "boron", Path: filepath.Join(dir, "boron.pdbqt")},
		{Name: "good-2", Path: filepath.Join(dir, "good-2.pdbqt")},
	}
	writeFile(t, records[0].Path, goodLigand)
	writeFile(t, records[1].Path, boronLigand)
	writeFile(t, records[2].Path, goodLigand)

	c := testCollection("AACDEF", 1, 3, manifest.Source{Path: "x"})
	job := testJob("config.txt", 2, c)

	// order records the interleaving of events and tasks.
	var (
		order  []string
		events []Event
		tasks  []Task
	)
	emit := func(ev Event) error {
		order = append(order, ev.Kind.String())
		events = append(events, ev)
		return nil
	}
	enqueue := func(task Task) error {
		order = append(order, "task")
		tasks = append(tasks, task)
		return nil
	}

	err := NewProcessor(job, ws).Process(unpacked{Collection: c, Ligands: records}, emit, enqueue)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	want := []string{"skip", "delete", "task", "task", "task", "task"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	if events[0].Ligand != "boron" || events[0].Reason != "failed(ligand_elements:B)" {
		t.Errorf("skip event = %+v", events[0])
	}
	// 2 accepted ligands x 2 replicas + 1 skip
	if events[1].Count != 5 {
		t.Errorf("expected completions = %d, want 5", events[1].Count)
	}

	task := tasks[1]
	if task.Ligand != "good-1" || task.Replica != 1 {
		t.Errorf("task = %+v", task)
	}
	wantOut := filepath.Join(ws.Incomplete(c.Key, "qvina", kindResults), "good-1_replica-1.pdbqt")
	if task.OutputPath != wantOut {
		t.Errorf("OutputPath = %q, want %q", task.OutputPath, wantOut)
	}
	if _, err := os.Stat(ws.Incomplete(c.Key, "qvina", kindLogfiles)); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}

func TestProcessEmptyCollection(t *testing.T) {
	ws := testWorkspace(t)
	c := testCollection("AACDEF", 1, 0, manifest.Source{Path: "x"})

	var events []Event
	err := NewProcessor(testJob("config.txt", 1, c), ws).Process(unpacked{Collection: c},
		func(ev Event) error { events = append(events, ev); return nil },
		func(Task) error { t.Fatal("unexpected task"); return nil })
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != EventDelete || events[0].Count != 0 {
		t.Errorf("events = %+v", events)
	}
}

func TestProcessDuplicateCoordinates(t *testing.T) {
	ws := testWorkspace(t)
	path := filepath.Join(t.TempDir(), "dup.pdbqt")
	writeFile(t, path, duplicateLigand)
	c := testCollection("AACDEF", 1, 1, manifest.Source{Path: "x"})

	var events []Event
	err := NewProcessor(testJob("config.txt", 1, c), ws).Process(
		unpacked{Collection: c, Ligands: []ligand.Record{{Name: "dup", Path: path}}},
		func(ev Event) error { events = append(events, ev); return nil },
		func(Task) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Reason != "failed(ligand_coordinates)" {
		t.Errorf("reason = %q", events[0].Reason)
	}
	if events[1].Count != 1 {
		t.Errorf("expected completions = %d, want 1", events[1].Count)
	}
}
