package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/withObsrvr/docking-worker/internal/addressing"
	"github.com/withObsrvr/docking-worker/internal/archive"
	"github.com/withObsrvr/docking-worker/internal/manifest"
)

const goodLigand = `REMARK SMILES: CCO
ATOM      1  C   LIG A   1       1.000   2.000   3.000  0.00  0.00     0.000 C
ATOM      2  O   LIG A   1       2.000   2.000   3.000  0.00  0.00     0.000 OA
`

const boronLigand = `ATOM      1  C   LIG A   1       1.000   2.000   3.000  0.00  0.00     0.000 C
HETATM    2  B   LIG A   1       2.000   2.000   3.000  0.00  0.00     0.000 B
`

const duplicateLigand = `ATOM      1  C   LIG A   1       1.000   2.000   3.000  0.00  0.00     0.000 C
ATOM      2  C   LIG A   1       1.000   2.000   3.000  0.00  0.00     0.000 C
`

// fakeVina behaves like the vina command line: it writes the output file
// and prints a mode table. Ligands named slow* hang, broken* exit non-zero
// and silent* print no table.
const fakeVina = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --out) out="$2"; shift ;;
    --ligand) lig="$2"; shift ;;
  esac
  shift
done
case "$(basename "$lig")" in
  slow*) exec sleep 5 ;;
  broken*) echo "segfault" >&2; exit 3 ;;
  silent*) echo "nothing"; exit 0 ;;
esac
echo "docked" > "$out"
printf 'mode |   affinity\n-----+------------\n   1       -7.5      0.000      0.000\n   2       -6.1      1.2        2.3\n'
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// buildArchive writes files (relative path -> content) into a tar.gz under
// the top-level directory root.
func buildArchive(t *testing.T, dst, root string, files map[string]string) {
	t.Helper()
	src := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(src, name), content)
	}
	if err := archive.Create(src, root, dst); err != nil {
		t.Fatalf("create archive: %v", err)
	}
}

// toolsDir installs the fake docking program.
func toolsDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vina"), []byte(fakeVina), 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

// inputFiles creates an input-files directory with one scenario folder.
func inputFiles(t *testing.T) (dir, configPath string) {
	t.Helper()
	dir = t.TempDir()
	configPath = filepath.Join(dir, "qvina", "config.txt")
	writeFile(t, configPath, "receptor = ../receptors/r.pdbqt\n")
	writeFile(t, filepath.Join(dir, "receptors", "r.pdbqt"), "ATOM\n")
	return dir, configPath
}

func testCollection(name string, number, ligands int, source manifest.Source) manifest.Collection {
	ref := addressing.Ref{Name: name, Number: number}
	return manifest.Collection{
		Key:         ref.Key(),
		Ref:         ref,
		FullName:    ref.Key(),
		LigandCount: ligands,
		Source:      source,
		Selection:   manifest.SelectAll,
	}
}

func testJob(configPath string, replicas int, collections ...manifest.Collection) *manifest.Job {
	return &manifest.Job{
		Workunit:  "7",
		Subjob:    "0",
		JobLetter: "a",
		Scenarios: []manifest.Scenario{{
			Name:        "qvina",
			Program:     "vina",
			ProgramLong: "vina",
			Replicas:    replicas,
			ConfigPath:  configPath,
		}},
		Timeout:        30 * time.Second,
		Threads:        1,
		LigandFormat:   "pdbqt",
		CheckElements:  true,
		SummaryFormats: []string{manifest.FormatText, manifest.FormatCSV},
		Output:         addressing.OutputLayout{Mode: addressing.Metatranche, JobLetter: "a"},
		Collections:    collections,
	}
}

func testWorkspace(t *testing.T) Workspace {
	t.Helper()
	ws := Workspace{Root: t.TempDir()}
	if err := ws.Prepare(); err != nil {
		t.Fatal(err)
	}
	return ws
}
