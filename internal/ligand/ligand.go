// Package ligand performs the structural checks applied to every ligand
// before it is expanded into docking tasks.
package ligand

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	disallowedElements = regexp.MustCompile(`\s+(B|Si|Sn)\s+`)
	smilesLine         = regexp.MustCompile(`SMILES:\s*(.*)$`)
)

// Record is one ligand structure file belonging to a collection.
type Record struct {
	Name       string // ligand key, file name without the format extension
	Path       string
	Collection string // logical collection key
}

// Rejection describes why a ligand was not docked.
type Rejection struct {
	Status string // status listing form, e.g. "failed(ligand_coordinates)"
	Info   string // human-readable form for the JSON event log
}

// CheckOptions selects which structural checks run.
type CheckOptions struct {
	DisallowedElements bool
}

// Validate scans the ligand file once, in line order, and returns the first
// structural problem found. A nil Rejection means the ligand is accepted.
func Validate(path string, opts CheckOptions) (*Rejection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ligand %s: %w", path, err)
	}
	defer f.Close()

	coords := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if !isAtomRecord(line) {
			continue
		}

		if opts.DisallowedElements {
			// Pad so an element in the last column still has trailing space.
			if m := disallowedElements.FindStringSubmatch(line + " "); m != nil {
				return &Rejection{
					Status: fmt.Sprintf("failed(ligand_elements:%s)", m[1]),
					Info:   fmt.Sprintf("ligand includes elements: %s", m[1]),
				}, nil
			}
		}

		if !strings.HasPrefix(line, "ATOM") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		key := strings.Join(fields[5:8], ":")
		if _, dup := coords[key]; dup {
			return &Rejection{
				Status: "failed(ligand_coordinates)",
				Info:   "duplicate coordinates",
			}, nil
		}
		coords[key] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ligand %s: %w", path, err)
	}

	return nil, nil
}

func isAtomRecord(line string) bool {
	return strings.HasPrefix(line, "ATOM") || strings.HasPrefix(line, "HETATM")
}

// SMILES returns the SMILES annotation of a pdbqt or mol2 ligand,
// or "N/A" when the format carries none.
func SMILES(format, path string) string {
	if format != "pdbqt" && format != "mol2" {
		return "N/A"
	}

	f, err := os.Open(path)
	if err != nil {
		return "N/A"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if m := smilesLine.FindStringSubmatch(strings.TrimSpace(sc.Text())); m != nil {
			return m[1]
		}
	}
	return "N/A"
}

// Name strips the ligand format extension from a file name.
func Name(file, format string) string {
	base := file
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if format != "" {
		base = strings.TrimSuffix(base, "."+format)
	}
	return base
}
