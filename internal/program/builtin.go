package program

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	vinaScore  = regexp.MustCompile(`(?m)^\s+1\s+([-0-9.]+)\s+`)
	sminaScore = regexp.MustCompile(`^1\s{4}\s*([-0-9.]+)\s*`)
)

// VinaFamily runs AutoDock Vina and its derivatives, which share a
// command line and print a ranked mode table on stdout.
type VinaFamily struct {
	Binary string
}

func (v VinaFamily) BuildCommand(inv Invocation) ([]string, error) {
	return []string{
		filepath.Join(inv.ToolsPath, v.Binary),
		"--cpu", strconv.Itoa(inv.Threads),
		"--config", inv.ConfigPath,
		"--ligand", inv.LigandPath,
		"--out", inv.OutputPath,
	}, nil
}

func (v VinaFamily) ParseResult(out Output) (float64, error) {
	m := vinaScore.FindStringSubmatch(out.Stdout)
	if m == nil {
		return 0, ErrNoScore
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoScore, err)
	}
	return finite(score)
}

// Smina additionally writes flexible residue and per-atom term files and
// reports the best mode last.
type Smina struct{}

func (Smina) BuildCommand(inv Invocation) ([]string, error) {
	if inv.OutputBase == "" {
		return nil, fmt.Errorf("smina requires an output base path")
	}
	return []string{
		filepath.Join(inv.ToolsPath, "smina"),
		"--cpu", strconv.Itoa(inv.Threads),
		"--config", inv.ConfigPath,
		"--ligand", inv.LigandPath,
		"--out", inv.OutputPath,
		"--log", inv.OutputBase + ".flexres.pdb",
		"--atom_terms", inv.OutputBase + ".atomterms",
	}, nil
}

func (Smina) ParseResult(out Output) (float64, error) {
	lines := strings.Split(out.Stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		m := sminaScore.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		score, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoScore, err)
		}
		return finite(score)
	}
	return 0, ErrNoScore
}

// DefaultRegistry returns a registry with the built-in adapters.
// Names starting with "smina" or "gwovina" dispatch to those adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, name := range []string{"qvina02", "qvina_w", "vina", "vina_carb", "vina_xb", "gwovina"} {
		r.Register(name, VinaFamily{Binary: name})
	}
	r.Register("smina", Smina{})
	r.Alias(`^smina`, "smina")
	r.Alias(`^gwovina`, "gwovina")
	return r
}
