// Package program maps docking program names to the functions that build
// their command lines and parse their output.
package program

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownProgram is returned when no adapter is registered for a name.
	ErrUnknownProgram = errors.New("unknown docking program")

	// ErrNoScore is returned when program output carries no usable score.
	ErrNoScore = errors.New("no score in program output")
)

// Invocation carries everything an adapter needs to build a command.
type Invocation struct {
	ToolsPath  string
	Program    string // resolved adapter name
	ConfigPath string
	LigandPath string
	OutputPath string // main output file
	OutputBase string // output path without extension, for side outputs
	Threads    int
}

// Output is the captured result of one program run.
type Output struct {
	Stdout string
	Stderr string
}

// Adapter builds the argument vector for a program and extracts the score
// from its output.
type Adapter interface {
	BuildCommand(inv Invocation) ([]string, error)
	ParseResult(out Output) (float64, error)
}

// Registry maps program names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	aliases  []alias
}

type alias struct {
	pattern *regexp.Regexp
	target  string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for name.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

// Alias maps every program name matching pattern to target.
func (r *Registry) Alias(pattern, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases = append(r.aliases, alias{pattern: regexp.MustCompile(pattern), target: target})
}

// Resolve returns the adapter name a program name dispatches to.
// Exact registrations take precedence over aliases.
func (r *Registry) Resolve(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.adapters[name]; ok {
		return name, nil
	}
	for _, a := range r.aliases {
		if a.pattern.MatchString(name) {
			if _, ok := r.adapters[a.target]; ok {
				return a.target, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q (known: %s)", ErrUnknownProgram, name, strings.Join(r.names(), ", "))
}

// Lookup returns the adapter registered for name.
func (r *Registry) Lookup(name string) (Adapter, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[resolved], nil
}

// names lists the registered adapter names in sorted order. The caller
// holds r.mu.
func (r *Registry) names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func finite(score float64) (float64, error) {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: non-finite score %v", ErrNoScore, score)
	}
	return score, nil
}
