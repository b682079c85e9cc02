package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCompletionOverflow is returned when a collection receives more
// completions than it registered, or any after it was archived.
var ErrCompletionOverflow = errors.New("completion count exceeds expected")

const provisional = -1

type counter struct {
	expected int
	current  int
	scratch  *Scratch
}

// Tracker counts completions per collection. An entry may be created by a
// completion before the collection's expected count is registered; the
// collection is reported done exactly once, when both are known and equal.
// Not safe for concurrent use; the aggregator owns it.
type Tracker struct {
	entries  map[string]*counter
	archived map[string]bool
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries:  make(map[string]*counter),
		archived: make(map[string]bool),
	}
}

func (t *Tracker) entry(key string) (*counter, error) {
	if t.archived[key] {
		return nil, fmt.Errorf("%w: collection %s already archived", ErrCompletionOverflow, key)
	}
	c, ok := t.entries[key]
	if !ok {
		c = &counter{expected: provisional}
		t.entries[key] = c
	}
	return c, nil
}

// Completion is returned once for every collection, when its last
// expected completion arrives.
type Completion struct {
	Key     string
	Count   int
	Scratch *Scratch
}

// Register sets the expected completion count of a collection. A non-nil
// Completion means the collection is done.
func (t *Tracker) Register(key string, expected int, scratch *Scratch) (*Completion, error) {
	c, err := t.entry(key)
	if err != nil {
		return nil, err
	}
	if c.expected != provisional {
		return nil, fmt.Errorf("collection %s registered twice", key)
	}
	if expected < c.current {
		return nil, fmt.Errorf("%w: collection %s has %d completions, registered %d", ErrCompletionOverflow, key, c.current, expected)
	}
	c.expected = expected
	c.scratch = scratch
	return t.check(key, c)
}

// Complete records one completion for a collection.
func (t *Tracker) Complete(key string) (*Completion, error) {
	c, err := t.entry(key)
	if err != nil {
		return nil, err
	}
	c.current++
	if c.expected != provisional && c.current > c.expected {
		return nil, fmt.Errorf("%w: collection %s at %d of %d", ErrCompletionOverflow, key, c.current, c.expected)
	}
	return t.check(key, c)
}

func (t *Tracker) check(key string, c *counter) (*Completion, error) {
	if c.expected == provisional || c.current != c.expected {
		return nil, nil
	}
	delete(t.entries, key)
	t.archived[key] = true
	return &Completion{Key: key, Count: c.current, Scratch: c.scratch}, nil
}

// Pending returns the number of collections not yet complete.
func (t *Tracker) Pending() int {
	return len(t.entries)
}

// Progress describes an unfinished collection.
type Progress struct {
	Key      string
	Expected int // -1 when not registered
	Current  int
}

// Unfinished lists collections that never completed, sorted by key.
func (t *Tracker) Unfinished() []Progress {
	out := make([]Progress, 0, len(t.entries))
	for key, c := range t.entries {
		out = append(out, Progress{Key: key, Expected: c.expected, Current: c.current})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
