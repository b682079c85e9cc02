// Package summary holds per-ligand docking results and writes the summary,
// status and overview artifacts produced at the end of a subjob.
package summary

import (
	"math"
	"sort"
)

// Record accumulates the successful replica scores of one ligand under one
// scenario. Derived statistics are computed on demand.
type Record struct {
	Ligand string
	SMILES string

	scores map[int]float64
}

// NewRecord creates an empty record.
func NewRecord(ligand string) *Record {
	return &Record{Ligand: ligand, scores: make(map[int]float64)}
}

// Add stores the score of a successful replica. Attributes are kept from
// the first replica that carries them.
func (r *Record) Add(replica int, score float64, smiles string) {
	if r.SMILES == "" && smiles != "" {
		r.SMILES = smiles
	}
	r.scores[replica] = score
}

// Score returns the score of one replica.
func (r *Record) Score(replica int) (float64, bool) {
	s, ok := r.scores[replica]
	return s, ok
}

// Scores returns the successful scores in replica order.
func (r *Record) Scores() []float64 {
	replicas := make([]int, 0, len(r.scores))
	for i := range r.scores {
		replicas = append(replicas, i)
	}
	sort.Ints(replicas)

	out := make([]float64, len(replicas))
	for i, rep := range replicas {
		out[i] = r.scores[rep]
	}
	return out
}

// Stats summarizes a record's successful scores.
type Stats struct {
	Count   int
	Average float64
	Minimum float64
	Maximum float64
}

// Stats computes count, mean, minimum and maximum over the successful
// replica scores. Count is zero when no replica succeeded.
func (r *Record) Stats() Stats {
	scores := r.Scores()
	if len(scores) == 0 {
		return Stats{}
	}

	st := Stats{Count: len(scores), Minimum: math.Inf(1), Maximum: math.Inf(-1)}
	sum := 0.0
	for _, s := range scores {
		sum += s
		st.Minimum = math.Min(st.Minimum, s)
		st.Maximum = math.Max(st.Maximum, s)
	}
	st.Average = sum / float64(len(scores))
	return st
}
