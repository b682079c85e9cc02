package summary

import (
	"encoding/csv"
	"fmt"
	"strconv"
)

// WriteCSV writes the flattened summary as gzip-compressed CSV. The
// collection name is also split into one column per character so that
// downstream tools can group by any tranche dimension.
func WriteCSV(path string, t *Table) error {
	f, zw, err := createGzip(path)
	if err != nil {
		return err
	}

	trancheWidth := len(t.Ref.Name)
	header := []string{"collection", "collection_number"}
	for i := 0; i < trancheWidth; i++ {
		header = append(header, fmt.Sprintf("tranche_%d", i))
	}
	header = append(header, "compound")
	if t.WithSMILES {
		header = append(header, "smiles")
	}
	header = append(header, "average_score", "maximum_score", "minimum_score", "number_of_dockings")
	for i := 0; i < t.Replicas; i++ {
		header = append(header, fmt.Sprintf("score_replica_%d", i))
	}

	w := csv.NewWriter(zw)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range t.rows() {
		st := r.Stats()
		row := []string{t.Ref.Name, t.Ref.FormattedNumber()}
		for i := 0; i < trancheWidth; i++ {
			row = append(row, t.Ref.Name[i:i+1])
		}
		row = append(row, r.Ligand)
		if t.WithSMILES {
			row = append(row, r.SMILES)
		}
		row = append(row,
			strconv.FormatFloat(st.Average, 'f', -1, 64),
			strconv.FormatFloat(st.Maximum, 'f', -1, 64),
			strconv.FormatFloat(st.Minimum, 'f', -1, 64),
			strconv.Itoa(st.Count),
		)
		for i := 0; i < t.Replicas; i++ {
			if s, ok := r.Score(i); ok {
				row = append(row, strconv.FormatFloat(s, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv: %w", err)
	}
	return closeGzip(f, zw)
}
