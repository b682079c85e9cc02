package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/parquet-go/parquet-go"

	"github.com/withObsrvr/docking-worker/internal/addressing"
)

// Table is the set of records for one (scenario, collection) pair.
type Table struct {
	Scenario   string
	Collection string // full collection name
	Ref        addressing.Ref
	Source     string // archive location the ligands came from
	Replicas   int
	WithSMILES bool
	Records    []*Record
}

// rows returns the records with at least one successful replica, sorted by
// ligand name.
func (t *Table) rows() []*Record {
	out := make([]*Record, 0, len(t.Records))
	for _, r := range t.Records {
		if len(r.scores) > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ligand < out[j].Ligand })
	return out
}

// FileName returns the artifact file name for a summary format.
func FileName(format string, ref addressing.Ref) string {
	return ref.FormattedNumber() + "." + format
}

// Write emits the table in the given format to path.
func Write(format, path string, t *Table) error {
	switch format {
	case "txt.gz":
		return WriteText(path, t)
	case "csv.gz":
		return WriteCSV(path, t)
	case "parquet":
		return WriteParquet(path, t)
	default:
		return fmt.Errorf("unsupported summary format %q", format)
	}
}

func createGzip(path string) (*os.File, *gzip.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, gzip.NewWriter(f), nil
}

func closeGzip(f *os.File, zw *gzip.Writer) error {
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finish gzip stream %s: %w", f.Name(), err)
	}
	return f.Close()
}

// WriteText writes the whitespace separated summary table.
func WriteText(path string, t *Table) error {
	f, zw, err := createGzip(path)
	if err != nil {
		return err
	}

	header := []string{"Tranche", "Compound"}
	if t.WithSMILES {
		header = append(header, "SMILES")
	}
	header = append(header, "average-score", "maximum-score", "number-of-dockings")
	for i := 0; i < t.Replicas; i++ {
		header = append(header, fmt.Sprintf("score-replica-%d", i))
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, " "))
	b.WriteByte('\n')

	for _, r := range t.rows() {
		st := r.Stats()
		fields := []string{t.Collection, r.Ligand}
		if t.WithSMILES {
			fields = append(fields, r.SMILES)
		}
		fields = append(fields,
			strconv.FormatFloat(st.Average, 'f', 1, 64),
			strconv.FormatFloat(st.Maximum, 'f', 1, 64),
			strconv.Itoa(st.Count),
		)
		for i := 0; i < t.Replicas; i++ {
			if s, ok := r.Score(i); ok {
				fields = append(fields, strconv.FormatFloat(s, 'f', 1, 64))
			} else {
				fields = append(fields, "-")
			}
		}
		b.WriteString(strings.Join(fields, " "))
		b.WriteByte('\n')
	}

	if _, err := zw.Write([]byte(b.String())); err != nil {
		zw.Close()
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return closeGzip(f, zw)
}

// replicaScore is one replica slot of a parquet summary row. Score is null
// when the replica did not produce a score.
type replicaScore struct {
	Replica int32    `parquet:"replica"`
	Score   *float64 `parquet:"score,optional"`
}

// parquetRow is the typed summary row. ReplicaScores has one slot per
// replica in replica order.
type parquetRow struct {
	Collection       string         `parquet:"collection"`
	Compound         string         `parquet:"compound"`
	Scenario         string         `parquet:"scenario"`
	CollectionNumber int64          `parquet:"collection_number"`
	AverageScore     float64        `parquet:"average_score"`
	MaximumScore     float64        `parquet:"maximum_score"`
	MinimumScore     float64        `parquet:"minimum_score"`
	NumberOfDockings int32          `parquet:"number_of_dockings"`
	DownloadPath     string         `parquet:"s3_download_path"`
	SMILES           string         `parquet:"smiles,optional"`
	ReplicaScores    []replicaScore `parquet:"replica_scores,list"`
}

// WriteParquet writes the summary as a snappy-compressed parquet file.
func WriteParquet(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	records := t.rows()
	rows := make([]parquetRow, 0, len(records))
	for _, r := range records {
		st := r.Stats()
		row := parquetRow{
			Collection:       t.Ref.Name,
			Compound:         r.Ligand,
			Scenario:         t.Scenario,
			CollectionNumber: int64(t.Ref.Number),
			AverageScore:     st.Average,
			MaximumScore:     st.Maximum,
			MinimumScore:     st.Minimum,
			NumberOfDockings: int32(st.Count),
			DownloadPath:     t.Source,
			ReplicaScores:    make([]replicaScore, t.Replicas),
		}
		for i := range row.ReplicaScores {
			row.ReplicaScores[i].Replica = int32(i)
			if score, ok := r.Score(i); ok {
				row.ReplicaScores[i].Score = &score
			}
		}
		if t.WithSMILES {
			row.SMILES = r.SMILES
		}
		rows = append(rows, row)
	}

	w := parquet.NewGenericWriter[parquetRow](f, parquet.Compression(&parquet.Snappy))
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}
