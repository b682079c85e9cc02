package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/withObsrvr/docking-worker/internal/archive"
	"github.com/withObsrvr/docking-worker/internal/ligand"
	"github.com/withObsrvr/docking-worker/internal/logging"
	"github.com/withObsrvr/docking-worker/internal/manifest"
)

const listingSuffix = ".listing"

// listing maps collection key to ligand name to the ligand's index within
// that collection, as read from a sparse archive's listing member.
type listing map[string]map[string]int

// Unpacker extracts archives and cuts them into logical collections.
type Unpacker struct {
	format string
	log    *slog.Logger
}

// NewUnpacker creates an unpacker for ligands stored with the given
// file extension.
func NewUnpacker(format string) *Unpacker {
	return &Unpacker{format: format, log: logging.Component("unpacker")}
}

// Unpack extracts one downloaded archive and returns one item per logical
// collection, in the order the manifest lists them. The archive file is
// removed once extracted.
func (u *Unpacker) Unpack(d *downloaded) ([]unpacked, error) {
	root := filepath.Join(d.Scratch.Dir, "ligands")
	members, err := archive.Extract(d.Archive, root)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", d.Source, err)
	}
	if err := os.Remove(d.Archive); err != nil {
		u.log.Warn("failed to remove archive", "path", d.Archive, "error", err)
	}

	var (
		records []ligand.Record
		index   listing
	)
	for _, m := range members {
		if strings.HasSuffix(m, listingSuffix) {
			if index, err = readListing(filepath.Join(root, filepath.FromSlash(m))); err != nil {
				return nil, err
			}
			continue
		}
		if u.format != "" && !strings.HasSuffix(m, "."+u.format) {
			continue
		}
		records = append(records, ligand.Record{
			Name: ligand.Name(path.Base(m), u.format),
			Path: filepath.Join(root, filepath.FromSlash(m)),
		})
	}

	out := make([]unpacked, 0, len(d.Collections))
	for _, c := range d.Collections {
		selected, err := selectLigands(c, records, index)
		if err != nil {
			return nil, err
		}
		out = append(out, unpacked{Collection: c, Ligands: selected, Scratch: d.Scratch})
	}
	return out, nil
}

func selectLigands(c manifest.Collection, records []ligand.Record, index listing) ([]ligand.Record, error) {
	var keep func(ligand.Record) bool

	switch c.Selection {
	case manifest.SelectNamed:
		names := make(map[string]bool, len(c.Ligands))
		for _, n := range c.Ligands {
			names[n] = true
		}
		keep = func(r ligand.Record) bool { return names[r.Name] }
	case manifest.SelectSparse:
		if index == nil {
			return nil, fmt.Errorf("collection %s: sparse archive has no %s member", c.Key, listingSuffix)
		}
		keep = func(r ligand.Record) bool {
			i, ok := index[c.Key][r.Name]
			return ok && i < c.SparseCutoff
		}
	default:
		keep = func(ligand.Record) bool { return true }
	}

	var out []ligand.Record
	for _, r := range records {
		if keep(r) {
			r.Collection = c.Key
			out = append(out, r)
		}
	}
	return out, nil
}

// readListing parses "collection-key, ligand-name, index" rows. The same
// ligand may be listed under several collection keys.
func readListing(file string) (listing, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	out := make(listing)
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read listing: %w", err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("listing line %d: want 3 fields, got %d", line, len(rec))
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[2]))
		if err != nil {
			return nil, fmt.Errorf("listing line %d: bad index %q", line, rec[2])
		}
		key := strings.TrimSpace(rec[0])
		if out[key] == nil {
			out[key] = make(map[string]int)
		}
		out[key][strings.TrimSpace(rec[1])] = idx
	}
	return out, nil
}
