// Package addressing derives storage paths for collections and their outputs.
//
// Two schemes are supported. The metatranche scheme groups collections by the
// first two characters of their name. The hash scheme prefixes every path with
// two nibble pairs of sha256("<name>/<number:07>") so sequential collections
// spread over many key prefixes.
package addressing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
)

// Mode selects an addressing scheme.
type Mode string

const (
	Metatranche Mode = "metatranche"
	Hash        Mode = "hash"
)

// ParseMode validates an addressing mode name. The empty string selects
// the metatranche scheme.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Metatranche:
		return Metatranche, nil
	case Hash:
		return Hash, nil
	default:
		return "", fmt.Errorf("unknown addressing mode: %q", s)
	}
}

// Ref identifies a collection by name and number.
type Ref struct {
	Name   string
	Number int
}

// FormattedNumber returns the zero-padded seven digit collection number.
func (r Ref) FormattedNumber() string {
	return fmt.Sprintf("%07d", r.Number)
}

// Key returns the "<name>_<number>" key used in work unit manifests.
func (r Ref) Key() string {
	return fmt.Sprintf("%s_%s", r.Name, r.FormattedNumber())
}

// Tranche returns the metatranche code (first two characters of the name).
func (r Ref) Tranche() string {
	if len(r.Name) < 2 {
		return r.Name
	}
	return r.Name[:2]
}

// Digest returns the hex sha256 of "<name>/<number:07>".
func (r Ref) Digest() string {
	sum := sha256.Sum256([]byte(r.Name + "/" + r.FormattedNumber()))
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns the "{h[0:2]}/{h[2:4]}" key prefix of the hash scheme.
func (r Ref) HashPrefix() string {
	return hashPrefix(r.Digest())
}

func hashPrefix(h string) string {
	return h[0:2] + "/" + h[2:4]
}

// InputLayout derives collection archive locations for collections whose
// manifest entry carries no explicit path.
type InputLayout struct {
	Mode       Mode
	Prefix     string
	Identifier string
	Format     string
}

// ArchivePath returns the location of a collection's tar.gz archive.
func (l InputLayout) ArchivePath(r Ref) string {
	if l.Mode == Hash {
		parts := []string{l.Prefix, r.HashPrefix()}
		if l.Identifier != "" {
			parts = append(parts, l.Identifier)
		}
		parts = append(parts, l.Format, r.Name, r.FormattedNumber()+".tar.gz")
		return path.Join(parts...)
	}
	return path.Join(l.Prefix, r.Name, fmt.Sprintf("%d.tar.gz", r.Number))
}

// OutputLayout derives destination keys for generated artifacts.
type OutputLayout struct {
	Mode      Mode
	JobLetter string
}

// ScenarioArtifact returns the key of a per-(scenario, collection) artifact,
// for example a results archive or a summary file. Suffix is appended to the
// final path element (".tar.gz", ".txt.gz", ...).
func (l OutputLayout) ScenarioArtifact(scenario, resultType string, r Ref, suffix string) string {
	if l.Mode == Hash {
		return path.Join(r.HashPrefix(), l.JobLetter, "output", scenario, resultType, r.Name, r.FormattedNumber()+suffix)
	}
	return path.Join("output", scenario, resultType, r.Tranche(), r.Name, r.FormattedNumber()+suffix)
}

// CollectionArtifact returns the key of a per-collection artifact that does
// not depend on the scenario (status listings, event logs).
func (l OutputLayout) CollectionArtifact(resultType string, r Ref, suffix string) string {
	if l.Mode == Hash {
		return path.Join(r.HashPrefix(), l.JobLetter, "output", resultType, r.Name, r.FormattedNumber()+suffix)
	}
	return path.Join("output", resultType, r.Tranche(), r.Name, r.FormattedNumber()+suffix)
}

// Overview returns the key of the per-subjob overview document.
func (l OutputLayout) Overview(workunit, subjob string) string {
	name := fmt.Sprintf("%s-%s.json", workunit, subjob)
	if l.Mode == Hash {
		sum := sha256.Sum256([]byte(l.JobLetter + "/" + workunit))
		return path.Join(hashPrefix(hex.EncodeToString(sum[:])), l.JobLetter, "output", "overview", name)
	}
	return path.Join("output", "overview", name)
}
