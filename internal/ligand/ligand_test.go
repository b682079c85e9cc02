package ligand

import (
	"os"
	"path/filepath"
	"testing"
)

const cleanLigand = `REMARK  SMILES: CC(=O)Oc1ccccc1C(=O)O
REMARK  Name = aspirin
ROOT
ATOM      1  C   UNL     1      -1.234   2.345   0.123  0.00  0.00    +0.000 C
ATOM      2  O   UNL     1      -0.234   1.345   0.523  0.00  0.00    -0.300 OA
ENDROOT
TORSDOF 1
`

const boronLigand = `ROOT
ATOM      1  C   UNL     1      -1.234   2.345   0.123  0.00  0.00    +0.000 C
ATOM      2  B   UNL     1      -0.234   1.345   0.523  0.00  0.00    +0.100 B
ENDROOT
`

const duplicateLigand = `ROOT
ATOM      1  C   UNL     1      -1.234   2.345   0.123  0.00  0.00    +0.000 C
ATOM      2  N   UNL     1      -1.234   2.345   0.123  0.00  0.00    -0.200 NA
ENDROOT
`

// Duplicate coordinates appear before the disallowed element.
const duplicateThenBoron = `ATOM      1  C   UNL     1       1.000   1.000   1.000  0.00  0.00    +0.000 C
ATOM      2  C   UNL     1       1.000   1.000   1.000  0.00  0.00    +0.000 C
ATOM      3  B   UNL     1       2.000   2.000   2.000  0.00  0.00    +0.000 B
`

func writeLigand(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lig.pdbqt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write ligand: %v", err)
	}
	return path
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		opts       CheckOptions
		wantStatus string
	}{
		{"clean", cleanLigand, CheckOptions{DisallowedElements: true}, ""},
		{"boron rejected", boronLigand, CheckOptions{DisallowedElements: true}, "failed(ligand_elements:B)"},
		{"boron allowed when check disabled", boronLigand, CheckOptions{}, ""},
		{"duplicate coordinates", duplicateLigand, CheckOptions{DisallowedElements: true}, "failed(ligand_coordinates)"},
		{"first problem wins", duplicateThenBoron, CheckOptions{DisallowedElements: true}, "failed(ligand_coordinates)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej, err := Validate(writeLigand(t, tt.content), tt.opts)
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if tt.wantStatus == "" {
				if rej != nil {
					t.Errorf("expected ligand to be accepted, got %+v", rej)
				}
				return
			}
			if rej == nil {
				t.Fatalf("expected rejection %q, got none", tt.wantStatus)
			}
			if rej.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", rej.Status, tt.wantStatus)
			}
			if rej.Info == "" {
				t.Error("expected info text")
			}
		})
	}
}

func TestValidateMissingFile(t *testing.T) {
	if _, err := Validate(filepath.Join(t.TempDir(), "absent.pdbqt"), CheckOptions{}); err == nil {
		t.Error("expected error for missing ligand")
	}
}

func TestSMILES(t *testing.T) {
	path := writeLigand(t, cleanLigand)

	if got := SMILES("pdbqt", path); got != "CC(=O)Oc1ccccc1C(=O)O" {
		t.Errorf("SMILES(pdbqt) = %q", got)
	}
	if got := SMILES("sdf", path); got != "N/A" {
		t.Errorf("SMILES(sdf) = %q, want N/A", got)
	}
	if got := SMILES("pdbqt", writeLigand(t, boronLigand)); got != "N/A" {
		t.Errorf("SMILES without annotation = %q, want N/A", got)
	}
}

func TestName(t *testing.T) {
	if got := Name("0000001/Z1234.pdbqt", "pdbqt"); got != "Z1234" {
		t.Errorf("Name() = %q", got)
	}
	if got := Name("Z1234.mol2", "pdbqt"); got != "Z1234.mol2" {
		t.Errorf("Name() = %q", got)
	}
}
