package ddg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"thermoevo/internal/ensemble"
	"thermoevo/internal/model"
)

func testRows() []Row {
	return []Row{
		{Site: 1, Mut: "L1P", Species: "A", DDG: 2.0},
		{Site: 1, Mut: "L1P", Species: "B", DDG: -1.0},
		{Site: 1, Mut: "L1G", Species: "A", DDG: 0.5},
		{Site: 2, Mut: "I2V", Species: "A", DDG: 1.5},
		{Site: 2, Mut: "I2I", Species: "A", DDG: 0.0}, // self, dropped
	}
}

func TestFromRowsDropsSelfSubstitutions(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	muts := tbl.MutationsAt(2)
	if len(muts) != 1 || muts[0] != "I2V" {
		t.Fatalf("mutations at site 2 = %v, want [I2V]", muts)
	}
	sites := tbl.Sites()
	if len(sites) != 2 || sites[0] != 1 || sites[1] != 2 {
		t.Fatalf("sites = %v, want [1 2]", sites)
	}
}

func TestFromRowsRecordsWildType(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	wt, ok := tbl.WildTypeResidue(1)
	if !ok || wt != 'L' {
		t.Fatalf("wild type at site 1 = %c, want L", wt)
	}
	wt, ok = tbl.WildTypeResidue(2)
	if !ok || wt != 'I' {
		t.Fatalf("wild type at site 2 = %c, want I", wt)
	}
}

func TestFromRowsRejectsConflictingWildType(t *testing.T) {
	rows := []Row{
		{Site: 1, Mut: "L1P", Species: "A", DDG: 1},
		{Site: 1, Mut: "M1G", Species: "A", DDG: 1},
	}
	if _, err := FromRows(rows); err == nil {
		t.Fatal("expected conflicting wild-type error")
	}
}

func TestFromRowsRejectsSiteMismatch(t *testing.T) {
	rows := []Row{{Site: 3, Mut: "L1P", Species: "A", DDG: 1}}
	if _, err := FromRows(rows); err == nil {
		t.Fatal("expected site mismatch error")
	}
}

func TestScoreSumsPerSpecies(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}

	score, err := tbl.Score([]model.Mutation{
		{Site: 1, Name: "L1P"},
		{Site: 2, Name: "I2V"},
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score["A"] != 3.5 {
		t.Fatalf("score A = %v, want 3.5", score["A"])
	}
	if score["B"] != -1.0 {
		t.Fatalf("score B = %v, want -1.0", score["B"])
	}
}

func TestScoreEmptyGenotypeIsZero(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	score, err := tbl.Score(nil)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if len(score) != 0 {
		t.Fatalf("wild-type score = %v, want empty", score)
	}
}

func TestScoreUnknownMutation(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	_, err = tbl.Score([]model.Mutation{{Site: 9, Name: "K9A"}})
	if !errors.Is(err, ErrUnknownMutation) {
		t.Fatalf("expected ErrUnknownMutation, got %v", err)
	}
}

func TestScoreRejectsDoubleOccupancy(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}
	_, err = tbl.Score([]model.Mutation{
		{Site: 1, Name: "L1P"},
		{Site: 1, Name: "L1G"},
	})
	if err == nil {
		t.Fatal("expected double-occupancy error")
	}
}

func TestKeyIsOrderIndependent(t *testing.T) {
	a := Key([]model.Mutation{{Site: 2, Name: "I2V"}, {Site: 1, Name: "L1P"}})
	b := Key([]model.Mutation{{Site: 1, Name: "L1P"}, {Site: 2, Name: "I2V"}})
	if a != b {
		t.Fatalf("keys differ: %q vs %q", a, b)
	}
	if Key(nil) != "" {
		t.Fatalf("wild-type key = %q, want empty", Key(nil))
	}
}

func TestParseMutation(t *testing.T) {
	m, err := ParseMutation("L12P")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Site != 12 || m.Name != "L12P" {
		t.Fatalf("parsed = %+v, want site 12 name L12P", m)
	}

	for _, bad := range []string{"", "L", "12P", "LP", "L0P", "LxP"} {
		if _, err := ParseMutation(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestBindAgainstEnsemble(t *testing.T) {
	tbl, err := FromRows(testRows())
	if err != nil {
		t.Fatalf("from rows: %v", err)
	}

	e := ensemble.New()
	if err := e.AddSpecies(model.SpeciesRecord{Name: "A", Observable: true}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Bind(e); !errors.Is(err, ErrUnknownSpecies) {
		t.Fatalf("expected ErrUnknownSpecies for missing B, got %v", err)
	}

	if err := e.AddSpecies(model.SpeciesRecord{Name: "B"}); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Bind(e); err != nil {
		t.Fatalf("bind: %v", err)
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ddg.csv")
	csv := "site,mut,species,ddg\n" +
		"1,L1P,A,2.0\n" +
		"1,L1L,A,0.0\n" +
		"2,I2V,A,1.5\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := tbl.MutationsAt(1); len(got) != 1 || got[0] != "L1P" {
		t.Fatalf("mutations at site 1 = %v, want [L1P]", got)
	}
	score, err := tbl.Score([]model.Mutation{{Site: 2, Name: "I2V"}})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score["A"] != 1.5 {
		t.Fatalf("score A = %v, want 1.5", score["A"])
	}
}
