// Package ddg holds the mutational-effect table: free-energy perturbations
// keyed by (site, mutation, species). It is the unit of genetic variation
// for the simulator.
package ddg

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/gocarina/gocsv"

	"thermoevo/internal/ensemble"
	"thermoevo/internal/model"
)

var (
	ErrUnknownMutation = errors.New("mutation not in ddg table")
	ErrUnknownSpecies  = errors.New("species not in ensemble")
)

// Row is one long-format record of the ddg input file.
type Row struct {
	Site    int     `csv:"site"`
	Mut     string  `csv:"mut"`
	Species string  `csv:"species"`
	DDG     float64 `csv:"ddg"`
}

// Table is an immutable (site, mutation, species) -> ddg lookup with a
// cache of per-genotype scores. Reads are safe for concurrent use; the
// cache is internally synchronized.
type Table struct {
	bySite      map[int]map[string]map[string]float64
	sites       []int
	mutationsAt map[int][]string
	wtResidue   map[int]byte
	speciesSeen []string

	mu    sync.RWMutex
	cache map[string]map[string]float64
}

// Load reads a long-format csv file with columns site, mut, species, ddg.
// Wild-type self-substitutions (rows whose mutation starts and ends with
// the same residue, e.g. L1L) are dropped.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ddg file: %w", err)
	}
	defer f.Close()

	var rows []*Row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parse ddg file %s: %w", path, err)
	}

	flat := make([]Row, 0, len(rows))
	for _, r := range rows {
		flat = append(flat, *r)
	}
	t, err := FromRows(flat)
	if err != nil {
		return nil, fmt.Errorf("ddg file %s: %w", path, err)
	}
	return t, nil
}

// FromRows builds a table from parsed rows.
func FromRows(rows []Row) (*Table, error) {
	t := &Table{
		bySite:      make(map[int]map[string]map[string]float64),
		mutationsAt: make(map[int][]string),
		wtResidue:   make(map[int]byte),
		cache:       make(map[string]map[string]float64),
	}
	speciesSeen := make(map[string]struct{})

	for i, r := range rows {
		wt, site, mutant, err := parseMutation(r.Mut)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if site != r.Site {
			return nil, fmt.Errorf("row %d: mutation %q names site %d but site column is %d", i, r.Mut, site, r.Site)
		}
		if r.Species == "" {
			return nil, fmt.Errorf("row %d: species is required", i)
		}
		if wt == mutant {
			// Self-substitution carries no effect; drop it.
			continue
		}
		if prev, ok := t.wtResidue[site]; ok && prev != wt {
			return nil, fmt.Errorf("row %d: site %d has conflicting wild-type residues %c and %c", i, site, prev, wt)
		}
		t.wtResidue[site] = wt

		if t.bySite[site] == nil {
			t.bySite[site] = make(map[string]map[string]float64)
		}
		if t.bySite[site][r.Mut] == nil {
			t.bySite[site][r.Mut] = make(map[string]float64)
		}
		t.bySite[site][r.Mut][r.Species] = r.DDG
		if _, seen := speciesSeen[r.Species]; !seen {
			speciesSeen[r.Species] = struct{}{}
			t.speciesSeen = append(t.speciesSeen, r.Species)
		}
	}

	if len(t.bySite) == 0 {
		return nil, fmt.Errorf("ddg table has no usable rows")
	}

	for site, muts := range t.bySite {
		t.sites = append(t.sites, site)
		names := make([]string, 0, len(muts))
		for name := range muts {
			names = append(names, name)
		}
		sort.Strings(names)
		t.mutationsAt[site] = names
	}
	sort.Ints(t.sites)
	sort.Strings(t.speciesSeen)
	return t, nil
}

// ParseMutation resolves a wt-site-mut name like "L12P" into a Mutation.
func ParseMutation(name string) (model.Mutation, error) {
	wt, site, mutant, err := parseMutation(name)
	if err != nil {
		return model.Mutation{}, err
	}
	if site < 1 || wt < 'A' || wt > 'Z' || mutant < 'A' || mutant > 'Z' {
		return model.Mutation{}, fmt.Errorf("malformed mutation name %q", name)
	}
	return model.Mutation{Site: site, Name: name}, nil
}

// parseMutation splits a wt-site-mut name like "L12P" into its parts.
func parseMutation(name string) (wt byte, site int, mutant byte, err error) {
	if len(name) < 3 {
		return 0, 0, 0, fmt.Errorf("mutation name %q is too short", name)
	}
	digits := name[1 : len(name)-1]
	site, err = strconv.Atoi(digits)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("mutation name %q has no site number", name)
	}
	return name[0], site, name[len(name)-1], nil
}

// Bind verifies every species named in the table exists in the ensemble.
// Call it once at construction, before any simulation work.
func (t *Table) Bind(e *ensemble.Ensemble) error {
	for _, sp := range t.speciesSeen {
		if !e.HasSpecies(sp) {
			return fmt.Errorf("%w: %q", ErrUnknownSpecies, sp)
		}
	}
	return nil
}

// Sites returns the mutable sites in ascending order.
func (t *Table) Sites() []int {
	return append([]int(nil), t.sites...)
}

// MutationsAt returns the mutation names available at site, sorted.
func (t *Table) MutationsAt(site int) []string {
	return append([]string(nil), t.mutationsAt[site]...)
}

// WildTypeResidue returns the wild-type residue letter at site.
func (t *Table) WildTypeResidue(site int) (byte, bool) {
	wt, ok := t.wtResidue[site]
	return wt, ok
}

// Key returns the canonical cache key for a mutation set: mutation names
// in ascending site order. The empty set (wild type) keys to "".
func Key(muts []model.Mutation) string {
	if len(muts) == 0 {
		return ""
	}
	sorted := append([]model.Mutation(nil), muts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Site < sorted[j].Site })
	names := make([]string, len(sorted))
	for i, m := range sorted {
		names[i] = m.Name
	}
	return strings.Join(names, "/")
}

// Score sums, per species, the ddg values of every mutation the genotype
// carries. Species with no entry for a mutation receive zero. A mutation
// absent from the table is a data-integrity failure, not recoverable.
func (t *Table) Score(muts []model.Mutation) (map[string]float64, error) {
	key := Key(muts)

	t.mu.RLock()
	cached, ok := t.cache[key]
	t.mu.RUnlock()
	if ok {
		return cached, nil
	}

	seenSite := make(map[int]struct{}, len(muts))
	total := make(map[string]float64)
	for _, m := range muts {
		if _, dup := seenSite[m.Site]; dup {
			return nil, fmt.Errorf("genotype carries two mutations at site %d", m.Site)
		}
		seenSite[m.Site] = struct{}{}

		bySpecies, ok := t.bySite[m.Site][m.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s at site %d", ErrUnknownMutation, m.Name, m.Site)
		}
		for sp, v := range bySpecies {
			total[sp] += v
		}
	}

	t.mu.Lock()
	t.cache[key] = total
	t.mu.Unlock()
	return total, nil
}
