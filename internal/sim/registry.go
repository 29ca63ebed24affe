// Package sim implements the Wright-Fisher population simulator and the
// genotype registry backing it.
package sim

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"

	"thermoevo/internal/ddg"
	"thermoevo/internal/fitness"
	"thermoevo/internal/model"
)

// Genotype is an immutable mutation set with a stable registry id.
// Mutations are kept sorted by site. NumMutations counts every mutation
// accumulated along the lineage that first produced this genotype,
// including reversions and re-mutations of the same site.
type Genotype struct {
	ID           int
	ParentID     int
	Mutations    []model.Mutation
	NumMutations int
}

// Key returns the canonical identity of the mutation set.
func (g Genotype) Key() string {
	return ddg.Key(g.Mutations)
}

// Registry is the append-only genotype store for a run. Id 0 is always the
// wild type. Genotypes are deduplicated by mutation-set value; the id and
// parent of the first registration win. Appends are synchronized so tree
// branches can share one registry.
type Registry struct {
	table *ddg.Table
	eval  *fitness.Evaluator
	sites []int

	mu        sync.RWMutex
	genotypes []Genotype
	fitnesses []float64
	byKey     map[string]int
}

// NewRegistry creates a registry seeded with the wild type, whose fitness
// is evaluated immediately so construction surfaces configuration problems
// before any generation runs.
func NewRegistry(table *ddg.Table, eval *fitness.Evaluator) (*Registry, error) {
	if table == nil {
		return nil, fmt.Errorf("ddg table is required")
	}
	if eval == nil {
		return nil, fmt.Errorf("fitness evaluator is required")
	}
	r := &Registry{
		table: table,
		eval:  eval,
		sites: table.Sites(),
		byKey: make(map[string]int),
	}
	if len(r.sites) == 0 {
		return nil, fmt.Errorf("ddg table has no mutable sites")
	}

	wtFitness, err := eval.Fitness(nil)
	if err != nil {
		return nil, fmt.Errorf("wild-type fitness: %w", err)
	}
	r.genotypes = append(r.genotypes, Genotype{ID: 0, ParentID: -1})
	r.fitnesses = append(r.fitnesses, wtFitness)
	r.byKey[""] = 0
	return r, nil
}

// Len reports the number of distinct genotypes ever observed.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.genotypes)
}

// Genotype returns the genotype with the given id.
func (r *Registry) Genotype(id int) (Genotype, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.genotypes) {
		return Genotype{}, fmt.Errorf("genotype id %d out of range", id)
	}
	return r.genotypes[id], nil
}

// Fitness returns the cached fitness of the genotype with the given id.
func (r *Registry) Fitness(id int) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.fitnesses) {
		return 0, fmt.Errorf("genotype id %d out of range", id)
	}
	return r.fitnesses[id], nil
}

// Mutate draws one new mutation for the genotype with the given parent id
// and returns the id of the resulting genotype, registering it if new. The
// site is chosen uniformly among the table's sites; mutating an occupied
// site reverts the previous mutation first and never redraws it. If the
// only available mutation at an occupied site is the current one, the site
// reverts to wild type.
func (r *Registry) Mutate(rng *rand.Rand, parentID int) (int, error) {
	parent, err := r.Genotype(parentID)
	if err != nil {
		return 0, err
	}

	site := r.sites[rng.IntN(len(r.sites))]

	prev := ""
	next := make([]model.Mutation, 0, len(parent.Mutations)+1)
	for _, m := range parent.Mutations {
		if m.Site == site {
			prev = m.Name
			continue
		}
		next = append(next, m)
	}

	candidates := r.table.MutationsAt(site)
	if prev != "" {
		trimmed := candidates[:0]
		for _, name := range candidates {
			if name != prev {
				trimmed = append(trimmed, name)
			}
		}
		candidates = trimmed
	}
	if len(candidates) > 0 {
		name := candidates[rng.IntN(len(candidates))]
		next = append(next, model.Mutation{Site: site, Name: name})
		sort.Slice(next, func(i, j int) bool { return next[i].Site < next[j].Site })
	}

	return r.register(next, parentID, parent.NumMutations+1)
}

// register adds a mutation set if unseen, computing its fitness eagerly,
// and returns its id.
func (r *Registry) register(muts []model.Mutation, parentID, numMutations int) (int, error) {
	key := ddg.Key(muts)

	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	f, err := r.eval.Fitness(muts)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byKey[key]; ok {
		return id, nil
	}
	id = len(r.genotypes)
	r.genotypes = append(r.genotypes, Genotype{
		ID:           id,
		ParentID:     parentID,
		Mutations:    append([]model.Mutation(nil), muts...),
		NumMutations: numMutations,
	})
	r.fitnesses = append(r.fitnesses, f)
	r.byKey[key] = id
	return id, nil
}

// WildTypeSequence renders the wild-type residues at the table's sites, in
// ascending site order.
func (r *Registry) WildTypeSequence() string {
	var b strings.Builder
	for _, site := range r.sites {
		wt, _ := r.table.WildTypeResidue(site)
		b.WriteByte(wt)
	}
	return b.String()
}

// Sequence renders the genotype's sequence against the wild type.
func (r *Registry) Sequence(id int) (string, error) {
	g, err := r.Genotype(id)
	if err != nil {
		return "", err
	}
	seq := []byte(r.WildTypeSequence())
	pos := make(map[int]int, len(r.sites))
	for i, site := range r.sites {
		pos[site] = i
	}
	for _, m := range g.Mutations {
		seq[pos[m.Site]] = m.Name[len(m.Name)-1]
	}
	return string(seq), nil
}

// Records exports the genotype table for output, one row per distinct
// genotype in id order.
func (r *Registry) Records() ([]model.GenotypeRecord, error) {
	r.mu.RLock()
	n := len(r.genotypes)
	r.mu.RUnlock()

	out := make([]model.GenotypeRecord, 0, n)
	for id := 0; id < n; id++ {
		g, err := r.Genotype(id)
		if err != nil {
			return nil, err
		}
		seq, err := r.Sequence(id)
		if err != nil {
			return nil, err
		}
		out = append(out, model.GenotypeRecord{
			ID:           g.ID,
			ParentID:     g.ParentID,
			Mutations:    g.Key(),
			NumMutations: g.NumMutations,
			Sequence:     seq,
		})
	}
	return out, nil
}
