// Package ensemble computes equilibrium populations of a thermodynamic
// ensemble: a set of macromolecular species whose free energies are
// perturbed by mutations and by ligand chemical potentials.
package ensemble

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"thermoevo/internal/model"
)

const (
	// DefaultGasConstant is in kcal/(mol*K); it sets the energy units for
	// every dG in the ensemble.
	DefaultGasConstant = 0.001987

	// DefaultTemperature is the reference temperature in Kelvin.
	DefaultTemperature = 298.15
)

// ErrNumericalInstability is returned when every species weight underflows
// to zero and the equilibrium is undefined.
var ErrNumericalInstability = errors.New("all species weights underflowed")

// maxExponent caps the largest Boltzmann exponent after shifting. Weights
// far below the maximum may underflow, but those species carry negligible
// population anyway.
var maxExponent = math.Log(math.MaxFloat64) * 0.01

// Ensemble holds species in insertion order. Build it with AddSpecies
// before any simulation starts; queries never mutate it, so a built
// ensemble is safe for concurrent readers.
type Ensemble struct {
	gasConstant float64
	species     []model.SpeciesRecord
	index       map[string]int
	ligands     []string
	ligandSeen  map[string]struct{}
}

// New returns an empty ensemble using DefaultGasConstant.
func New() *Ensemble {
	e, _ := NewWithGasConstant(DefaultGasConstant)
	return e
}

// NewWithGasConstant returns an empty ensemble whose energies are in units
// set by gasConstant.
func NewWithGasConstant(gasConstant float64) (*Ensemble, error) {
	if gasConstant <= 0 || math.IsNaN(gasConstant) || math.IsInf(gasConstant, 0) {
		return nil, fmt.Errorf("gas constant must be a positive finite number, got %v", gasConstant)
	}
	return &Ensemble{
		gasConstant: gasConstant,
		index:       make(map[string]int),
		ligandSeen:  make(map[string]struct{}),
	}, nil
}

// AddSpecies appends a species. Names must be unique and stoichiometries
// non-negative.
func (e *Ensemble) AddSpecies(sp model.SpeciesRecord) error {
	if sp.Name == "" {
		return fmt.Errorf("species name is required")
	}
	if _, exists := e.index[sp.Name]; exists {
		return fmt.Errorf("species %q is already in the ensemble", sp.Name)
	}
	for lig, stoich := range sp.Stoich {
		if stoich < 0 {
			return fmt.Errorf("species %q: stoichiometry for ligand %q must be >= 0, got %v", sp.Name, lig, stoich)
		}
	}

	e.index[sp.Name] = len(e.species)
	stoich := make(map[string]float64, len(sp.Stoich))
	for lig, v := range sp.Stoich {
		stoich[lig] = v
	}
	sp.Stoich = stoich
	e.species = append(e.species, sp)

	// Ligand order is the order of first appearance across species.
	for _, lig := range sortedKeys(sp.Stoich) {
		if _, seen := e.ligandSeen[lig]; !seen {
			e.ligandSeen[lig] = struct{}{}
			e.ligands = append(e.ligands, lig)
		}
	}
	return nil
}

// Len reports the number of species.
func (e *Ensemble) Len() int { return len(e.species) }

// Species returns species names in insertion order.
func (e *Ensemble) Species() []string {
	names := make([]string, len(e.species))
	for i, sp := range e.species {
		names[i] = sp.Name
	}
	return names
}

// HasSpecies reports whether name has been added.
func (e *Ensemble) HasSpecies(name string) bool {
	_, ok := e.index[name]
	return ok
}

// Ligands returns ligand names in order of first appearance.
func (e *Ensemble) Ligands() []string {
	return append([]string(nil), e.ligands...)
}

// GasConstant returns the gas constant the ensemble was built with.
func (e *Ensemble) GasConstant() float64 { return e.gasConstant }

// SpeciesTable returns a copy of the species records, for manifests.
func (e *Ensemble) SpeciesTable() []model.SpeciesRecord {
	out := make([]model.SpeciesRecord, len(e.species))
	for i, sp := range e.species {
		stoich := make(map[string]float64, len(sp.Stoich))
		for k, v := range sp.Stoich {
			stoich[k] = v
		}
		sp.Stoich = stoich
		out[i] = sp
	}
	return out
}

// OffsetVector converts a species-keyed dG offset map into a vector in
// species insertion order. Species absent from the map get zero.
func (e *Ensemble) OffsetVector(offsets map[string]float64) []float64 {
	vec := make([]float64, len(e.species))
	for name, v := range offsets {
		if i, ok := e.index[name]; ok {
			vec[i] = v
		}
	}
	return vec
}

// PotentialFromConcentration maps a ligand concentration to a chemical
// potential, mu = RT ln(c), relative to the 1-unit reference state. A zero
// concentration maps to -Inf, which drives the weight of every species
// binding that ligand to zero rather than failing.
func (e *Ensemble) PotentialFromConcentration(c, temperature float64) float64 {
	if c <= 0 {
		return math.Inf(-1)
	}
	return e.gasConstant * temperature * math.Log(c)
}

// SpeciesEnergy returns the effective free energy of one species at the
// given ligand potentials and dG offset.
func (e *Ensemble) SpeciesEnergy(name string, potentials map[string]float64, offset float64) (float64, error) {
	i, ok := e.index[name]
	if !ok {
		return 0, fmt.Errorf("species %q not recognized; has it been added via AddSpecies?", name)
	}
	return e.energy(i, potentials, offset), nil
}

// energy computes dG0 + offset - sum(stoich * mu) for species i. Ligands
// missing from potentials contribute zero. A -Inf potential on a bound
// ligand yields +Inf, i.e. zero Boltzmann weight.
func (e *Ensemble) energy(i int, potentials map[string]float64, offset float64) float64 {
	sp := e.species[i]
	dG := sp.DG0 + offset
	for lig, stoich := range sp.Stoich {
		if stoich == 0 {
			continue
		}
		mu, ok := potentials[lig]
		if !ok {
			continue
		}
		if math.IsInf(mu, -1) {
			return math.Inf(1)
		}
		dG -= stoich * mu
	}
	return dG
}

// weights fills w with Boltzmann weights at the given conditions. Computed
// in log space and shifted so the largest exponent is maxExponent; species
// whose weight still underflows are treated as unpopulated.
func (e *Ensemble) weights(potentials map[string]float64, offsets []float64, temperature float64, w []float64) error {
	if len(e.species) == 0 {
		return fmt.Errorf("ensemble has no species")
	}
	if temperature <= 0 || math.IsNaN(temperature) {
		return fmt.Errorf("temperature must be > 0, got %v", temperature)
	}
	if offsets != nil && len(offsets) != len(e.species) {
		return fmt.Errorf("offset vector length %d does not match species count %d", len(offsets), len(e.species))
	}

	beta := 1 / (e.gasConstant * temperature)
	maxw := math.Inf(-1)
	for i := range e.species {
		var off float64
		if offsets != nil {
			off = offsets[i]
		}
		w[i] = -beta * e.energy(i, potentials, off)
		if w[i] > maxw {
			maxw = w[i]
		}
	}
	if math.IsInf(maxw, -1) {
		return fmt.Errorf("%w: every species has infinite energy", ErrNumericalInstability)
	}

	shift := maxExponent - maxw
	for i := range w {
		w[i] = math.Exp(w[i] + shift)
	}
	if floats.Sum(w) == 0 {
		return ErrNumericalInstability
	}
	return nil
}

// Observables bundles the equilibrium outputs at one condition. Fractions
// is indexed by species insertion order.
type Observables struct {
	Fractions []float64
	FxObs     float64
	DGObs     float64
	FxFolded  float64
}

// Fractions returns the equilibrium fractional population of each species,
// in insertion order, at the given ligand chemical potentials, per-species
// dG offsets (nil for none) and temperature. Fractions sum to 1.
func (e *Ensemble) Fractions(potentials map[string]float64, offsets []float64, temperature float64) ([]float64, error) {
	w := make([]float64, len(e.species))
	if err := e.weights(potentials, offsets, temperature, w); err != nil {
		return nil, err
	}
	floats.Scale(1/floats.Sum(w), w)
	return w, nil
}

// Observables computes species fractions plus the derived observables:
// fx_obs (fraction in observable species), dG_obs (-RT ln(obs/notObs), NaN
// when either side is empty) and fx_folded. The ensemble must contain at
// least one observable and one non-observable species.
func (e *Ensemble) Observables(potentials map[string]float64, offsets []float64, temperature float64) (Observables, error) {
	nObs := 0
	for _, sp := range e.species {
		if sp.Observable {
			nObs++
		}
	}
	if nObs == 0 || nObs == len(e.species) {
		return Observables{}, fmt.Errorf("observable requires at least one observable and one non-observable species")
	}

	w := make([]float64, len(e.species))
	if err := e.weights(potentials, offsets, temperature, w); err != nil {
		return Observables{}, err
	}

	var obs, notObs, folded, unfolded float64
	for i, sp := range e.species {
		if sp.Observable {
			obs += w[i]
		} else {
			notObs += w[i]
		}
		if sp.Folded {
			folded += w[i]
		} else {
			unfolded += w[i]
		}
	}

	total := floats.Sum(w)
	floats.Scale(1/total, w)

	out := Observables{
		Fractions: w,
		FxObs:     obs / (obs + notObs),
		FxFolded:  folded / (folded + unfolded),
	}
	if obs == 0 || notObs == 0 {
		out.DGObs = math.NaN()
	} else {
		out.DGObs = -e.gasConstant * temperature * math.Log(obs/notObs)
	}
	return out, nil
}

// ObservableFraction is a convenience wrapper returning only fx_obs.
func (e *Ensemble) ObservableFraction(potentials map[string]float64, offsets []float64, temperature float64) (float64, error) {
	obs, err := e.Observables(potentials, offsets, temperature)
	if err != nil {
		return 0, err
	}
	return obs.FxObs, nil
}

// ScanObservables evaluates Observables across a sweep of one ligand's
// chemical potential, holding the other ligands at fixed. Safe to call
// concurrently; each point is independent.
func (e *Ensemble) ScanObservables(axisLigand string, values []float64, fixed map[string]float64, offsets []float64, temperature float64) ([]Observables, error) {
	out := make([]Observables, len(values))
	potentials := make(map[string]float64, len(fixed)+1)
	for k, v := range fixed {
		potentials[k] = v
	}
	for i, mu := range values {
		potentials[axisLigand] = mu
		obs, err := e.Observables(potentials, offsets, temperature)
		if err != nil {
			return nil, fmt.Errorf("scan point %d (%s=%v): %w", i, axisLigand, mu, err)
		}
		out[i] = obs
	}
	return out, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Ligand order across species follows first appearance; within one
	// species sort for stability.
	sort.Strings(keys)
	return keys
}
