// Package epistasis quantifies non-additive interactions between pairs of
// mutation sets across a ligand titration. All functions are pure; each
// scan point can be computed independently.
package epistasis

import (
	"fmt"

	"thermoevo/internal/ddg"
	"thermoevo/internal/ensemble"
	"thermoevo/internal/fitness"
	"thermoevo/internal/model"
)

// Scan holds one completed epistasis scan. WT, A, B and AB are the selected
// observable of the wild type, the two single mutants and the double mutant
// at each scanned potential; Ep is the epistasis magnitude
// AB - A - B + WT at the same points.
type Scan struct {
	Axis     string
	SelectOn string
	Values   []float64

	WT []float64
	A  []float64
	B  []float64
	AB []float64
	Ep []float64
}

// Magnitude is the deviation of the double mutant's effect from the
// additive expectation of the two singles. Zero means no epistasis on the
// chosen axis.
func Magnitude(wt, a, b, ab float64) float64 {
	return ab - a - b + wt
}

// Run titrates axisLigand over the given chemical potentials and computes
// the observable curve of the wild type, both single mutants and their
// combination, plus the epistasis magnitude curve. The two mutation sets
// must not overlap at any site; their union is the double mutant.
func Run(ens *ensemble.Ensemble, table *ddg.Table, mutsA, mutsB []model.Mutation, axisLigand string, values []float64, fixed map[string]float64, selectOn string, temperature float64) (*Scan, error) {
	if ens == nil || table == nil {
		return nil, fmt.Errorf("ensemble and ddg table are required")
	}
	if axisLigand == "" {
		return nil, fmt.Errorf("scan axis ligand is required")
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("scan requires at least one potential value")
	}
	if err := table.Bind(ens); err != nil {
		return nil, err
	}
	if selectOn == "" {
		selectOn = fitness.SelectFxObs
	}
	if temperature <= 0 {
		temperature = ensemble.DefaultTemperature
	}

	double, err := combine(mutsA, mutsB)
	if err != nil {
		return nil, err
	}

	curves := make([][]float64, 4)
	for i, muts := range [][]model.Mutation{nil, mutsA, mutsB, double} {
		score, err := table.Score(muts)
		if err != nil {
			return nil, fmt.Errorf("genotype %q: %w", ddg.Key(muts), err)
		}
		offsets := ens.OffsetVector(score)
		points, err := ens.ScanObservables(axisLigand, values, fixed, offsets, temperature)
		if err != nil {
			return nil, fmt.Errorf("genotype %q: %w", ddg.Key(muts), err)
		}
		curve := make([]float64, len(points))
		for j, obs := range points {
			v, err := fitness.SelectValue(obs, selectOn)
			if err != nil {
				return nil, err
			}
			curve[j] = v
		}
		curves[i] = curve
	}

	scan := &Scan{
		Axis:     axisLigand,
		SelectOn: selectOn,
		Values:   append([]float64(nil), values...),
		WT:       curves[0],
		A:        curves[1],
		B:        curves[2],
		AB:       curves[3],
		Ep:       make([]float64, len(values)),
	}
	for i := range scan.Ep {
		scan.Ep[i] = Magnitude(scan.WT[i], scan.A[i], scan.B[i], scan.AB[i])
	}
	return scan, nil
}

// combine merges two mutation sets into the double-mutant genotype,
// rejecting site collisions.
func combine(a, b []model.Mutation) ([]model.Mutation, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("both mutation sets must be non-empty")
	}
	seen := make(map[int]string, len(a))
	for _, m := range a {
		seen[m.Site] = m.Name
	}
	for _, m := range b {
		if prev, ok := seen[m.Site]; ok {
			return nil, fmt.Errorf("mutation sets collide at site %d (%s vs %s)", m.Site, prev, m.Name)
		}
	}
	out := append([]model.Mutation(nil), a...)
	return append(out, b...), nil
}
