package fitness

import (
	"fmt"
	"math"
	"sync"

	"thermoevo/internal/ddg"
	"thermoevo/internal/ensemble"
	"thermoevo/internal/model"
)

// Condition is one resolved selective regime: ligand chemical potentials,
// the fitness function, and optional folded-fraction gating. Multiple
// conditions combine multiplicatively.
type Condition struct {
	Name            string
	Fn              Function
	SelectOn        string
	Potentials      map[string]float64
	FoldedThreshold float64
	Temperature     float64
}

// NewCondition resolves a condition record against the registry and fills
// in defaults (fx_obs axis, reference temperature).
func NewCondition(rec model.ConditionRecord, reg *Registry) (Condition, error) {
	if rec.FitnessFn == "" {
		return Condition{}, fmt.Errorf("condition %q: fitness_fn is required", rec.Name)
	}
	fn, err := reg.Resolve(rec.FitnessFn)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: %w", rec.Name, err)
	}
	selectOn := rec.SelectOn
	if selectOn == "" {
		selectOn = SelectFxObs
	}
	if selectOn != SelectFxObs && selectOn != SelectDGObs {
		return Condition{}, fmt.Errorf("condition %q: unknown select_on axis %q", rec.Name, selectOn)
	}
	if rec.FoldedThreshold < 0 || rec.FoldedThreshold > 1 {
		return Condition{}, fmt.Errorf("condition %q: folded_threshold must be in [0,1], got %v", rec.Name, rec.FoldedThreshold)
	}
	temperature := rec.Temperature
	if temperature == 0 {
		temperature = ensemble.DefaultTemperature
	}
	if temperature < 0 {
		return Condition{}, fmt.Errorf("condition %q: temperature must be > 0, got %v", rec.Name, temperature)
	}

	potentials := make(map[string]float64, len(rec.Ligands))
	for lig, mu := range rec.Ligands {
		potentials[lig] = mu
	}
	return Condition{
		Name:            rec.Name,
		Fn:              fn,
		SelectOn:        selectOn,
		Potentials:      potentials,
		FoldedThreshold: rec.FoldedThreshold,
		Temperature:     temperature,
	}, nil
}

// Evaluator computes genotype fitness against an ensemble, a ddg table and
// a condition set. The ensemble and table are read-only; the fitness cache
// is internally synchronized.
type Evaluator struct {
	ens        *ensemble.Ensemble
	table      *ddg.Table
	conditions []Condition

	mu    sync.RWMutex
	cache map[string]float64
}

// NewEvaluator binds the pieces together, validating the table against the
// ensemble before any simulation work.
func NewEvaluator(ens *ensemble.Ensemble, table *ddg.Table, conditions []Condition) (*Evaluator, error) {
	if ens == nil {
		return nil, fmt.Errorf("ensemble is required")
	}
	if table == nil {
		return nil, fmt.Errorf("ddg table is required")
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("at least one condition is required")
	}
	if err := table.Bind(ens); err != nil {
		return nil, err
	}
	return &Evaluator{
		ens:        ens,
		table:      table,
		conditions: conditions,
		cache:      make(map[string]float64),
	}, nil
}

// Conditions returns the bound condition set.
func (ev *Evaluator) Conditions() []Condition {
	return append([]Condition(nil), ev.conditions...)
}

// Fitness scores the mutation set against every condition and returns the
// product of per-condition contributions, clamped at zero. The wild type
// (empty set) is the normalization reference.
func (ev *Evaluator) Fitness(muts []model.Mutation) (float64, error) {
	key := ddg.Key(muts)

	ev.mu.RLock()
	cached, ok := ev.cache[key]
	ev.mu.RUnlock()
	if ok {
		return cached, nil
	}

	score, err := ev.table.Score(muts)
	if err != nil {
		return 0, err
	}
	offsets := ev.ens.OffsetVector(score)

	fitness := 1.0
	for _, cond := range ev.conditions {
		obs, err := ev.ens.Observables(cond.Potentials, offsets, cond.Temperature)
		if err != nil {
			return 0, fmt.Errorf("condition %q: %w", cond.Name, err)
		}
		if cond.FoldedThreshold > 0 && obs.FxFolded < cond.FoldedThreshold {
			fitness = 0
			break
		}
		value, err := SelectValue(obs, cond.SelectOn)
		if err != nil {
			return 0, fmt.Errorf("condition %q: %w", cond.Name, err)
		}
		contribution := cond.Fn.Evaluate(value)
		if math.IsNaN(contribution) || contribution < 0 {
			contribution = 0
		}
		fitness *= contribution
	}

	ev.mu.Lock()
	ev.cache[key] = fitness
	ev.mu.Unlock()
	return fitness, nil
}
