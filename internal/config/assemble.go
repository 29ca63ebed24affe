package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"thermoevo/internal/ddg"
	"thermoevo/internal/ensemble"
	"thermoevo/internal/fitness"
	"thermoevo/internal/model"
	"thermoevo/internal/phylo"
	"thermoevo/internal/sim"
)

// World is a fully assembled run: every component constructed and bound,
// ready to simulate.
type World struct {
	Ensemble   *ensemble.Ensemble
	Table      *ddg.Table
	Evaluator  *fitness.Evaluator
	Registry   *sim.Registry
	Species    []model.SpeciesRecord
	Conditions []fitness.Condition

	// Root and TreeNewick are set for tree runs only.
	Root       *phylo.Node
	TreeNewick string
}

// Assemble loads the referenced files and wires the run components
// together. Any inconsistency between the species set, the ddg table and
// the conditions surfaces here, before simulation starts.
func (c *RunConfig) Assemble() (*World, error) {
	species, gasConstant, err := c.EnsembleDefinition()
	if err != nil {
		return nil, err
	}

	ens := ensemble.New()
	if gasConstant != 0 {
		ens, err = ensemble.NewWithGasConstant(gasConstant)
		if err != nil {
			return nil, err
		}
	}
	for _, sp := range species {
		if err := ens.AddSpecies(sp); err != nil {
			return nil, err
		}
	}

	table, err := ddg.Load(c.DdgPath())
	if err != nil {
		return nil, err
	}

	fnReg := fitness.NewRegistry()
	conditions := make([]fitness.Condition, 0, len(c.Conditions))
	for _, rec := range c.Conditions {
		cond, err := fitness.NewCondition(rec, fnReg)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}

	eval, err := fitness.NewEvaluator(ens, table, conditions)
	if err != nil {
		return nil, err
	}
	registry, err := sim.NewRegistry(table, eval)
	if err != nil {
		return nil, err
	}

	world := &World{
		Ensemble:   ens,
		Table:      table,
		Evaluator:  eval,
		Registry:   registry,
		Species:    species,
		Conditions: conditions,
	}

	if c.CalcType == CalcTree {
		newick, err := c.TreeNewick()
		if err != nil {
			return nil, err
		}
		root, err := phylo.Parse(newick)
		if err != nil {
			return nil, fmt.Errorf("parse tree: %w", err)
		}
		world.Root = root
		world.TreeNewick = newick
	}
	return world, nil
}

// Manifest builds the run manifest recording every input plus the seed
// actually used.
func (c *RunConfig) Manifest(seed uint64, world *World) model.RunManifest {
	scale := 0.0
	if c.Tree != nil {
		scale = c.Tree.GenerationScale
		if scale == 0 {
			scale = phylo.DefaultGenerationScale
		}
	}
	return model.RunManifest{
		RunID:           uuid.NewString(),
		CalcType:        c.CalcType,
		CreatedAt:       time.Now().UTC(),
		Seed:            seed,
		PopulationSize:  c.Simulation.PopulationSize,
		MutationRate:    c.Simulation.MutationRate,
		Generations:     c.Simulation.Generations,
		BurnIn:          c.Simulation.BurnIn,
		GenerationScale: scale,
		GasConstant:     world.Ensemble.GasConstant(),
		Species:         world.Species,
		Conditions:      c.Conditions,
		DdgPath:         c.DdgPath(),
		TreeNewick:      world.TreeNewick,
	}
}
