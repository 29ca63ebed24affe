package phylo

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"thermoevo/internal/model"
	"thermoevo/internal/sim"
)

// DefaultGenerationScale converts branch lengths to generation counts when
// the configuration leaves the scale unset.
const DefaultGenerationScale = 100

// DriverConfig parameterizes a tree-following run. GenerationScale maps a
// branch of length L to max(1, round(L*GenerationScale)) generations; the
// one-generation floor means zero-length edges still evolve briefly.
type DriverConfig struct {
	PopulationSize  int
	MutationRate    float64
	BurnIn          int
	Seed            uint64
	GenerationScale float64
}

// Driver replays the Wright-Fisher simulator along a rooted tree. At each
// internal node the final population is the shared starting state of every
// child branch; branches diverge under independently derived generators.
type Driver struct {
	cfg  DriverConfig
	reg  *sim.Registry
	root *Node
}

// Result is a completed tree run.
type Result struct {
	Root *Node

	// BranchHistories holds the generation records of every simulated
	// segment, keyed "parent->child" ("burn-in" for the root segment).
	BranchHistories map[string][]model.GenerationRecord
}

// NewDriver validates the configuration against the tree.
func NewDriver(cfg DriverConfig, reg *sim.Registry, root *Node) (*Driver, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: genotype registry is required", sim.ErrConfiguration)
	}
	if root == nil {
		return nil, fmt.Errorf("%w: tree is required", sim.ErrConfiguration)
	}
	if root.IsLeaf() {
		return nil, fmt.Errorf("%w: tree root has no children", sim.ErrConfiguration)
	}
	if cfg.PopulationSize <= 0 {
		return nil, fmt.Errorf("%w: population size must be > 0, got %d", sim.ErrConfiguration, cfg.PopulationSize)
	}
	if cfg.MutationRate < 0 || cfg.MutationRate >= 1 {
		return nil, fmt.Errorf("%w: mutation rate must be in [0,1), got %v", sim.ErrConfiguration, cfg.MutationRate)
	}
	if cfg.BurnIn < 0 {
		return nil, fmt.Errorf("%w: burn-in must be >= 0, got %d", sim.ErrConfiguration, cfg.BurnIn)
	}
	if cfg.GenerationScale < 0 {
		return nil, fmt.Errorf("%w: generation scale must be >= 0, got %v", sim.ErrConfiguration, cfg.GenerationScale)
	}
	if cfg.GenerationScale == 0 {
		cfg.GenerationScale = DefaultGenerationScale
	}
	return &Driver{cfg: cfg, reg: reg, root: root}, nil
}

// BranchGenerations is the branch-length-to-generations policy.
func BranchGenerations(length, scale float64) int {
	g := int(math.Round(length * scale))
	if g < 1 {
		g = 1
	}
	return g
}

// Run simulates the whole tree. A failure on any branch aborts the run;
// partial trees are not a valid result.
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	nameAncestors(d.root)

	result := &Result{
		Root:            d.root,
		BranchHistories: make(map[string][]model.GenerationRecord),
	}

	// Burn in at the root to reach a mutation-selection regime; the root's
	// genotype is the dominant genotype of the resulting population.
	branchIndex := uint64(0)
	rng := d.branchRNG(branchIndex)
	start := map[int]int64{0: int64(d.cfg.PopulationSize)}
	burnIn, err := sim.Evolve(ctx, d.reg, rng, start, d.cfg.MutationRate, d.cfg.BurnIn)
	if err != nil {
		return nil, fmt.Errorf("burn-in: %w", err)
	}
	result.BranchHistories["burn-in"] = burnIn

	populations := map[*Node]map[int]int64{
		d.root: burnIn[len(burnIn)-1].Counts,
	}
	if err := d.fixNode(d.root, populations[d.root]); err != nil {
		return nil, err
	}

	var runErr error
	d.root.LevelOrder(func(n *Node) {
		if runErr != nil || n.IsLeaf() {
			return
		}
		parentPop := populations[n]
		for _, child := range n.Children {
			if runErr != nil {
				return
			}
			branchIndex++
			generations := BranchGenerations(child.Length, d.cfg.GenerationScale)

			history, err := sim.Evolve(ctx, d.reg, d.branchRNG(branchIndex), parentPop, d.cfg.MutationRate, generations)
			if err != nil {
				runErr = fmt.Errorf("branch %s->%s: %w", n.Name, child.Name, err)
				return
			}
			result.BranchHistories[n.Name+"->"+child.Name] = history
			populations[child] = history[len(history)-1].Counts
			if err := d.fixNode(child, populations[child]); err != nil {
				runErr = err
				return
			}
		}
	})
	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// branchRNG derives the deterministic sub-generator for one branch from
// the root seed and the branch's stable index. Sequential and parallel
// branch execution therefore agree.
func (d *Driver) branchRNG(branchIndex uint64) *rand.Rand {
	return rand.New(rand.NewPCG(d.cfg.Seed, branchIndex))
}

// fixNode records the representative genotype of a node: the most frequent
// genotype of its end-of-branch population.
func (d *Driver) fixNode(n *Node, counts map[int]int64) error {
	dom := sim.Dominant(counts)
	seq, err := d.reg.Sequence(dom)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.Name, err)
	}
	n.Genotype = dom
	n.Sequence = seq
	return nil
}

// nameAncestors assigns anc-style names to unnamed internal nodes, padded
// to a stable width, in level order.
func nameAncestors(root *Node) {
	unnamed := 0
	root.LevelOrder(func(n *Node) {
		if !n.IsLeaf() && n.Name == "" {
			unnamed++
		}
	})
	width := len(fmt.Sprintf("%d", unnamed)) + 1

	counter := 0
	root.LevelOrder(func(n *Node) {
		if !n.IsLeaf() && n.Name == "" {
			n.Name = fmt.Sprintf("anc%0*d", width, counter)
			counter++
		}
	})
}

// NodeRecords exports every node's fixed state in level order.
func (r *Result) NodeRecords() []model.NodeRecord {
	var out []model.NodeRecord
	r.Root.LevelOrder(func(n *Node) {
		out = append(out, model.NodeRecord{
			Name:       n.Name,
			GenotypeID: n.Genotype,
			Sequence:   n.Sequence,
		})
	})
	return out
}

// Alignment renders the simulated sequences as FASTA, one entry per leaf,
// plus internal (ancestral) nodes when includeInternal is set.
func (r *Result) Alignment(includeInternal bool) string {
	var b strings.Builder
	r.Root.LevelOrder(func(n *Node) {
		if !includeInternal && !n.IsLeaf() {
			return
		}
		fmt.Fprintf(&b, ">%s\n%s\n", n.Name, n.Sequence)
	})
	return b.String()
}
