package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"thermoevo/internal/model"
)

var (
	// ErrConfiguration wraps every construction-time validation failure.
	ErrConfiguration = errors.New("invalid simulation configuration")

	// ErrRunAborted wraps any failure during the generation loop.
	ErrRunAborted = errors.New("run aborted")
)

// State is the simulator lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateRunning       State = "running"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
)

// Config parameterizes one Wright-Fisher run.
type Config struct {
	PopulationSize int
	MutationRate   float64
	Generations    int
	BurnIn         int
	Seed           uint64
}

func (c Config) validate() error {
	if c.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0, got %d", ErrConfiguration, c.PopulationSize)
	}
	if c.MutationRate < 0 || c.MutationRate >= 1 {
		return fmt.Errorf("%w: mutation rate must be in [0,1), got %v", ErrConfiguration, c.MutationRate)
	}
	if c.Generations <= 0 {
		return fmt.Errorf("%w: generations must be > 0, got %d", ErrConfiguration, c.Generations)
	}
	if c.BurnIn < 0 {
		return fmt.Errorf("%w: burn-in must be >= 0, got %d", ErrConfiguration, c.BurnIn)
	}
	return nil
}

// Simulator runs discrete Wright-Fisher generations over a registry-backed
// population. One seeded generator drives every draw, advanced strictly
// sequentially, so a run is bit-for-bit reproducible from its seed.
type Simulator struct {
	cfg   Config
	reg   *Registry
	rng   *rand.Rand
	state State
}

// New validates the configuration and prepares a simulator in the
// uninitialized state.
func New(cfg Config, reg *Registry) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, fmt.Errorf("%w: genotype registry is required", ErrConfiguration)
	}
	return &Simulator{
		cfg:   cfg,
		reg:   reg,
		rng:   NewRNG(cfg.Seed),
		state: StateUninitialized,
	}, nil
}

// NewRNG returns the deterministic generator used for a run or branch.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// State reports the simulator lifecycle state.
func (s *Simulator) State() State { return s.state }

// Registry returns the registry the simulator appends to.
func (s *Simulator) Registry() *Registry { return s.reg }

// Run starts from an all-wild-type population, runs the burn-in without
// recording, then records Generations transitions. The returned history
// has Generations+1 records; record 0 is the post-burn-in starting state.
func (s *Simulator) Run(ctx context.Context) ([]model.GenerationRecord, error) {
	s.state = StateRunning

	start := map[int]int64{0: int64(s.cfg.PopulationSize)}
	if s.cfg.BurnIn > 0 {
		burned, err := Evolve(ctx, s.reg, s.rng, start, s.cfg.MutationRate, s.cfg.BurnIn)
		if err != nil {
			s.state = StateFailed
			return nil, err
		}
		start = burned[len(burned)-1].Counts
	}

	history, err := Evolve(ctx, s.reg, s.rng, start, s.cfg.MutationRate, s.cfg.Generations)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.state = StateComplete
	return history, nil
}

// Evolve runs `transitions` Wright-Fisher generation transitions from the
// starting counts, returning transitions+1 records (the start state plus
// one per transition). Each transition mutates, evaluates fitness, then
// resamples multinomially with probability proportional to count times
// fitness; counts sum to the population size at every record.
func Evolve(ctx context.Context, reg *Registry, rng *rand.Rand, start map[int]int64, mutationRate float64, transitions int) ([]model.GenerationRecord, error) {
	if transitions < 0 {
		return nil, fmt.Errorf("%w: transitions must be >= 0, got %d", ErrConfiguration, transitions)
	}

	popSize := 0
	population := make([]int, 0)
	for _, id := range sortedIDs(start) {
		n := start[id]
		if n < 0 {
			return nil, fmt.Errorf("%w: negative count for genotype %d", ErrConfiguration, id)
		}
		popSize += int(n)
		for i := int64(0); i < n; i++ {
			population = append(population, id)
		}
	}
	if popSize == 0 {
		return nil, fmt.Errorf("%w: starting population is empty", ErrConfiguration)
	}

	history := make([]model.GenerationRecord, 0, transitions+1)
	history = append(history, model.GenerationRecord{Index: 0, Counts: countGenotypes(population)})

	expectedMutations := mutationRate * float64(popSize)
	for gen := 1; gen <= transitions; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: generation %d: %w", ErrRunAborted, gen, err)
		}

		// Mutation step. The Poisson draw caps at the population size so
		// no individual mutates twice in one generation.
		if expectedMutations > 0 {
			numToMutate := int(distuv.Poisson{Lambda: expectedMutations, Src: rng}.Rand())
			if numToMutate > popSize {
				numToMutate = popSize
			}
			for j := 0; j < numToMutate; j++ {
				// Partial shuffle picks j-th victim uniformly among the
				// not-yet-mutated individuals.
				k := j + rng.IntN(popSize-j)
				population[j], population[k] = population[k], population[j]

				mutated, err := reg.Mutate(rng, population[j])
				if err != nil {
					return nil, fmt.Errorf("%w: generation %d: %w", ErrRunAborted, gen, err)
				}
				population[j] = mutated
			}
		}

		// Fitness step over distinct genotypes, then selection + drift via
		// multinomial resampling.
		counts := countGenotypes(population)
		ids := sortedIDs(counts)
		probs := make([]float64, len(ids))
		total := 0.0
		for i, id := range ids {
			f, err := reg.Fitness(id)
			if err != nil {
				return nil, fmt.Errorf("%w: generation %d: %w", ErrRunAborted, gen, err)
			}
			probs[i] = float64(counts[id]) * f
			total += probs[i]
		}
		if total == 0 {
			// Every genotype is equally unfit; drift alone decides.
			for i := range probs {
				probs[i] = 1
			}
			total = float64(len(probs))
		}
		for i := range probs {
			probs[i] /= total
		}

		drawn := multinomial(rng, int64(popSize), probs)
		population = population[:0]
		nextCounts := make(map[int]int64, len(ids))
		for i, id := range ids {
			if drawn[i] == 0 {
				continue
			}
			nextCounts[id] = drawn[i]
			for n := int64(0); n < drawn[i]; n++ {
				population = append(population, id)
			}
		}

		history = append(history, model.GenerationRecord{Index: gen, Counts: nextCounts})
	}

	return history, nil
}

// multinomial draws counts for each probability bucket summing to n, via
// the conditional-binomial chain.
func multinomial(rng *rand.Rand, n int64, probs []float64) []int64 {
	counts := make([]int64, len(probs))
	remaining := n
	rest := 1.0
	for i := range probs {
		if remaining == 0 {
			break
		}
		if i == len(probs)-1 || rest <= probs[i] {
			counts[i] = remaining
			break
		}
		p := probs[i] / rest
		if p > 1 {
			p = 1
		}
		var draw int64
		if p > 0 {
			draw = int64(distuv.Binomial{N: float64(remaining), P: p, Src: rng}.Rand())
		}
		if draw > remaining {
			draw = remaining
		}
		counts[i] = draw
		remaining -= draw
		rest -= probs[i]
	}
	return counts
}

// Dominant returns the most frequent genotype id, breaking ties toward the
// lowest id.
func Dominant(counts map[int]int64) int {
	best := -1
	var bestCount int64 = -1
	for _, id := range sortedIDs(counts) {
		if counts[id] > bestCount {
			best = id
			bestCount = counts[id]
		}
	}
	return best
}

func countGenotypes(population []int) map[int]int64 {
	counts := make(map[int]int64)
	for _, id := range population {
		counts[id]++
	}
	return counts
}

func sortedIDs(counts map[int]int64) []int {
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
