package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// SpeciesRecord describes one conformational or binding state of the
// macromolecule. Stoich maps ligand name to binding stoichiometry; ligands
// absent from the map do not bind this species.
type SpeciesRecord struct {
	Name       string             `json:"name" yaml:"name" csv:"name"`
	DG0        float64            `json:"dG0" yaml:"dG0" csv:"dG0"`
	Observable bool               `json:"observable" yaml:"observable" csv:"observable"`
	Folded     bool               `json:"folded" yaml:"folded" csv:"folded"`
	Stoich     map[string]float64 `json:"stoich,omitempty" yaml:"stoich,omitempty" csv:"-"`
}

// Mutation is one substitution at one site. Name follows the wt-site-mut
// convention, e.g. "L1P" is site 1 going from L to P.
type Mutation struct {
	Site int    `json:"site"`
	Name string `json:"name"`
}

// GenotypeRecord is one row of the genotype table output. ParentID is -1
// for the wild type.
type GenotypeRecord struct {
	ID           int    `json:"id" csv:"id"`
	ParentID     int    `json:"parent_id" csv:"parent_id"`
	Mutations    string `json:"mutations" csv:"mutations"`
	NumMutations int    `json:"num_mutations" csv:"num_mutations"`
	Sequence     string `json:"sequence" csv:"sequence"`
}

// GenerationRecord is the population snapshot at one generation: genotype
// id to individual count. Counts sum to the population size.
type GenerationRecord struct {
	Index  int           `json:"index"`
	Counts map[int]int64 `json:"counts"`
}

// ConditionRecord is one named selective regime: ligand chemical potentials,
// the fitness function applied to the ensemble observable, and optional
// folded-fraction gating.
type ConditionRecord struct {
	Name            string             `json:"name" yaml:"name"`
	FitnessFn       string             `json:"fitness_fn" yaml:"fitness_fn"`
	SelectOn        string             `json:"select_on,omitempty" yaml:"select_on,omitempty"`
	Ligands         map[string]float64 `json:"ligands,omitempty" yaml:"ligands,omitempty"`
	FoldedThreshold float64            `json:"folded_threshold,omitempty" yaml:"folded_threshold,omitempty"`
	Temperature     float64            `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// NodeRecord is the simulated state fixed at one tree node.
type NodeRecord struct {
	Name       string `json:"name"`
	GenotypeID int    `json:"genotype_id"`
	Sequence   string `json:"sequence"`
}

// RunManifest captures every input to a run plus the seed actually used,
// written once at run start. Replaying with the stored seed reproduces the
// run exactly.
type RunManifest struct {
	VersionedRecord
	RunID           string            `json:"run_id"`
	CalcType        string            `json:"calc_type"`
	CreatedAt       time.Time         `json:"created_at"`
	Seed            uint64            `json:"seed"`
	PopulationSize  int               `json:"population_size"`
	MutationRate    float64           `json:"mutation_rate"`
	Generations     int               `json:"generations"`
	BurnIn          int               `json:"burn_in"`
	GenerationScale float64           `json:"generation_scale,omitempty"`
	GasConstant     float64           `json:"gas_constant"`
	Species         []SpeciesRecord   `json:"species"`
	Conditions      []ConditionRecord `json:"conditions"`
	DdgPath         string            `json:"ddg_path,omitempty"`
	TreeNewick      string            `json:"tree_newick,omitempty"`
}
