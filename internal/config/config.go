// Package config loads and validates run-configuration files. A config is
// YAML binding the ensemble definition, the ddg table path, the selective
// conditions, the simulation parameters and, for tree runs, the tree
// section. Validation happens before any filesystem mutation.
package config

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"thermoevo/internal/model"
)

// Calculation kinds.
const (
	CalcWrightFisher = "wf_sim"
	CalcTree         = "wf_tree_sim"
)

// EnsembleConfig defines the species set, inline or via a JSON file. The
// JSON file is either a bare species array or {"gas_constant": ...,
// "species": [...]}.
type EnsembleConfig struct {
	GasConstant float64               `yaml:"gas_constant,omitempty"`
	Species     []model.SpeciesRecord `yaml:"species,omitempty"`
	File        string                `yaml:"file,omitempty"`
}

// SimConfig carries the Wright-Fisher parameters. A nil Seed means a fresh
// seed is drawn at run start; the drawn value is recorded in the manifest.
type SimConfig struct {
	PopulationSize int     `yaml:"population_size"`
	MutationRate   float64 `yaml:"mutation_rate"`
	Generations    int     `yaml:"generations"`
	BurnIn         int     `yaml:"burn_in,omitempty"`
	Seed           *uint64 `yaml:"seed,omitempty"`
}

// TreeConfig selects the tree for a wf_tree_sim run, inline or from a
// newick file.
type TreeConfig struct {
	Newick          string  `yaml:"newick,omitempty"`
	File            string  `yaml:"file,omitempty"`
	GenerationScale float64 `yaml:"generation_scale,omitempty"`
}

// RunConfig is one complete run description.
type RunConfig struct {
	CalcType   string                  `yaml:"calc_type"`
	Ensemble   EnsembleConfig          `yaml:"ensemble"`
	Ddg        string                  `yaml:"ddg"`
	Conditions []model.ConditionRecord `yaml:"conditions"`
	Simulation SimConfig               `yaml:"simulation"`
	Tree       *TreeConfig             `yaml:"tree,omitempty"`

	baseDir string
}

// Load reads and validates a config file. Relative paths inside the config
// resolve against the config file's directory.
func Load(path string) (*RunConfig, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfig
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.baseDir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks everything that can be checked without touching the
// referenced files.
func (c *RunConfig) Validate() error {
	switch c.CalcType {
	case CalcWrightFisher, CalcTree:
	case "":
		return fmt.Errorf("calc_type is required")
	default:
		return fmt.Errorf("unknown calc_type %q", c.CalcType)
	}

	if len(c.Ensemble.Species) == 0 && c.Ensemble.File == "" {
		return fmt.Errorf("ensemble requires an inline species list or a file reference")
	}
	if len(c.Ensemble.Species) > 0 && c.Ensemble.File != "" {
		return fmt.Errorf("ensemble species and file are mutually exclusive")
	}
	if c.Ensemble.GasConstant < 0 {
		return fmt.Errorf("gas_constant must be > 0, got %v", c.Ensemble.GasConstant)
	}

	if c.Ddg == "" {
		return fmt.Errorf("ddg table path is required")
	}
	if len(c.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for i, cond := range c.Conditions {
		if cond.FitnessFn == "" {
			return fmt.Errorf("condition %d (%q): fitness_fn is required", i, cond.Name)
		}
	}

	if c.Simulation.PopulationSize <= 0 {
		return fmt.Errorf("population_size must be > 0, got %d", c.Simulation.PopulationSize)
	}
	if c.Simulation.MutationRate < 0 || c.Simulation.MutationRate >= 1 {
		return fmt.Errorf("mutation_rate must be in [0,1), got %v", c.Simulation.MutationRate)
	}
	if c.Simulation.BurnIn < 0 {
		return fmt.Errorf("burn_in must be >= 0, got %d", c.Simulation.BurnIn)
	}

	switch c.CalcType {
	case CalcWrightFisher:
		if c.Simulation.Generations <= 0 {
			return fmt.Errorf("generations must be > 0, got %d", c.Simulation.Generations)
		}
	case CalcTree:
		if c.Tree == nil {
			return fmt.Errorf("calc_type %s requires a tree section", CalcTree)
		}
		if c.Tree.Newick == "" && c.Tree.File == "" {
			return fmt.Errorf("tree requires an inline newick or a file reference")
		}
		if c.Tree.Newick != "" && c.Tree.File != "" {
			return fmt.Errorf("tree newick and file are mutually exclusive")
		}
		if c.Tree.GenerationScale < 0 {
			return fmt.Errorf("generation_scale must be >= 0, got %v", c.Tree.GenerationScale)
		}
	}
	return nil
}

// ResolveSeed returns the configured seed, or draws a fresh one.
func (c *RunConfig) ResolveSeed() (uint64, error) {
	if c.Simulation.Seed != nil {
		return *c.Simulation.Seed, nil
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("draw seed: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// DdgPath returns the ddg table path resolved against the config location.
func (c *RunConfig) DdgPath() string {
	return c.resolve(c.Ddg)
}

// EnsembleDefinition returns the species list and the gas constant (zero
// when left unset), loading the JSON file reference when one is
// configured. A gas constant may come from the config or from the
// ensemble file, not both.
func (c *RunConfig) EnsembleDefinition() ([]model.SpeciesRecord, float64, error) {
	if len(c.Ensemble.Species) > 0 {
		return c.Ensemble.Species, c.Ensemble.GasConstant, nil
	}

	payload, err := os.ReadFile(c.resolve(c.Ensemble.File))
	if err != nil {
		return nil, 0, err
	}
	var species []model.SpeciesRecord
	if err := json.Unmarshal(payload, &species); err == nil {
		return species, c.Ensemble.GasConstant, nil
	}
	var wrapped struct {
		GasConstant float64               `json:"gas_constant"`
		Species     []model.SpeciesRecord `json:"species"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, 0, fmt.Errorf("parse ensemble file %s: %w", c.Ensemble.File, err)
	}
	if len(wrapped.Species) == 0 {
		return nil, 0, fmt.Errorf("ensemble file %s defines no species", c.Ensemble.File)
	}
	if wrapped.GasConstant != 0 {
		if c.Ensemble.GasConstant != 0 {
			return nil, 0, fmt.Errorf("gas_constant is set both in the config and in ensemble file %s", c.Ensemble.File)
		}
		return wrapped.Species, wrapped.GasConstant, nil
	}
	return wrapped.Species, c.Ensemble.GasConstant, nil
}

// TreeNewick returns the newick text, loading the file reference when one
// is configured. Empty for flat runs.
func (c *RunConfig) TreeNewick() (string, error) {
	if c.Tree == nil {
		return "", nil
	}
	if c.Tree.Newick != "" {
		return c.Tree.Newick, nil
	}
	payload, err := os.ReadFile(c.resolve(c.Tree.File))
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func (c *RunConfig) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.baseDir == "" {
		return path
	}
	return filepath.Join(c.baseDir, path)
}
