package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"thermoevo/internal/output"
	"thermoevo/internal/storage"
)

const testDdgCSV = `site,mut,species,ddg
1,L1G,on,-1.0
1,L1P,on,2.0
2,I2V,on,0.5
`

const testRunYAML = `calc_type: wf_sim
ensemble:
  species:
    - name: on
      dG0: 0
      observable: true
      folded: true
      stoich: {X: 1}
    - name: off
      dG0: 1
      folded: true
ddg: ddg.csv
conditions:
  - name: selective
    fitness_fn: "on"
    ligands: {X: 1.0}
simulation:
  population_size: 50
  mutation_rate: 0.02
  generations: 10
  burn_in: 2
  seed: 7
`

func writeFixtures(t *testing.T, yamlText string) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ddg.csv"), []byte(testDdgCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	configPath = filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(configPath, []byte(yamlText), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, dir
}

func TestRunCommandProducesArtifacts(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	outDir := filepath.Join(dir, "out")

	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outDir}); err != nil {
		t.Fatalf("run: %v", err)
	}

	manifest, err := output.ReadManifest(outDir)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if manifest.Seed != 7 || manifest.PopulationSize != 50 || manifest.RunID == "" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	genotypes, err := output.ReadGenotypes(outDir)
	if err != nil {
		t.Fatalf("read genotypes: %v", err)
	}
	if len(genotypes) == 0 || genotypes[0].ID != 0 || genotypes[0].ParentID != -1 {
		t.Fatalf("unexpected genotype table: %+v", genotypes)
	}

	history, err := output.ReadHistory(outDir)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	records := history[storage.SegmentMain]
	if len(records) != 11 {
		t.Fatalf("recorded %d generations, want 11", len(records))
	}
	for _, rec := range records {
		var total int64
		for _, n := range rec.Counts {
			total += n
		}
		if total != 50 {
			t.Fatalf("generation %d: counts sum to %d, want 50", rec.Index, total)
		}
	}
}

func TestRunCommandRefusesExistingOutput(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	outDir := filepath.Join(dir, "out")

	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outDir}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	err := run(context.Background(), []string{"run", "-config", configPath, "-out", outDir})
	if !errors.Is(err, output.ErrOutputConflict) {
		t.Fatalf("second run err = %v, want ErrOutputConflict", err)
	}

	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outDir, "-overwrite"}); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
}

func TestRunCommandIsDeterministic(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	outA := filepath.Join(dir, "a")
	outB := filepath.Join(dir, "b")

	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outA}); err != nil {
		t.Fatalf("run a: %v", err)
	}
	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outB}); err != nil {
		t.Fatalf("run b: %v", err)
	}

	historyA, err := os.ReadFile(filepath.Join(outA, output.HistoryFile))
	if err != nil {
		t.Fatal(err)
	}
	historyB, err := os.ReadFile(filepath.Join(outB, output.HistoryFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(historyA) != string(historyB) {
		t.Fatal("two runs with the same seed produced different histories")
	}
}

func TestTreeCommandProducesTreeArtifacts(t *testing.T) {
	yamlText := strings.Replace(testRunYAML, "calc_type: wf_sim", "calc_type: wf_tree_sim", 1)
	yamlText += `tree:
  newick: "((A:0.05,B:0.05):0.05,C:0.1);"
  generation_scale: 100
`
	configPath, dir := writeFixtures(t, yamlText)
	outDir := filepath.Join(dir, "out")

	if err := run(context.Background(), []string{"tree", "-config", configPath, "-out", outDir, "-include-internal"}); err != nil {
		t.Fatalf("tree: %v", err)
	}

	tree, err := os.ReadFile(filepath.Join(outDir, output.TreeFile))
	if err != nil {
		t.Fatalf("read tree: %v", err)
	}
	for _, leaf := range []string{"A", "B", "C"} {
		if !strings.Contains(string(tree), leaf) {
			t.Fatalf("tree output missing leaf %s: %s", leaf, tree)
		}
	}

	alignment, err := os.ReadFile(filepath.Join(outDir, output.AlignmentFile))
	if err != nil {
		t.Fatalf("read alignment: %v", err)
	}
	if !strings.Contains(string(alignment), ">anc") {
		t.Fatalf("alignment missing ancestral nodes despite -include-internal:\n%s", alignment)
	}

	nodes, ok, err := output.ReadNodes(outDir)
	if err != nil || !ok {
		t.Fatalf("read nodes: ok=%v err=%v", ok, err)
	}
	if len(nodes) != 5 {
		t.Fatalf("recorded %d nodes, want 5", len(nodes))
	}

	history, err := output.ReadHistory(outDir)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if _, ok := history["burn-in"]; !ok {
		t.Fatalf("history missing burn-in segment: %v", len(history))
	}
}

func TestTreeCommandRejectsFlatConfig(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	err := run(context.Background(), []string{"tree", "-config", configPath, "-out", filepath.Join(dir, "out")})
	if err == nil || !strings.Contains(err.Error(), "calc_type") {
		t.Fatalf("err = %v, want calc_type mismatch", err)
	}
}

func TestScanCommandWritesCSV(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	outPath := filepath.Join(dir, "scan.csv")

	err := run(context.Background(), []string{
		"scan", "-config", configPath,
		"-a", "L1G", "-b", "I2V",
		"-ligand", "X", "-from", "-3", "-to", "3", "-points", "7",
		"-out", outPath,
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	payload, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read scan: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	if len(lines) != 8 {
		t.Fatalf("scan CSV has %d lines, want header plus 7 rows", len(lines))
	}
}

func TestDescribeAndList(t *testing.T) {
	configPath, _ := writeFixtures(t, testRunYAML)

	if err := run(context.Background(), []string{"describe", "-config", configPath}); err != nil {
		t.Fatalf("describe: %v", err)
	}
	if err := run(context.Background(), []string{"list"}); err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestArchiveCommandReadsCommittedRun(t *testing.T) {
	configPath, dir := writeFixtures(t, testRunYAML)
	outDir := filepath.Join(dir, "out")

	if err := run(context.Background(), []string{"run", "-config", configPath, "-out", outDir}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := run(context.Background(), []string{"archive", "-dir", outDir, "-store", "memory"}); err != nil {
		t.Fatalf("archive: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "usage:") {
		t.Fatalf("err = %v, want usage error", err)
	}
}
