package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/floats"

	"thermoevo/internal/config"
	"thermoevo/internal/ddg"
	"thermoevo/internal/epistasis"
	"thermoevo/internal/fitness"
	"thermoevo/internal/model"
	"thermoevo/internal/output"
	"thermoevo/internal/phylo"
	"thermoevo/internal/sim"
	"thermoevo/internal/storage"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "run":
		return runRun(ctx, args[1:])
	case "tree":
		return runTree(ctx, args[1:])
	case "scan":
		return runScan(ctx, args[1:])
	case "describe":
		return runDescribe(ctx, args[1:])
	case "list":
		return runList(ctx, args[1:])
	case "archive":
		return runArchive(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config YAML path")
	outDir := fs.String("out", "", "output directory")
	overwrite := fs.Bool("overwrite", false, "replace an existing output directory")
	seedFlag := fs.Uint64("seed", 0, "override the configured rng seed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seedSet := flagWasSet(fs, "seed")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.CalcType != config.CalcWrightFisher {
		return fmt.Errorf("config calc_type is %s; use the tree command", cfg.CalcType)
	}

	seed, err := resolveSeed(cfg, seedSet, *seedFlag)
	if err != nil {
		return err
	}
	world, err := cfg.Assemble()
	if err != nil {
		return err
	}

	// The output conflict check runs before any simulation work.
	writer, err := output.NewWriter(*outDir, *overwrite)
	if err != nil {
		return err
	}
	defer func() {
		_ = writer.Abort()
	}()

	// Stage the manifest before simulating so the inputs are on disk for
	// the whole run.
	manifest := cfg.Manifest(seed, world)
	if err := writer.WriteManifest(manifest); err != nil {
		return err
	}

	simulator, err := sim.New(sim.Config{
		PopulationSize: cfg.Simulation.PopulationSize,
		MutationRate:   cfg.Simulation.MutationRate,
		Generations:    cfg.Simulation.Generations,
		BurnIn:         cfg.Simulation.BurnIn,
		Seed:           seed,
	}, world.Registry)
	if err != nil {
		return err
	}

	history, err := simulator.Run(ctx)
	if err != nil {
		return err
	}

	genotypes, err := world.Registry.Records()
	if err != nil {
		return err
	}
	if err := writer.WriteGenotypes(genotypes); err != nil {
		return err
	}
	if err := writer.WriteHistory(map[string][]model.GenerationRecord{storage.SegmentMain: history}); err != nil {
		return err
	}
	if err := writer.Commit(); err != nil {
		return err
	}

	fmt.Printf("run %s complete: %s generations over %s individuals, %s genotypes -> %s\n",
		manifest.RunID,
		humanize.Comma(int64(cfg.Simulation.Generations)),
		humanize.Comma(int64(cfg.Simulation.PopulationSize)),
		humanize.Comma(int64(world.Registry.Len())),
		writer.Dir())
	return nil
}

func runTree(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config YAML path")
	outDir := fs.String("out", "", "output directory")
	overwrite := fs.Bool("overwrite", false, "replace an existing output directory")
	seedFlag := fs.Uint64("seed", 0, "override the configured rng seed")
	includeInternal := fs.Bool("include-internal", false, "include ancestral nodes in the alignment")
	if err := fs.Parse(args); err != nil {
		return err
	}
	seedSet := flagWasSet(fs, "seed")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if cfg.CalcType != config.CalcTree {
		return fmt.Errorf("config calc_type is %s; use the run command", cfg.CalcType)
	}

	seed, err := resolveSeed(cfg, seedSet, *seedFlag)
	if err != nil {
		return err
	}
	world, err := cfg.Assemble()
	if err != nil {
		return err
	}

	writer, err := output.NewWriter(*outDir, *overwrite)
	if err != nil {
		return err
	}
	defer func() {
		_ = writer.Abort()
	}()

	manifest := cfg.Manifest(seed, world)
	if err := writer.WriteManifest(manifest); err != nil {
		return err
	}

	scale := 0.0
	if cfg.Tree != nil {
		scale = cfg.Tree.GenerationScale
	}
	driver, err := phylo.NewDriver(phylo.DriverConfig{
		PopulationSize:  cfg.Simulation.PopulationSize,
		MutationRate:    cfg.Simulation.MutationRate,
		BurnIn:          cfg.Simulation.BurnIn,
		Seed:            seed,
		GenerationScale: scale,
	}, world.Registry, world.Root)
	if err != nil {
		return err
	}

	result, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	genotypes, err := world.Registry.Records()
	if err != nil {
		return err
	}
	if err := writer.WriteGenotypes(genotypes); err != nil {
		return err
	}
	if err := writer.WriteHistory(result.BranchHistories); err != nil {
		return err
	}
	if err := writer.WriteTree(result.Root.Newick()); err != nil {
		return err
	}
	if err := writer.WriteAlignment(result.Alignment(*includeInternal)); err != nil {
		return err
	}
	if err := writer.WriteNodes(result.NodeRecords()); err != nil {
		return err
	}
	if err := writer.Commit(); err != nil {
		return err
	}

	fmt.Printf("tree run %s complete: %d branches over %s individuals, %s genotypes -> %s\n",
		manifest.RunID,
		len(result.BranchHistories)-1,
		humanize.Comma(int64(cfg.Simulation.PopulationSize)),
		humanize.Comma(int64(world.Registry.Len())),
		writer.Dir())
	return nil
}

func runScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config YAML path")
	mutA := fs.String("a", "", "first single mutant, comma-separated wt-site-mut names")
	mutB := fs.String("b", "", "second single mutant, comma-separated wt-site-mut names")
	ligand := fs.String("ligand", "", "ligand axis to titrate")
	from := fs.Float64("from", -5, "first chemical potential")
	to := fs.Float64("to", 5, "last chemical potential")
	points := fs.Int("points", 50, "number of titration points")
	axis := fs.String("axis", fitness.SelectFxObs, "observable axis: fx_obs|dG_obs")
	outPath := fs.String("out", "", "scan CSV path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if *outPath == "" {
		return errors.New("scan requires -out")
	}
	if *points < 2 {
		return fmt.Errorf("points must be >= 2, got %d", *points)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	world, err := cfg.Assemble()
	if err != nil {
		return err
	}

	mutsA, err := parseMutations(*mutA)
	if err != nil {
		return fmt.Errorf("-a: %w", err)
	}
	mutsB, err := parseMutations(*mutB)
	if err != nil {
		return fmt.Errorf("-b: %w", err)
	}

	values := floats.Span(make([]float64, *points), *from, *to)
	scan, err := epistasis.Run(world.Ensemble, world.Table, mutsA, mutsB, *ligand, values, nil, *axis, 0)
	if err != nil {
		return err
	}
	if err := output.WriteScanCSV(*outPath, scan); err != nil {
		return err
	}

	fmt.Printf("scanned %s across %d points of %s -> %s\n", *axis, *points, *ligand, *outPath)
	return nil
}

func runDescribe(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("describe", flag.ContinueOnError)
	configPath := fs.String("config", "", "run config YAML path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	world, err := cfg.Assemble()
	if err != nil {
		return err
	}

	fmt.Printf("calc type:       %s\n", cfg.CalcType)
	fmt.Printf("population:      %s individuals\n", humanize.Comma(int64(cfg.Simulation.PopulationSize)))
	fmt.Printf("mutation rate:   %g per site per generation\n", cfg.Simulation.MutationRate)
	if cfg.CalcType == config.CalcTree {
		fmt.Printf("tree leaves:     %d\n", len(world.Root.Leaves()))
	} else {
		fmt.Printf("generations:     %s (+%d burn-in)\n", humanize.Comma(int64(cfg.Simulation.Generations)), cfg.Simulation.BurnIn)
	}
	if cfg.Simulation.Seed != nil {
		fmt.Printf("seed:            %d\n", *cfg.Simulation.Seed)
	} else {
		fmt.Printf("seed:            drawn at run start\n")
	}
	fmt.Printf("species:         %d (%d mutable sites)\n", len(world.Species), len(world.Table.Sites()))
	fmt.Printf("wild type:       %s\n", world.Registry.WildTypeSequence())
	fmt.Println("conditions:")
	for _, cond := range world.Conditions {
		fmt.Printf("  %-12s fn=%s select_on=%s ligands=%v\n", cond.Name, cond.Fn.Name(), cond.SelectOn, cond.Potentials)
	}
	return nil
}

func runList(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("fitness functions:")
	for _, d := range fitness.NewRegistry().Describe() {
		fmt.Printf("  %-10s %s\n", d.Name, d.Doc)
	}
	fmt.Println("calc types:")
	fmt.Printf("  %-12s flat Wright-Fisher run over a fixed generation count\n", config.CalcWrightFisher)
	fmt.Printf("  %-12s Wright-Fisher replay along the branches of a rooted tree\n", config.CalcTree)
	return nil
}

func runArchive(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	dir := fs.String("dir", "", "committed run output directory")
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "thermoevo.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("archive requires -dir")
	}

	manifest, err := output.ReadManifest(*dir)
	if err != nil {
		return err
	}
	genotypes, err := output.ReadGenotypes(*dir)
	if err != nil {
		return err
	}
	history, err := output.ReadHistory(*dir)
	if err != nil {
		return err
	}
	nodes, hasNodes, err := output.ReadNodes(*dir)
	if err != nil {
		return err
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	if err := store.SaveManifest(ctx, manifest); err != nil {
		return err
	}
	if err := store.SaveGenotypes(ctx, manifest.RunID, genotypes); err != nil {
		return err
	}
	if err := store.SaveHistory(ctx, manifest.RunID, history); err != nil {
		return err
	}
	if hasNodes {
		if err := store.SaveNodes(ctx, manifest.RunID, nodes); err != nil {
			return err
		}
	}

	fmt.Printf("archived run %s (%s genotypes) to %s store\n",
		manifest.RunID, humanize.Comma(int64(len(genotypes))), *storeKind)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	storeKind := fs.String("store", "sqlite", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "thermoevo.db", "sqlite database path")
	limit := fs.Int("limit", 20, "max runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	store, err := storage.NewStore(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = storage.CloseIfSupported(store)
	}()
	if err := store.Init(ctx); err != nil {
		return err
	}

	manifests, err := store.ListManifests(ctx)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if len(manifests) > *limit {
		manifests = manifests[len(manifests)-*limit:]
	}

	for _, m := range manifests {
		fmt.Printf("%s  %-12s N=%s gens=%d seed=%d  %s\n",
			m.RunID, m.CalcType,
			humanize.Comma(int64(m.PopulationSize)), m.Generations, m.Seed,
			humanize.Time(m.CreatedAt))
	}
	return nil
}

func resolveSeed(cfg *config.RunConfig, seedSet bool, seedFlag uint64) (uint64, error) {
	if seedSet {
		return seedFlag, nil
	}
	return cfg.ResolveSeed()
}

func parseMutations(spec string) ([]model.Mutation, error) {
	if spec == "" {
		return nil, errors.New("mutation list is required")
	}
	var muts []model.Mutation
	for _, name := range strings.Split(spec, ",") {
		m, err := ddg.ParseMutation(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		muts = append(muts, m)
	}
	return muts, nil
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: thermoevoctl <run|tree|scan|describe|list|archive|runs> [flags]", msg)
}
