package fitness

import (
	"math"
	"testing"

	"thermoevo/internal/ddg"
	"thermoevo/internal/ensemble"
	"thermoevo/internal/model"
)

func testEnsemble(t *testing.T) *ensemble.Ensemble {
	t.Helper()
	e := ensemble.New()
	if err := e.AddSpecies(model.SpeciesRecord{Name: "on", DG0: 0, Observable: true, Folded: true}); err != nil {
		t.Fatal(err)
	}
	if err := e.AddSpecies(model.SpeciesRecord{Name: "off", DG0: 2, Folded: true}); err != nil {
		t.Fatal(err)
	}
	if err := e.AddSpecies(model.SpeciesRecord{Name: "unfolded", DG0: 10}); err != nil {
		t.Fatal(err)
	}
	return e
}

func testTable(t *testing.T) *ddg.Table {
	t.Helper()
	tbl, err := ddg.FromRows([]ddg.Row{
		{Site: 1, Mut: "L1P", Species: "on", DDG: 4.0},
		{Site: 1, Mut: "L1G", Species: "on", DDG: -2.0},
		{Site: 2, Mut: "I2V", Species: "off", DDG: 3.0},
	})
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	return tbl
}

func testCondition(t *testing.T, fn string) Condition {
	t.Helper()
	cond, err := NewCondition(model.ConditionRecord{Name: "base", FitnessFn: fn}, NewRegistry())
	if err != nil {
		t.Fatalf("new condition: %v", err)
	}
	return cond
}

func TestRegistryResolvesClosedSet(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"on", "off", "neutral"} {
		fn, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if fn.Name() != name {
			t.Fatalf("resolved %s got %s", name, fn.Name())
		}
	}
	if _, err := reg.Resolve("bogus"); err == nil {
		t.Fatal("expected error for unknown function")
	}
	if len(reg.Describe()) != 3 {
		t.Fatalf("describe table has %d entries, want 3", len(reg.Describe()))
	}
}

func TestConditionValidation(t *testing.T) {
	reg := NewRegistry()

	if _, err := NewCondition(model.ConditionRecord{Name: "x"}, reg); err == nil {
		t.Fatal("expected error for missing fitness_fn")
	}
	if _, err := NewCondition(model.ConditionRecord{Name: "x", FitnessFn: "on", SelectOn: "nope"}, reg); err == nil {
		t.Fatal("expected error for unknown select_on")
	}
	if _, err := NewCondition(model.ConditionRecord{Name: "x", FitnessFn: "on", FoldedThreshold: 2}, reg); err == nil {
		t.Fatal("expected error for threshold out of range")
	}

	cond, err := NewCondition(model.ConditionRecord{Name: "x", FitnessFn: "on"}, reg)
	if err != nil {
		t.Fatalf("new condition: %v", err)
	}
	if cond.SelectOn != SelectFxObs {
		t.Fatalf("default select_on = %q, want fx_obs", cond.SelectOn)
	}
	if cond.Temperature != ensemble.DefaultTemperature {
		t.Fatalf("default temperature = %v", cond.Temperature)
	}
}

func TestNullPerturbationMatchesWildType(t *testing.T) {
	e := testEnsemble(t)
	tbl, err := ddg.FromRows([]ddg.Row{
		{Site: 1, Mut: "L1P", Species: "on", DDG: 0},
		{Site: 1, Mut: "L1P", Species: "off", DDG: 0},
	})
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	ev, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "on")})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	wt, err := ev.Fitness(nil)
	if err != nil {
		t.Fatalf("wild-type fitness: %v", err)
	}
	mutant, err := ev.Fitness([]model.Mutation{{Site: 1, Name: "L1P"}})
	if err != nil {
		t.Fatalf("mutant fitness: %v", err)
	}
	if math.Abs(wt-mutant) > 1e-12 {
		t.Fatalf("zero ddg mutant fitness %v differs from wild type %v", mutant, wt)
	}
}

func TestOnRewardsStabilizingMutation(t *testing.T) {
	e := testEnsemble(t)
	ev, err := NewEvaluator(e, testTable(t), []Condition{testCondition(t, "on")})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	wt, err := ev.Fitness(nil)
	if err != nil {
		t.Fatal(err)
	}
	destabilized, err := ev.Fitness([]model.Mutation{{Site: 1, Name: "L1P"}})
	if err != nil {
		t.Fatal(err)
	}
	stabilized, err := ev.Fitness([]model.Mutation{{Site: 1, Name: "L1G"}})
	if err != nil {
		t.Fatal(err)
	}
	if !(stabilized > wt && wt > destabilized) {
		t.Fatalf("expected stabilized > wt > destabilized, got %v %v %v", stabilized, wt, destabilized)
	}
}

func TestOffInvertsSelection(t *testing.T) {
	e := testEnsemble(t)
	tbl := testTable(t)

	on, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "on")})
	if err != nil {
		t.Fatal(err)
	}
	off, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "off")})
	if err != nil {
		t.Fatal(err)
	}

	muts := []model.Mutation{{Site: 1, Name: "L1P"}}
	fOn, err := on.Fitness(muts)
	if err != nil {
		t.Fatal(err)
	}
	fOff, err := off.Fitness(muts)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fOn+fOff-1) > 1e-12 {
		t.Fatalf("on + off = %v, want 1", fOn+fOff)
	}
}

func TestConditionsCombineMultiplicatively(t *testing.T) {
	e := testEnsemble(t)
	tbl := testTable(t)

	single, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "on")})
	if err != nil {
		t.Fatal(err)
	}
	double, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "on"), testCondition(t, "on")})
	if err != nil {
		t.Fatal(err)
	}

	f1, err := single.Fitness(nil)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := double.Fitness(nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f2-f1*f1) > 1e-12 {
		t.Fatalf("two identical conditions gave %v, want %v", f2, f1*f1)
	}
}

func TestFoldedGateZeroesFitness(t *testing.T) {
	e := testEnsemble(t)

	// A mutation that massively stabilizes the unfolded state would leave
	// fx_folded near zero; gate on it.
	tbl, err := ddg.FromRows([]ddg.Row{
		{Site: 1, Mut: "L1P", Species: "unfolded", DDG: -30},
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	cond, err := NewCondition(model.ConditionRecord{
		Name:            "gated",
		FitnessFn:       "on",
		FoldedThreshold: 0.5,
	}, reg)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := NewEvaluator(e, tbl, []Condition{cond})
	if err != nil {
		t.Fatal(err)
	}

	wt, err := ev.Fitness(nil)
	if err != nil {
		t.Fatal(err)
	}
	if wt == 0 {
		t.Fatal("wild type should pass the folded gate")
	}
	unfolded, err := ev.Fitness([]model.Mutation{{Site: 1, Name: "L1P"}})
	if err != nil {
		t.Fatal(err)
	}
	if unfolded != 0 {
		t.Fatalf("unfolded mutant fitness = %v, want 0", unfolded)
	}
}

func TestEvaluatorRequiresBoundTable(t *testing.T) {
	e := testEnsemble(t)
	tbl, err := ddg.FromRows([]ddg.Row{
		{Site: 1, Mut: "L1P", Species: "missing", DDG: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewEvaluator(e, tbl, []Condition{testCondition(t, "on")}); err == nil {
		t.Fatal("expected bind failure for unknown species")
	}
}
