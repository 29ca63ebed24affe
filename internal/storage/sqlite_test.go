//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"thermoevo/internal/model"
)

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "thermoevo.db")

	store := NewSQLiteStore(dbPath)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	manifest := model.RunManifest{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		RunID:           "run-1",
		CalcType:        "wf_sim",
		CreatedAt:       time.Now().UTC(),
		Seed:            99,
		PopulationSize:  500,
		MutationRate:    0.005,
		Generations:     50,
	}
	if err := store.SaveManifest(ctx, manifest); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	loadedManifest, ok, err := store.GetManifest(ctx, "run-1")
	if err != nil {
		t.Fatalf("get manifest: %v", err)
	}
	if !ok {
		t.Fatal("expected manifest run-1")
	}
	if loadedManifest.Seed != manifest.Seed || loadedManifest.PopulationSize != manifest.PopulationSize {
		t.Fatalf("unexpected manifest loaded: %+v", loadedManifest)
	}

	genotypes := []model.GenotypeRecord{
		{ID: 0, ParentID: -1, Sequence: "LV"},
		{ID: 1, ParentID: 0, Mutations: "L1G", NumMutations: 1, Sequence: "GV"},
	}
	if err := store.SaveGenotypes(ctx, "run-1", genotypes); err != nil {
		t.Fatalf("save genotypes: %v", err)
	}
	loadedGenotypes, ok, err := store.GetGenotypes(ctx, "run-1")
	if err != nil {
		t.Fatalf("get genotypes: %v", err)
	}
	if !ok {
		t.Fatal("expected genotypes run-1")
	}
	if len(loadedGenotypes) != 2 || loadedGenotypes[1].Mutations != "L1G" {
		t.Fatalf("unexpected genotypes loaded: %+v", loadedGenotypes)
	}

	history := map[string][]model.GenerationRecord{
		SegmentMain: {
			{Index: 0, Counts: map[int]int64{0: 500}},
			{Index: 1, Counts: map[int]int64{0: 498, 1: 2}},
		},
	}
	if err := store.SaveHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	loadedHistory, ok, err := store.GetHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok {
		t.Fatal("expected history run-1")
	}
	if loadedHistory[SegmentMain][1].Counts[1] != 2 {
		t.Fatalf("unexpected history loaded: %+v", loadedHistory)
	}

	nodes := []model.NodeRecord{
		{Name: "anc00", GenotypeID: 0, Sequence: "LV"},
		{Name: "A", GenotypeID: 1, Sequence: "GV"},
	}
	if err := store.SaveNodes(ctx, "run-1", nodes); err != nil {
		t.Fatalf("save nodes: %v", err)
	}
	loadedNodes, ok, err := store.GetNodes(ctx, "run-1")
	if err != nil {
		t.Fatalf("get nodes: %v", err)
	}
	if !ok {
		t.Fatal("expected nodes run-1")
	}
	if len(loadedNodes) != 2 || loadedNodes[1].Name != "A" {
		t.Fatalf("unexpected nodes loaded: %+v", loadedNodes)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "thermoevo.db")

	first := NewSQLiteStore(dbPath)
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first init: %v", err)
	}
	manifest := model.RunManifest{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		RunID:           "persisted-run",
		CreatedAt:       time.Now().UTC(),
	}
	if err := first.SaveManifest(ctx, manifest); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}

	second := NewSQLiteStore(dbPath)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	t.Cleanup(func() {
		_ = second.Close()
	})

	loaded, ok, err := second.GetManifest(ctx, manifest.RunID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if !ok || loaded.RunID != manifest.RunID {
		t.Fatalf("expected persisted manifest, got ok=%t value=%+v", ok, loaded)
	}
}
