package storage

import (
	"context"

	"thermoevo/internal/model"
)

// Store archives completed runs for later inspection: the manifest, the
// genotype table, per-segment generation histories and, for tree runs, the
// fixed node records. Histories are keyed by segment name ("main" for flat
// runs, "burn-in" and "parent->child" for tree runs).
type Store interface {
	Init(ctx context.Context) error
	SaveManifest(ctx context.Context, manifest model.RunManifest) error
	GetManifest(ctx context.Context, runID string) (model.RunManifest, bool, error)
	ListManifests(ctx context.Context) ([]model.RunManifest, error)
	SaveGenotypes(ctx context.Context, runID string, genotypes []model.GenotypeRecord) error
	GetGenotypes(ctx context.Context, runID string) ([]model.GenotypeRecord, bool, error)
	SaveHistory(ctx context.Context, runID string, segments map[string][]model.GenerationRecord) error
	GetHistory(ctx context.Context, runID string) (map[string][]model.GenerationRecord, bool, error)
	SaveNodes(ctx context.Context, runID string, nodes []model.NodeRecord) error
	GetNodes(ctx context.Context, runID string) ([]model.NodeRecord, bool, error)
}

// SegmentMain is the history segment name for single-trajectory runs.
const SegmentMain = "main"
