package storage

import (
	"context"
	"sort"
	"sync"

	"thermoevo/internal/model"
)

type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]model.RunManifest
	genotypes map[string][]model.GenotypeRecord
	histories map[string]map[string][]model.GenerationRecord
	nodes     map[string][]model.NodeRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifests = make(map[string]model.RunManifest)
	s.genotypes = make(map[string][]model.GenotypeRecord)
	s.histories = make(map[string]map[string][]model.GenerationRecord)
	s.nodes = make(map[string][]model.NodeRecord)
	return nil
}

func (s *MemoryStore) SaveManifest(_ context.Context, manifest model.RunManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manifests[manifest.RunID] = manifest
	return nil
}

func (s *MemoryStore) GetManifest(_ context.Context, runID string) (model.RunManifest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manifest, ok := s.manifests[runID]
	return manifest, ok, nil
}

func (s *MemoryStore) ListManifests(_ context.Context) ([]model.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunManifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func (s *MemoryStore) SaveGenotypes(_ context.Context, runID string, genotypes []model.GenotypeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.GenotypeRecord, len(genotypes))
	copy(copied, genotypes)
	s.genotypes[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenotypes(_ context.Context, runID string) ([]model.GenotypeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	genotypes, ok := s.genotypes[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenotypeRecord, len(genotypes))
	copy(copied, genotypes)
	return copied, true, nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, runID string, segments map[string][]model.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[runID] = copyHistory(segments)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) (map[string][]model.GenerationRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segments, ok := s.histories[runID]
	if !ok {
		return nil, false, nil
	}
	return copyHistory(segments), true, nil
}

func (s *MemoryStore) SaveNodes(_ context.Context, runID string, nodes []model.NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.NodeRecord, len(nodes))
	copy(copied, nodes)
	s.nodes[runID] = copied
	return nil
}

func (s *MemoryStore) GetNodes(_ context.Context, runID string) ([]model.NodeRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes, ok := s.nodes[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.NodeRecord, len(nodes))
	copy(copied, nodes)
	return copied, true, nil
}

func copyHistory(segments map[string][]model.GenerationRecord) map[string][]model.GenerationRecord {
	copied := make(map[string][]model.GenerationRecord, len(segments))
	for name, records := range segments {
		recs := make([]model.GenerationRecord, 0, len(records))
		for _, rec := range records {
			counts := make(map[int]int64, len(rec.Counts))
			for id, n := range rec.Counts {
				counts[id] = n
			}
			recs = append(recs, model.GenerationRecord{Index: rec.Index, Counts: counts})
		}
		copied[name] = recs
	}
	return copied
}
