//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"thermoevo/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveManifest(ctx context.Context, manifest model.RunManifest) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeManifest(manifest)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, schema_version, codec_version, created_at, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			created_at = excluded.created_at,
			payload = excluded.payload
	`, manifest.RunID, manifest.SchemaVersion, manifest.CodecVersion, manifest.CreatedAt.UTC().Format(time.RFC3339Nano), payload)
	return err
}

func (s *SQLiteStore) GetManifest(ctx context.Context, runID string) (model.RunManifest, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunManifest{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunManifest{}, false, nil
		}
		return model.RunManifest{}, false, err
	}

	manifest, err := DecodeManifest(payload)
	if err != nil {
		return model.RunManifest{}, false, fmt.Errorf("decode manifest %s: %w", runID, err)
	}
	return manifest, true, nil
}

func (s *SQLiteStore) ListManifests(ctx context.Context) ([]model.RunManifest, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY created_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RunManifest
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		manifest, err := DecodeManifest(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, manifest)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveGenotypes(ctx context.Context, runID string, genotypes []model.GenotypeRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGenotypes(genotypes)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genotypes (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetGenotypes(ctx context.Context, runID string) ([]model.GenotypeRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM genotypes WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	genotypes, err := DecodeGenotypes(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode genotypes %s: %w", runID, err)
	}
	return genotypes, true, nil
}

func (s *SQLiteStore) SaveHistory(ctx context.Context, runID string, segments map[string][]model.GenerationRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeHistory(segments)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO history (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetHistory(ctx context.Context, runID string) (map[string][]model.GenerationRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM history WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	segments, err := DecodeHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode history %s: %w", runID, err)
	}
	return segments, true, nil
}

func (s *SQLiteStore) SaveNodes(ctx context.Context, runID string, nodes []model.NodeRecord) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeNodes(nodes)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO nodes (run_id, payload)
		VALUES (?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			payload = excluded.payload
	`, runID, payload)
	return err
}

func (s *SQLiteStore) GetNodes(ctx context.Context, runID string) ([]model.NodeRecord, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM nodes WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	nodes, err := DecodeNodes(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode nodes %s: %w", runID, err)
	}
	return nodes, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS genotypes (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS history (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS nodes (
			run_id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		);
	`)
	return err
}
