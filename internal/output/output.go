// Package output writes the artifacts of a completed run to a directory.
// Artifacts accumulate in a staging directory that is renamed into place on
// commit, so an aborted run never leaves a half-written output directory.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"thermoevo/internal/model"
	"thermoevo/internal/storage"
)

// Artifact file names inside a run output directory.
const (
	ManifestFile  = "manifest.json"
	GenotypesFile = "genotypes.csv"
	HistoryFile   = "generations.bin"
	TreeFile      = "tree.newick"
	AlignmentFile = "alignment.fasta"
	NodesFile     = "nodes.json"
)

// ErrOutputConflict reports a pre-existing output directory that the caller
// did not ask to overwrite. It is returned before any simulation work.
var ErrOutputConflict = errors.New("output directory already exists")

// Writer stages run artifacts for one output directory.
type Writer struct {
	dir       string
	staging   string
	overwrite bool
	committed bool
}

// NewWriter prepares the staging directory for dir. An existing dir is an
// ErrOutputConflict unless overwrite is set.
func NewWriter(dir string, overwrite bool) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if _, err := os.Stat(dir); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: %s", ErrOutputConflict, dir)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	staging := dir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, staging: staging, overwrite: overwrite}, nil
}

// Dir returns the final output directory path.
func (w *Writer) Dir() string { return w.dir }

// WriteManifest stamps the current schema and codec versions and writes
// manifest.json.
func (w *Writer) WriteManifest(manifest model.RunManifest) error {
	manifest.SchemaVersion = storage.CurrentSchemaVersion
	manifest.CodecVersion = storage.CurrentCodecVersion
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return w.writeFile(ManifestFile, append(payload, '\n'))
}

// WriteGenotypes writes the genotype table as CSV, one row per distinct
// genotype ever observed.
func (w *Writer) WriteGenotypes(genotypes []model.GenotypeRecord) error {
	f, err := os.Create(filepath.Join(w.staging, GenotypesFile))
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&genotypes, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteHistory writes the per-segment generation records in the binary
// history format.
func (w *Writer) WriteHistory(segments map[string][]model.GenerationRecord) error {
	payload, err := storage.EncodeHistory(segments)
	if err != nil {
		return err
	}
	return w.writeFile(HistoryFile, payload)
}

// WriteTree writes the annotated newick string.
func (w *Writer) WriteTree(newick string) error {
	return w.writeFile(TreeFile, []byte(newick+"\n"))
}

// WriteAlignment writes the FASTA alignment.
func (w *Writer) WriteAlignment(fasta string) error {
	return w.writeFile(AlignmentFile, []byte(fasta))
}

// WriteNodes writes the per-node fixed genotypes of a tree run.
func (w *Writer) WriteNodes(nodes []model.NodeRecord) error {
	payload, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	return w.writeFile(NodesFile, append(payload, '\n'))
}

// Commit renames the staging directory into place. With overwrite set, a
// pre-existing directory is replaced atomically with respect to this
// process; without it a directory that appeared since NewWriter is a
// conflict.
func (w *Writer) Commit() error {
	if w.committed {
		return fmt.Errorf("output already committed")
	}
	if _, err := os.Stat(w.dir); err == nil {
		if !w.overwrite {
			return fmt.Errorf("%w: %s", ErrOutputConflict, w.dir)
		}
		if err := os.RemoveAll(w.dir); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(w.staging, w.dir); err != nil {
		return err
	}
	w.committed = true
	return nil
}

// Abort discards the staging directory. Safe to call after Commit, where it
// does nothing.
func (w *Writer) Abort() error {
	if w.committed {
		return nil
	}
	return os.RemoveAll(w.staging)
}

func (w *Writer) writeFile(name string, payload []byte) error {
	return os.WriteFile(filepath.Join(w.staging, name), payload, 0o644)
}

// ReadManifest loads and version-checks a committed run's manifest.
func ReadManifest(dir string) (model.RunManifest, error) {
	payload, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return model.RunManifest{}, err
	}
	return storage.DecodeManifest(payload)
}

// ReadGenotypes loads a committed run's genotype table.
func ReadGenotypes(dir string) ([]model.GenotypeRecord, error) {
	f, err := os.Open(filepath.Join(dir, GenotypesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var genotypes []model.GenotypeRecord
	if err := gocsv.UnmarshalFile(f, &genotypes); err != nil {
		return nil, err
	}
	return genotypes, nil
}

// ReadHistory loads a committed run's generation history.
func ReadHistory(dir string) (map[string][]model.GenerationRecord, error) {
	payload, err := os.ReadFile(filepath.Join(dir, HistoryFile))
	if err != nil {
		return nil, err
	}
	return storage.DecodeHistory(payload)
}

// ReadNodes loads a tree run's node records. The second return is false
// when the run has no node file, i.e. it was a flat run.
func ReadNodes(dir string) ([]model.NodeRecord, bool, error) {
	payload, err := os.ReadFile(filepath.Join(dir, NodesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var nodes []model.NodeRecord
	if err := json.Unmarshal(payload, &nodes); err != nil {
		return nil, false, err
	}
	return nodes, true, nil
}
