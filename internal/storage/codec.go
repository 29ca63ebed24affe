package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"thermoevo/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeManifest(m model.RunManifest) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeManifest(data []byte) (model.RunManifest, error) {
	var manifest model.RunManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return model.RunManifest{}, err
	}
	if err := checkVersion(manifest.VersionedRecord); err != nil {
		return model.RunManifest{}, err
	}
	return manifest, nil
}

func EncodeGenotypes(genotypes []model.GenotypeRecord) ([]byte, error) {
	return json.Marshal(genotypes)
}

func DecodeGenotypes(data []byte) ([]model.GenotypeRecord, error) {
	var genotypes []model.GenotypeRecord
	if err := json.Unmarshal(data, &genotypes); err != nil {
		return nil, err
	}
	return genotypes, nil
}

func EncodeNodes(nodes []model.NodeRecord) ([]byte, error) {
	return json.Marshal(nodes)
}

func DecodeNodes(data []byte) ([]model.NodeRecord, error) {
	var nodes []model.NodeRecord
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// Generation histories use a compact binary layout rather than JSON: a
// four-byte magic, a codec version byte, then varint-framed segments of
// (index, id, count) tuples. Segments and ids are written sorted, so
// encoding is deterministic.
var historyMagic = []byte("TEVH")

const historyCodecVersion = 1

func EncodeHistory(segments map[string][]model.GenerationRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(historyMagic)
	buf.WriteByte(historyCodecVersion)

	names := make([]string, 0, len(segments))
	for name := range segments {
		names = append(names, name)
	}
	sort.Strings(names)

	out := buf.Bytes()
	out = binary.AppendUvarint(out, uint64(len(names)))
	for _, name := range names {
		out = binary.AppendUvarint(out, uint64(len(name)))
		out = append(out, name...)

		records := segments[name]
		out = binary.AppendUvarint(out, uint64(len(records)))
		for _, rec := range records {
			if rec.Index < 0 {
				return nil, fmt.Errorf("segment %q: negative generation index %d", name, rec.Index)
			}
			out = binary.AppendUvarint(out, uint64(rec.Index))
			out = binary.AppendUvarint(out, uint64(len(rec.Counts)))
			for _, id := range sortedIDs(rec.Counts) {
				count := rec.Counts[id]
				if id < 0 || count < 0 {
					return nil, fmt.Errorf("segment %q generation %d: negative id or count", name, rec.Index)
				}
				out = binary.AppendUvarint(out, uint64(id))
				out = binary.AppendUvarint(out, uint64(count))
			}
		}
	}
	return out, nil
}

func DecodeHistory(data []byte) (map[string][]model.GenerationRecord, error) {
	if len(data) < len(historyMagic)+1 || !bytes.Equal(data[:len(historyMagic)], historyMagic) {
		return nil, errors.New("not a generation history payload")
	}
	if data[len(historyMagic)] != historyCodecVersion {
		return nil, fmt.Errorf("%w: history codec %d, want %d", ErrVersionMismatch, data[len(historyMagic)], historyCodecVersion)
	}
	r := bytes.NewReader(data[len(historyMagic)+1:])

	numSegments, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	segments := make(map[string][]model.GenerationRecord, numSegments)
	for s := uint64(0); s < numSegments; s++ {
		nameLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, err
		}

		numRecords, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		records := make([]model.GenerationRecord, 0, numRecords)
		for g := uint64(0); g < numRecords; g++ {
			index, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			numCounts, err := binary.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			counts := make(map[int]int64, numCounts)
			for c := uint64(0); c < numCounts; c++ {
				id, err := binary.ReadUvarint(r)
				if err != nil {
					return nil, err
				}
				count, err := binary.ReadUvarint(r)
				if err != nil {
					return nil, err
				}
				counts[int(id)] = int64(count)
			}
			records = append(records, model.GenerationRecord{Index: int(index), Counts: counts})
		}
		segments[string(name)] = records
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("trailing bytes after generation history (%d left)", r.Len())
	}
	return segments, nil
}

func sortedIDs(counts map[int]int64) []int {
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
