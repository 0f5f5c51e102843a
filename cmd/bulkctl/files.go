package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"go-crm-bulk/internal/features/bulk_operation"

	"gopkg.in/yaml.v3"
)

// batchFile is an update batch. JSON batches parse too, JSON being YAML.
type batchFile struct {
	OperationName  string                      `yaml:"operation_name"`
	ChunkSize      int                         `yaml:"chunk_size"`
	SkipValidation bool                        `yaml:"skip_validation"`
	NoUndo         bool                        `yaml:"no_undo"`
	Updates        []bulk_operation.UpdateSpec `yaml:"updates"`
}

func readBatch(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file %s: %w", path, err)
	}
	var batch batchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(batch.Updates) == 0 {
		return nil, fmt.Errorf("batch file %s has no updates", path)
	}
	return &batch, nil
}

func (b *batchFile) options(defaultChunk int) bulk_operation.Options {
	opts := bulk_operation.DefaultOptions()
	opts.ChunkSize = defaultChunk
	if b.ChunkSize != 0 {
		opts.ChunkSize = b.ChunkSize
	}
	if b.OperationName != "" {
		opts.OperationName = b.OperationName
	}
	opts.ValidateBeforeUpdate = !b.SkipValidation
	opts.CreateUndoData = !b.NoUndo
	return opts
}

// recordFile holds records as flat JSON objects keyed by "id", kept in file
// order.
type recordFile struct {
	path  string
	order []string
	rows  map[string]map[string]any
}

func readRecords(path string) (*recordFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read records file %s: %w", path, err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse records file %s: %w", path, err)
	}

	rf := &recordFile{path: path, rows: make(map[string]map[string]any, len(rows))}
	for i, row := range rows {
		raw, ok := row["id"]
		if !ok || raw == nil {
			return nil, fmt.Errorf("record %d in %s has no id", i, path)
		}
		id := fmt.Sprint(raw)
		if _, dup := rf.rows[id]; dup {
			return nil, fmt.Errorf("duplicate record id %q in %s", id, path)
		}
		row["id"] = id
		rf.order = append(rf.order, id)
		rf.rows[id] = row
	}
	return rf, nil
}

func (rf *recordFile) items() []bulk_operation.Record {
	rows := make([]map[string]any, 0, len(rf.order))
	for _, id := range rf.order {
		rows = append(rows, rf.rows[id])
	}
	return bulk_operation.ToRecords(rows)
}

// sink replaces a record's row with the engine's updated copy.
func (rf *recordFile) sink() bulk_operation.ItemUpdateFunc {
	return func(_ context.Context, updated bulk_operation.Record) error {
		if _, ok := rf.rows[updated.ID]; !ok {
			return bulk_operation.Permanent(fmt.Errorf("record %s not in %s", updated.ID, rf.path))
		}
		row := make(map[string]any, len(updated.Fields)+1)
		for k, v := range updated.Fields {
			row[k] = v
		}
		row["id"] = updated.ID
		rf.rows[updated.ID] = row
		return nil
	}
}

// write saves the records to path atomically in their original order.
func (rf *recordFile) write(path string) error {
	rows := make([]map[string]any, 0, len(rf.order))
	for _, id := range rf.order {
		rows = append(rows, rf.rows[id])
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".records-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
