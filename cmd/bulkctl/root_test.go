package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const recordsJSON = `[
  {"id": "p1", "name": "Widget", "price": 20, "isActive": true},
  {"id": "p2", "name": "Gadget", "price": 10, "isActive": true},
  {"id": 3, "name": "Bolt", "price": 30, "isActive": true}
]`

const conditionalBatch = `operation_name: Deactivate pricey
updates:
  - field: isActive
    value: false
    condition:
      group:
        operator: AND
        rules:
          - field: price
            operator: gt
            value: 15
`

const plainBatch = `{"updates": [{"field": "status", "value": "archived"}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func readRows(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		out[row["id"].(string)] = row
	}
	return out
}

func TestRootCmdSetup(t *testing.T) {
	root := newRootCmd()
	assert.Equal(t, "bulkctl", root.Use)

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"preview", "apply", "templates"})
}

func TestPreviewDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	records := writeFile(t, dir, "records.json", recordsJSON)
	batch := writeFile(t, dir, "batch.yaml", conditionalBatch)
	xlsx := filepath.Join(dir, "preview.xlsx")

	out, err := runCLI(t, "preview", "--records", records, "--batch", batch, "--xlsx", xlsx)
	require.NoError(t, err)
	assert.Contains(t, out, "p1 (Widget)")
	assert.Contains(t, out, "isActive: true -> false")
	assert.NotContains(t, out, "p2 (Gadget)")
	assert.Contains(t, out, "3 records, 2 changed")
	assert.FileExists(t, xlsx)

	data, err := os.ReadFile(records)
	require.NoError(t, err)
	assert.Equal(t, recordsJSON, string(data))
}

func TestApplyWritesUpdatedRecords(t *testing.T) {
	dir := t.TempDir()
	records := writeFile(t, dir, "records.json", recordsJSON)
	batch := writeFile(t, dir, "batch.yaml", conditionalBatch)
	outPath := filepath.Join(dir, "out.json")

	out, err := runCLI(t, "apply", "-r", records, "-b", batch, "-o", outPath)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	rows := readRows(t, outPath)
	assert.Equal(t, false, rows["p1"]["isActive"])
	assert.Equal(t, true, rows["p2"]["isActive"])
	assert.Equal(t, false, rows["3"]["isActive"])
	assert.Equal(t, "Bolt", rows["3"]["name"])
}

func TestApplyRejectsInvalidBatch(t *testing.T) {
	dir := t.TempDir()
	records := writeFile(t, dir, "records.json", recordsJSON)
	batch := writeFile(t, dir, "batch.yaml", "updates:\n  - field: \"\"\n    value: 1\n")

	_, err := runCLI(t, "apply", "-r", records, "-b", batch)
	require.Error(t, err)

	data, rerr := os.ReadFile(records)
	require.NoError(t, rerr)
	assert.Equal(t, recordsJSON, string(data))
}

func TestRecordsRequireUniqueIDs(t *testing.T) {
	dir := t.TempDir()
	records := writeFile(t, dir, "records.json", `[{"id":"a"},{"id":"a"}]`)
	batch := writeFile(t, dir, "batch.json", plainBatch)

	_, err := runCLI(t, "apply", "-r", records, "-b", batch)
	assert.ErrorContains(t, err, "duplicate record id")
}

func TestTemplatesLifecycle(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "store")
	records := writeFile(t, dir, "records.json", recordsJSON)
	plain := writeFile(t, dir, "plain.json", plainBatch)
	conditional := writeFile(t, dir, "conditional.yaml", conditionalBatch)

	_, err := runCLI(t, "--store", store, "templates", "save", "--name", "Archive", "--batch", conditional)
	assert.ErrorContains(t, err, "cannot store conditions")

	out, err := runCLI(t, "--store", store, "templates", "save", "--name", "Archive", "--batch", plain)
	require.NoError(t, err)
	match := regexp.MustCompile(`saved template (\S+) `).FindStringSubmatch(out)
	require.Len(t, match, 2)
	id := match[1]

	out, err = runCLI(t, "--store", store, "templates", "apply", id, "-r", records, "--json")
	require.NoError(t, err)
	var result struct {
		SuccessCount int `json:"success_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, "archived", readRows(t, records)["p2"]["status"])

	out, err = runCLI(t, "--store", store, "templates", "list")
	require.NoError(t, err)
	assert.Regexp(t, `Archive\s+1\s+1`, out)

	_, err = runCLI(t, "--store", store, "templates", "delete", id)
	require.NoError(t, err)
	out, err = runCLI(t, "--store", store, "templates", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "Archive")

	_, err = runCLI(t, "--store", store, "templates", "apply", id, "-r", records)
	assert.Error(t, err)
}
