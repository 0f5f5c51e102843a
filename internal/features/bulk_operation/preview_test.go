package bulk_operation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePreviewDiffs(t *testing.T) {
	items := []Record{
		{ID: "1", Fields: map[string]any{"name": "Lamp", "isActive": true, "isFeatured": true, "price": 100.0}},
		{ID: "2", Fields: map[string]any{"name": "Desk", "isActive": false, "price": 100}},
	}
	updates := []FieldUpdate{
		{Field: "isActive", Value: false},
		{Field: "price", Value: 100.0},
	}

	entries := GeneratePreview(items, updates)
	require.Len(t, entries, 2)

	assert.Equal(t, map[string]FieldChange{"isActive": {From: true, To: false}}, entries[0].Changes)
	assert.Equal(t, []string{"Deactivating a featured item"}, entries[0].Warnings)
	assert.Empty(t, entries[0].Conflicts)

	assert.False(t, entries[1].HasChanges())
	assert.Empty(t, entries[1].Warnings)
}

func TestGeneratePreviewRules(t *testing.T) {
	item := Record{ID: "1", Fields: map[string]any{"name": "Lamp", "price": 100.0}}

	tests := []struct {
		name      string
		update    FieldUpdate
		warnings  []string
		conflicts []string
	}{
		{"negative price", FieldUpdate{Field: "price", Value: -1}, []string{"Price is negative"}, []string{}},
		{"implausible price", FieldUpdate{Field: "price", Value: 2_000_000}, []string{"Price 2000000.00 is unusually high"}, []string{}},
		{"large change", FieldUpdate{Field: "price", Value: 250}, []string{"Price changes by 150%"}, []string{}},
		{"small change", FieldUpdate{Field: "price", Value: 120}, []string{}, []string{}},
		{"empty name", FieldUpdate{Field: "name", Value: "  "}, []string{}, []string{"name cannot be empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := GeneratePreview([]Record{item}, []FieldUpdate{tt.update})
			require.Len(t, entries, 1)
			assert.True(t, entries[0].HasChanges())
			assert.Equal(t, tt.warnings, entries[0].Warnings)
			assert.Equal(t, tt.conflicts, entries[0].Conflicts)
		})
	}
}

func TestGeneratePreviewHonoursConditions(t *testing.T) {
	items := makeProducts(3)
	onlySecond := func(r Record) bool { return r.ID == "p02" }

	entries := GeneratePreview(items, []FieldUpdate{{Field: "isActive", Value: false, Condition: onlySecond}})
	assert.False(t, entries[0].HasChanges())
	assert.True(t, entries[1].HasChanges())
	assert.False(t, entries[2].HasChanges())
}

func TestGeneratePreviewIsPure(t *testing.T) {
	items := makeProducts(4)
	updates := []FieldUpdate{{Field: "isActive", Value: false}, {Field: "price", Value: -3}}

	first := GeneratePreview(items, updates)
	second := GeneratePreview(items, updates)

	assert.Equal(t, first, second)
	for _, item := range items {
		assert.Equal(t, true, item.Fields["isActive"])
		assert.Equal(t, 10.0, item.Fields["price"])
	}
}

func TestGeneratePreviewCustomRules(t *testing.T) {
	block := func(_ Record, field string, _ FieldChange) (string, string) {
		if field == "sku" {
			return "", "sku is immutable"
		}
		return "", ""
	}
	entries := NewPreviewer(block).Generate(makeProducts(1), []FieldUpdate{{Field: "sku", Value: "X"}})
	assert.Equal(t, []string{"sku is immutable"}, entries[0].Conflicts)
}

func TestSummarize(t *testing.T) {
	items := []Record{
		{ID: "1", Fields: map[string]any{"name": "A", "price": 10.0}},
		{ID: "2", Fields: map[string]any{"name": "B", "price": -1.0}},
		{ID: "3", Fields: map[string]any{"name": "C", "price": 10.0}},
	}
	updates := []FieldUpdate{
		{Field: "price", Value: -1.0},
		{Field: "name", Value: "", Condition: func(r Record) bool { return r.ID == "3" }},
	}

	s := Summarize(GeneratePreview(items, updates))
	assert.Equal(t, PreviewSummary{Total: 3, Changed: 2, Unchanged: 1, WithWarning: 2, Blocked: 1}, s)
}
