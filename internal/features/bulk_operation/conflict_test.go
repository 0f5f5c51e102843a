package bulk_operation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionConflictChecker(t *testing.T) {
	loaded := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []Record{
		{ID: "same", Fields: map[string]any{"updated_at": loaded}},
		{ID: "changed", Fields: map[string]any{"updated_at": loaded}},
		{ID: "deleted", Fields: map[string]any{"updated_at": loaded}},
		{ID: "unversioned", Fields: map[string]any{}},
	}

	checker := NewVersionConflictChecker("updated_at", func(_ context.Context, ids []string) (map[string]any, error) {
		assert.Len(t, ids, 4)
		return map[string]any{
			"same":        loaded.In(time.FixedZone("X", 3600)),
			"changed":     loaded.Add(time.Second),
			"unversioned": loaded,
		}, nil
	})

	conflicts, err := checker.Conflicts(context.Background(), items)
	require.NoError(t, err)
	assert.Equal(t, []string{"changed", "deleted"}, conflicts)
}

func TestVersionConflictCheckerLookupError(t *testing.T) {
	checker := NewVersionConflictChecker("rev", func(context.Context, []string) (map[string]any, error) {
		return nil, errors.New("db down")
	})
	_, err := checker.Conflicts(context.Background(), makeProducts(1))
	assert.Error(t, err)
}

func TestVersionConflictCheckerNumericRevisions(t *testing.T) {
	checker := NewVersionConflictChecker("rev", func(context.Context, []string) (map[string]any, error) {
		return map[string]any{"a": int64(3)}, nil
	})
	conflicts, err := checker.Conflicts(context.Background(), []Record{{ID: "a", Fields: map[string]any{"rev": 3}}})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}
