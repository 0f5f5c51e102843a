package bulk_operation

import (
	"context"
	"fmt"
)

// ConflictChecker reports the ids of records that changed underneath the
// caller since they were loaded.
type ConflictChecker interface {
	Conflicts(ctx context.Context, items []Record) ([]string, error)
}

type ConflictCheckerFunc func(ctx context.Context, items []Record) ([]string, error)

func (f ConflictCheckerFunc) Conflicts(ctx context.Context, items []Record) ([]string, error) {
	return f(ctx, items)
}

// VersionLookup returns current versions keyed by record id. Ids missing
// from the map are treated as deleted.
type VersionLookup func(ctx context.Context, ids []string) (map[string]any, error)

// VersionConflictChecker compares the version field carried on each record
// (an etag, revision counter or updated_at timestamp) with the current one.
type VersionConflictChecker struct {
	Field   string
	Current VersionLookup
}

func NewVersionConflictChecker(field string, current VersionLookup) *VersionConflictChecker {
	return &VersionConflictChecker{Field: field, Current: current}
}

func (c *VersionConflictChecker) Conflicts(ctx context.Context, items []Record) ([]string, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	current, err := c.Current(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load current versions: %w", err)
	}

	var conflicts []string
	for _, item := range items {
		seen, ok := item.Fields[c.Field]
		if !ok {
			// nothing to compare against
			continue
		}
		now, exists := current[item.ID]
		if !exists || !valuesEqual(normalizeVersion(seen), normalizeVersion(now)) {
			conflicts = append(conflicts, item.ID)
		}
	}
	return conflicts, nil
}

func normalizeVersion(v any) any {
	if t, ok := v.(interface{ UnixNano() int64 }); ok {
		return t.UnixNano()
	}
	return v
}
