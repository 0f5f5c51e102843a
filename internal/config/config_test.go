package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.BulkChunkSize)
	assert.Equal(t, 10, cfg.BulkHistoryLimit)
	assert.Equal(t, []string{"name"}, cfg.BulkRequiredFields)
	assert.Equal(t, []string{"price"}, cfg.BulkNonNegativeFields)
	assert.Equal(t, "bulk_operation_templates", cfg.BulkTemplateKey)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BULK_CHUNK_SIZE", "25")
	t.Setenv("BULK_HISTORY_LIMIT", "not-a-number")
	t.Setenv("BULK_REQUIRED_FIELDS", "name, sku ,")
	t.Setenv("BULK_NON_NEGATIVE_FIELDS", "")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.BulkChunkSize)
	assert.Equal(t, 10, cfg.BulkHistoryLimit)
	assert.Equal(t, []string{"name", "sku"}, cfg.BulkRequiredFields)
	assert.Empty(t, cfg.BulkNonNegativeFields)
	assert.True(t, cfg.IsProduction())
}
