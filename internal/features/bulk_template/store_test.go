package bulk_template

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/kvstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk unavailable")
}

func (failingKV) Set(context.Context, string, string) error {
	return errors.New("disk unavailable")
}

type stubRunner struct {
	calls   int
	updates []bulk_operation.FieldUpdate
	opts    bulk_operation.Options
	err     error
}

func (r *stubRunner) RunBulkUpdate(_ context.Context, items []bulk_operation.Record, updates []bulk_operation.FieldUpdate, opts *bulk_operation.Options, _ bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error) {
	r.calls++
	r.updates = updates
	r.opts = *opts
	if r.err != nil {
		return nil, r.err
	}
	return &bulk_operation.OperationResult{Success: true, TotalItems: len(items), SuccessCount: len(items)}, nil
}

func products(n int) []bulk_operation.Record {
	items := make([]bulk_operation.Record, n)
	for i := range items {
		items[i] = bulk_operation.Record{
			ID:     fmt.Sprintf("p%d", i+1),
			Fields: map[string]any{"name": fmt.Sprintf("Product %d", i+1), "isActive": true},
		}
	}
	return items
}

func TestLoadTemplatesMissingStore(t *testing.T) {
	store := NewStore(kvstore.NewMemoryStore(), &stubRunner{}, nil, "")
	assert.Empty(t, store.LoadTemplates(context.Background()))
	assert.NotNil(t, store.LoadTemplates(context.Background()))
}

func TestLoadTemplatesCorruptStore(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	kv := kvstore.NewMemoryStore()
	require.NoError(t, kv.Set(context.Background(), DefaultKey, "{not json"))

	store := NewStore(kv, &stubRunner{}, zap.New(core), "")
	templates := store.LoadTemplates(context.Background())

	assert.Empty(t, templates)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "corrupt")
}

func TestLoadTemplatesUnreadableStore(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := NewStore(failingKV{}, &stubRunner{}, zap.New(core), "")

	assert.Empty(t, store.LoadTemplates(context.Background()))
	assert.Equal(t, 1, logs.Len())

	_, err := store.SaveTemplate(context.Background(), "Deactivate", "Deactivate", map[string]any{"isActive": false}, "")
	assert.Error(t, err)
}

func TestSaveListDeletePersist(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemoryStore()
	store := NewStore(kv, &stubRunner{}, nil, "")

	a, err := store.SaveTemplate(ctx, "Deactivate", "Deactivate products", map[string]any{"isActive": false}, "turn off")
	require.NoError(t, err)
	b, err := store.SaveTemplate(ctx, "Discount", "", map[string]any{"price": 9.99}, "")
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 0, a.UsageCount)
	assert.False(t, a.CreatedAt.IsZero())

	reopened := NewStore(kv, &stubRunner{}, nil, "")
	list := reopened.ListTemplates(ctx)
	require.Len(t, list, 2)
	assert.Equal(t, "Deactivate", list[0].Name)
	assert.Equal(t, "turn off", list[0].Description)
	assert.Equal(t, false, list[0].Fields["isActive"])

	require.NoError(t, reopened.DeleteTemplate(ctx, a.ID))
	assert.Len(t, NewStore(kv, &stubRunner{}, nil, "").ListTemplates(ctx), 1)

	assert.ErrorIs(t, reopened.DeleteTemplate(ctx, a.ID), ErrTemplateNotFound)
}

func TestSaveTemplateValidation(t *testing.T) {
	store := NewStore(kvstore.NewMemoryStore(), &stubRunner{}, nil, "")
	ctx := context.Background()

	_, err := store.SaveTemplate(ctx, "", "op", map[string]any{"a": 1}, "")
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = store.SaveTemplate(ctx, "name", "op", nil, "")
	assert.ErrorIs(t, err, ErrInvalidTemplate)

	_, err = store.SaveTemplate(ctx, "name", "op", map[string]any{"a": nil}, "")
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestPersistReplacesList(t *testing.T) {
	ctx := context.Background()
	store := NewStore(kvstore.NewMemoryStore(), &stubRunner{}, nil, "custom")

	require.NoError(t, store.Persist(ctx, []Template{{ID: "t1", Name: "One", Fields: map[string]any{"a": 1}}}))
	list := store.LoadTemplates(ctx)
	require.Len(t, list, 1)
	assert.Equal(t, "t1", list[0].ID)
}

func TestApplyTemplateCountsUsageOnceRegardlessOfItemOutcome(t *testing.T) {
	ctx := context.Background()
	engine := bulk_operation.NewEngine(bulk_operation.EngineConfig{})
	store := NewStore(kvstore.NewMemoryStore(), engine, nil, "")

	tpl, err := store.SaveTemplate(ctx, "Deactivate", "Deactivate products", map[string]any{"isActive": false}, "")
	require.NoError(t, err)

	sink := func(_ context.Context, r bulk_operation.Record) error {
		if r.ID == "p2" || r.ID == "p4" {
			return errors.New("write rejected")
		}
		return nil
	}

	result, err := store.ApplyTemplate(ctx, tpl.ID, products(5), sink)
	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 2, result.FailureCount)

	got, err := store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)

	history := engine.History()
	require.Len(t, history, 1)
	assert.Equal(t, tpl.ID, history[0].TemplateID)
	assert.Equal(t, bulk_operation.KindTemplate, history[0].Kind)
	assert.Equal(t, "Deactivate products", history[0].OperationName)
}

func TestApplyTemplateRejectedRunDoesNotCountUsage(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{err: bulk_operation.ErrOperationInProgress}
	store := NewStore(kvstore.NewMemoryStore(), runner, nil, "")

	tpl, err := store.SaveTemplate(ctx, "Deactivate", "", map[string]any{"isActive": false}, "")
	require.NoError(t, err)

	_, err = store.ApplyTemplate(ctx, tpl.ID, products(2), nil)
	assert.ErrorIs(t, err, bulk_operation.ErrOperationInProgress)

	got, err := store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UsageCount)
	assert.Equal(t, "Deactivate", runner.opts.OperationName)
}

func TestApplyTemplateUnknown(t *testing.T) {
	runner := &stubRunner{}
	store := NewStore(kvstore.NewMemoryStore(), runner, nil, "")

	_, err := store.ApplyTemplate(context.Background(), "missing", products(1), nil)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.Zero(t, runner.calls)
}

func TestApplyTemplateUsesSortedUnconditionalUpdates(t *testing.T) {
	ctx := context.Background()
	runner := &stubRunner{}
	store := NewStore(kvstore.NewMemoryStore(), runner, nil, "")

	tpl, err := store.SaveTemplate(ctx, "Mixed", "", map[string]any{"status": "archived", "isActive": false, "price": 0}, "")
	require.NoError(t, err)

	_, err = store.ApplyTemplate(ctx, tpl.ID, products(1), nil)
	require.NoError(t, err)

	require.Len(t, runner.updates, 3)
	assert.Equal(t, "isActive", runner.updates[0].Field)
	assert.Equal(t, "price", runner.updates[1].Field)
	assert.Equal(t, "status", runner.updates[2].Field)
	for _, u := range runner.updates {
		assert.Nil(t, u.Condition)
	}
	assert.Equal(t, tpl.ID, runner.opts.TemplateID)
	assert.True(t, runner.opts.ValidateBeforeUpdate)
	assert.True(t, runner.opts.CreateUndoData)
}
