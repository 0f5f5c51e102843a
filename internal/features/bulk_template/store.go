package bulk_template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/kvstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultKey = "bulk_operation_templates"

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrInvalidTemplate  = errors.New("invalid template")
)

// Runner is the part of the engine a template is applied through.
type Runner interface {
	RunBulkUpdate(ctx context.Context, items []bulk_operation.Record, updates []bulk_operation.FieldUpdate, opts *bulk_operation.Options, sink bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error)
}

// Store keeps templates as one JSON document under a single KV key.
type Store struct {
	kv     kvstore.KVStore
	runner Runner
	logger *zap.Logger
	key    string
	newID  func() string
	now    func() time.Time

	mu        sync.Mutex
	loaded    bool
	templates []Template
}

func NewStore(kv kvstore.KVStore, runner Runner, logger *zap.Logger, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:     kv,
		runner: runner,
		logger: logger,
		key:    key,
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// LoadTemplates reads the persisted list. A missing, unreadable or corrupt
// value yields an empty list and a warning.
func (s *Store) LoadTemplates(ctx context.Context) []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load(ctx)
	return cloneTemplates(s.templates)
}

func (s *Store) load(ctx context.Context) {
	s.loaded = true
	s.templates = []Template{}

	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.logger.Warn("failed to read bulk templates, starting empty", zap.String("key", s.key), zap.Error(err))
		return
	}
	if !ok || raw == "" {
		return
	}

	var templates []Template
	if err := json.Unmarshal([]byte(raw), &templates); err != nil {
		s.logger.Warn("corrupt bulk template store, starting empty", zap.String("key", s.key), zap.Error(err))
		return
	}
	if templates != nil {
		s.templates = templates
	}
}

func (s *Store) ensureLoaded(ctx context.Context) {
	if !s.loaded {
		s.load(ctx)
	}
}

// Persist replaces the stored list with templates.
func (s *Store) Persist(ctx context.Context, templates []Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, cloneTemplates(templates))
}

func (s *Store) persist(ctx context.Context, templates []Template) error {
	raw, err := json.Marshal(templates)
	if err != nil {
		return fmt.Errorf("failed to encode templates: %w", err)
	}
	if err := s.kv.Set(ctx, s.key, string(raw)); err != nil {
		return fmt.Errorf("failed to persist templates: %w", err)
	}
	s.loaded = true
	s.templates = templates
	return nil
}

func (s *Store) SaveTemplate(ctx context.Context, name, operationName string, fields map[string]any, description string) (*Template, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTemplate)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: at least one field is required", ErrInvalidTemplate)
	}
	for f, v := range fields {
		if f == "" || v == nil {
			return nil, fmt.Errorf("%w: field %q has no value", ErrInvalidTemplate, f)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	t := Template{
		ID:            s.newID(),
		Name:          name,
		Description:   description,
		OperationName: operationName,
		Fields:        maps.Clone(fields),
		CreatedAt:     s.now(),
	}
	next := append(cloneTemplates(s.templates), t)
	if err := s.persist(ctx, next); err != nil {
		return nil, err
	}

	s.logger.Info("bulk template saved", zap.String("template_id", t.ID), zap.String("name", name))
	return &t, nil
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	for _, t := range s.templates {
		if t.ID == id {
			t.Fields = maps.Clone(t.Fields)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

func (s *Store) ListTemplates(ctx context.Context) []Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	return cloneTemplates(s.templates)
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	idx := slices.IndexFunc(s.templates, func(t Template) bool { return t.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	next := slices.Delete(cloneTemplates(s.templates), idx, idx+1)
	return s.persist(ctx, next)
}

// ApplyTemplate runs the template's fields as unconditional updates, in field
// name order. UsageCount goes up by one whenever the run itself is accepted,
// whatever happens to individual items.
func (s *Store) ApplyTemplate(ctx context.Context, id string, items []bulk_operation.Record, sink bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error) {
	t, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}

	opts := bulk_operation.DefaultOptions()
	opts.TemplateID = t.ID
	if t.OperationName != "" {
		opts.OperationName = t.OperationName
	} else {
		opts.OperationName = t.Name
	}

	result, err := s.runner.RunBulkUpdate(ctx, items, Updates(t), &opts, sink)
	if err != nil {
		return result, err
	}

	if err := s.incrementUsage(ctx, id); err != nil {
		s.logger.Warn("failed to record template usage", zap.String("template_id", id), zap.Error(err))
	}
	return result, nil
}

func (s *Store) incrementUsage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	next := cloneTemplates(s.templates)
	idx := slices.IndexFunc(next, func(t Template) bool { return t.ID == id })
	if idx < 0 {
		// deleted while the run was in flight
		return nil
	}
	next[idx].UsageCount++
	return s.persist(ctx, next)
}

// Updates expands a template into an unconditional update list.
func Updates(t *Template) []bulk_operation.FieldUpdate {
	fields := slices.Sorted(maps.Keys(t.Fields))
	updates := make([]bulk_operation.FieldUpdate, 0, len(fields))
	for _, f := range fields {
		updates = append(updates, bulk_operation.FieldUpdate{Field: f, Value: t.Fields[f]})
	}
	return updates
}

func cloneTemplates(in []Template) []Template {
	out := make([]Template, len(in))
	for i, t := range in {
		t.Fields = maps.Clone(t.Fields)
		out[i] = t
	}
	return out
}
