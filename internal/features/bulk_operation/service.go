package bulk_operation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	common_models "go-crm-bulk/internal/common/models"
	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/features/record"
	"go-crm-bulk/internal/logger"
	"go-crm-bulk/pkg/condition"

	"go.uber.org/zap"
)

var ErrInvalidTarget = errors.New("invalid bulk target")

// Target selects the records of one module, by id or by an equality filter.
type Target struct {
	ModuleName string         `json:"module_name" yaml:"module_name"`
	IDs        []string       `json:"ids,omitempty" yaml:"ids,omitempty"`
	Filters    map[string]any `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// UpdateSpec is the serialisable form of a FieldUpdate.
type UpdateSpec struct {
	Field     string                   `json:"field" yaml:"field"`
	Value     any                      `json:"value" yaml:"value"`
	Condition *common_models.Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type ExecuteRequest struct {
	Target  `yaml:",inline"`
	Updates []UpdateSpec `json:"updates" yaml:"updates"`
	Options *Options     `json:"options,omitempty" yaml:"options,omitempty"`
}

// RunFunc performs one engine run over loaded records.
type RunFunc func(ctx context.Context, items []Record, sink ItemUpdateFunc) (*OperationResult, error)

type BulkOperationService interface {
	Preview(ctx context.Context, target Target, updates []UpdateSpec) ([]PreviewEntry, PreviewSummary, error)
	Execute(ctx context.Context, req ExecuteRequest) (*OperationResult, error)
	Start(ctx context.Context, req ExecuteRequest) error
	RunOnTarget(ctx context.Context, target Target, run RunFunc) (*OperationResult, error)
	StartOnTarget(ctx context.Context, target Target, run RunFunc) error
	Retry(ctx context.Context, operationID string) (*OperationResult, error)
	Undo(ctx context.Context, operationID string) (*OperationResult, error)
	Cancel() bool
	Busy() bool
	Progress() OperationProgress
	Errors() []OperationError
	History(ctx context.Context, limit int) ([]StoredOperation, error)
	GetOperation(ctx context.Context, id string) (*StoredOperation, error)
	OperationLogs(ctx context.Context, id string, limit int) ([]logger.OperationLog, error)
	SubscribeProgress(buffer int) (<-chan OperationProgress, func())
}

type BulkOperationServiceImpl struct {
	engine     *Engine
	records    record.RecordRepository
	history    HistoryRepository
	logs       LogRepository
	logger     *zap.Logger
	maxRecords int
	chunkSize  int

	mu      sync.Mutex
	modules map[string]string
}

type contextKey string

const (
	moduleContextKey      contextKey = "bulk_module"
	startSignalContextKey contextKey = "bulk_start_signal"
)

func withModule(ctx context.Context, module string) context.Context {
	return context.WithValue(ctx, moduleContextKey, module)
}

func moduleFrom(ctx context.Context) string {
	module, _ := ctx.Value(moduleContextKey).(string)
	return module
}

// withStartSignal attaches fn, which the engine calls once it has either
// taken the busy guard (nil) or refused the run.
func withStartSignal(ctx context.Context, fn func(error)) context.Context {
	return context.WithValue(ctx, startSignalContextKey, fn)
}

func signalStart(ctx context.Context, err error) {
	if fn, ok := ctx.Value(startSignalContextKey).(func(error)); ok {
		fn(err)
	}
}

// NewBulkEngine builds the engine the service drives: rules from config,
// history persisted to Mongo and optimistic concurrency on the version field.
func NewBulkEngine(cfg *config.Config, records record.RecordRepository, history HistoryRepository, log *zap.Logger) *Engine {
	rules := ItemRules{
		RequiredFields:    cfg.BulkRequiredFields,
		NonNegativeFields: cfg.BulkNonNegativeFields,
	}

	var checker ConflictChecker
	if cfg.BulkVersionField != "" {
		checker = NewVersionConflictChecker(cfg.BulkVersionField, func(ctx context.Context, ids []string) (map[string]any, error) {
			module := moduleFrom(ctx)
			if module == "" {
				return nil, fmt.Errorf("%w: module is required for conflict checks", ErrInvalidTarget)
			}
			versions, err := records.UpdatedAt(ctx, module, ids)
			if err != nil {
				return nil, err
			}
			out := make(map[string]any, len(versions))
			for id, v := range versions {
				out[id] = v
			}
			return out, nil
		})
	}

	return NewEngine(EngineConfig{
		HistoryLimit:    cfg.BulkHistoryLimit,
		Rules:           &rules,
		ConflictChecker: checker,
		HistorySink:     history,
		Logger:          log.Named("bulk"),
	})
}

func NewBulkOperationService(
	engine *Engine,
	records record.RecordRepository,
	history HistoryRepository,
	logs LogRepository,
	log *zap.Logger,
	cfg *config.Config,
) BulkOperationService {
	return &BulkOperationServiceImpl{
		engine:     engine,
		records:    records,
		history:    history,
		logs:       logs,
		logger:     log,
		maxRecords: cfg.BulkMaxRecords,
		chunkSize:  cfg.BulkChunkSize,
		modules:    make(map[string]string),
	}
}

func (s *BulkOperationServiceImpl) Preview(ctx context.Context, target Target, specs []UpdateSpec) ([]PreviewEntry, PreviewSummary, error) {
	updates, err := CompileUpdates(specs)
	if err != nil {
		return nil, PreviewSummary{}, err
	}
	items, err := s.load(ctx, target)
	if err != nil {
		return nil, PreviewSummary{}, err
	}
	entries := GeneratePreview(items, updates)
	return entries, Summarize(entries), nil
}

func (s *BulkOperationServiceImpl) Execute(ctx context.Context, req ExecuteRequest) (*OperationResult, error) {
	run, err := s.prepareExecute(req)
	if err != nil {
		return nil, err
	}
	return s.RunOnTarget(ctx, req.Target, run)
}

func (s *BulkOperationServiceImpl) Start(ctx context.Context, req ExecuteRequest) error {
	run, err := s.prepareExecute(req)
	if err != nil {
		return err
	}
	return s.StartOnTarget(ctx, req.Target, run)
}

func (s *BulkOperationServiceImpl) prepareExecute(req ExecuteRequest) (RunFunc, error) {
	updates, err := CompileUpdates(req.Updates)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	opts.ChunkSize = 0
	if req.Options != nil {
		opts = *req.Options
	}
	if opts.ChunkSize == 0 {
		// engine default unless configured
		opts.ChunkSize = s.chunkSize
	}
	if opts.ValidateBeforeUpdate {
		if err := ValidateUpdates(updates); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context, items []Record, sink ItemUpdateFunc) (*OperationResult, error) {
		return s.engine.RunBulkUpdate(ctx, items, updates, &opts, sink)
	}, nil
}

// RunOnTarget loads the target's records and runs them with a sink that
// writes changed fields back to the record store.
func (s *BulkOperationServiceImpl) RunOnTarget(ctx context.Context, target Target, run RunFunc) (*OperationResult, error) {
	if s.engine.Busy() {
		return nil, ErrOperationInProgress
	}
	items, err := s.load(ctx, target)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, target.ModuleName, items, run)
}

// StartOnTarget loads synchronously, so target errors reach the caller, then
// runs in the background. It returns once the engine has accepted the run,
// so a run that took the engine after the busy check is reported here as
// ErrOperationInProgress.
func (s *BulkOperationServiceImpl) StartOnTarget(ctx context.Context, target Target, run RunFunc) error {
	if s.engine.Busy() {
		return ErrOperationInProgress
	}
	items, err := s.load(ctx, target)
	if err != nil {
		return err
	}

	started := make(chan error, 1)
	var once sync.Once
	signal := func(err error) {
		once.Do(func() { started <- err })
	}

	go func() {
		accepted := false
		bgCtx := withStartSignal(context.Background(), func(err error) {
			accepted = err == nil
			signal(err)
		})
		_, err := s.run(bgCtx, target.ModuleName, items, run)
		signal(err)
		if accepted && err != nil && !errors.Is(err, ErrOperationCancelled) {
			s.logger.Error("background bulk operation failed", zap.String("module", target.ModuleName), zap.Error(err))
		}
	}()

	select {
	case err := <-started:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BulkOperationServiceImpl) run(ctx context.Context, module string, items []Record, run RunFunc) (*OperationResult, error) {
	result, err := run(withModule(ctx, module), items, s.newSink(module, items))
	if result != nil {
		s.remember(result.OperationID, module)
	}
	return result, err
}

func (s *BulkOperationServiceImpl) Retry(ctx context.Context, operationID string) (*OperationResult, error) {
	module := s.moduleOf(ctx, operationID)
	result, err := s.engine.RetryFailedItems(withModule(ctx, module), operationID)
	if result != nil {
		s.remember(result.OperationID, module)
	}
	return result, err
}

// Undo reverses a run still held by the engine, or else a persisted one
// against freshly loaded records.
func (s *BulkOperationServiceImpl) Undo(ctx context.Context, operationID string) (*OperationResult, error) {
	module := s.moduleOf(ctx, operationID)
	result, err := s.engine.UndoOperation(withModule(ctx, module), operationID, nil)
	if err == nil || !(errors.Is(err, ErrOperationNotFound) || errors.Is(err, ErrOperationNotCached)) {
		if result != nil {
			s.remember(result.OperationID, module)
		}
		return result, err
	}

	stored, gerr := s.history.Get(ctx, operationID)
	if gerr != nil {
		return nil, gerr
	}
	if !stored.CanUndo || len(stored.UndoData) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUndoUnavailable, operationID)
	}

	ids := slices.Sorted(maps.Keys(stored.UndoData))
	items, err := s.load(ctx, Target{ModuleName: stored.ModuleName, IDs: ids})
	if err != nil {
		return nil, err
	}
	s.logger.Info("undoing persisted bulk operation",
		zap.String("undo_of", operationID),
		zap.Int("records", len(items)),
	)

	result, err = s.engine.UndoFromEntry(withModule(ctx, stored.ModuleName), stored.HistoryEntry, items, s.newSink(stored.ModuleName, items))
	if result != nil {
		s.remember(result.OperationID, stored.ModuleName)
	}
	return result, err
}

func (s *BulkOperationServiceImpl) Cancel() bool {
	return s.engine.CancelOperation()
}

func (s *BulkOperationServiceImpl) Busy() bool {
	return s.engine.Busy()
}

func (s *BulkOperationServiceImpl) Progress() OperationProgress {
	return s.engine.Progress()
}

func (s *BulkOperationServiceImpl) Errors() []OperationError {
	return s.engine.Errors()
}

func (s *BulkOperationServiceImpl) History(ctx context.Context, limit int) ([]StoredOperation, error) {
	return s.history.List(ctx, limit)
}

func (s *BulkOperationServiceImpl) GetOperation(ctx context.Context, id string) (*StoredOperation, error) {
	for _, entry := range s.engine.History() {
		if entry.ID == id {
			return &StoredOperation{HistoryEntry: entry, ModuleName: s.moduleOf(ctx, id)}, nil
		}
	}
	return s.history.Get(ctx, id)
}

func (s *BulkOperationServiceImpl) OperationLogs(ctx context.Context, id string, limit int) ([]logger.OperationLog, error) {
	return s.logs.List(ctx, id, limit)
}

func (s *BulkOperationServiceImpl) SubscribeProgress(buffer int) (<-chan OperationProgress, func()) {
	return s.engine.SubscribeChan(buffer)
}

func (s *BulkOperationServiceImpl) load(ctx context.Context, target Target) ([]Record, error) {
	if target.ModuleName == "" {
		return nil, fmt.Errorf("%w: module_name is required", ErrInvalidTarget)
	}

	var (
		rows []map[string]any
		err  error
	)
	if len(target.IDs) > 0 {
		if len(target.IDs) > s.maxRecords {
			return nil, fmt.Errorf("%w: %d ids exceeds the limit of %d", ErrInvalidTarget, len(target.IDs), s.maxRecords)
		}
		rows, err = s.records.FindByIDs(ctx, target.ModuleName, target.IDs)
	} else {
		rows, err = s.records.List(ctx, target.ModuleName, target.Filters, int64(s.maxRecords))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return ToRecords(rows), nil
}

// newSink writes the difference between the last state written for a record
// and its updated form. Retry and undo reuse it through the engine cache.
func (s *BulkOperationServiceImpl) newSink(module string, items []Record) ItemUpdateFunc {
	var mu sync.Mutex
	state := make(map[string]Record, len(items))
	for _, item := range items {
		state[item.ID] = item
	}

	return func(ctx context.Context, updated Record) error {
		mu.Lock()
		prev := state[updated.ID]
		mu.Unlock()

		data := FieldDelta(prev.Fields, updated.Fields)
		if len(data) == 0 {
			return nil
		}
		if err := s.records.Update(ctx, module, updated.ID, data); err != nil {
			if errors.Is(err, record.ErrRecordNotFound) || errors.Is(err, record.ErrInvalidID) {
				return Permanent(err)
			}
			return err
		}

		mu.Lock()
		state[updated.ID] = updated.Clone()
		mu.Unlock()
		return nil
	}
}

func (s *BulkOperationServiceImpl) remember(operationID, module string) {
	if operationID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[operationID] = module

	live := make(map[string]bool)
	for _, entry := range s.engine.History() {
		live[entry.ID] = true
	}
	for id := range s.modules {
		if !live[id] && id != operationID {
			delete(s.modules, id)
		}
	}
}

func (s *BulkOperationServiceImpl) moduleOf(ctx context.Context, operationID string) string {
	s.mu.Lock()
	module, ok := s.modules[operationID]
	s.mu.Unlock()
	if ok {
		return module
	}
	if stored, err := s.history.Get(ctx, operationID); err == nil {
		return stored.ModuleName
	}
	return ""
}

// CompileUpdates turns update specs into engine updates, compiling rule
// group and expression conditions. System fields cannot be targeted.
func CompileUpdates(specs []UpdateSpec) ([]FieldUpdate, error) {
	compiler := condition.NewCompiler(map[string]interface{}{})
	updates := make([]FieldUpdate, 0, len(specs))
	for i, spec := range specs {
		if record.IsSystemField(spec.Field) {
			return nil, &ValidationError{Index: i, Field: spec.Field, Message: "system fields cannot be updated"}
		}
		u := FieldUpdate{Field: spec.Field, Value: spec.Value}

		pred, err := compiler.CompileCondition(spec.Condition)
		if err != nil {
			return nil, &ValidationError{Index: i, Field: spec.Field, Message: err.Error()}
		}
		if pred != nil {
			u.Condition = func(r Record) bool { return pred(r.Fields) }
		}
		updates = append(updates, u)
	}
	return updates, nil
}

// ToRecords converts flattened store rows into engine records.
func ToRecords(rows []map[string]any) []Record {
	items := make([]Record, 0, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		items = append(items, Record{ID: id, Fields: row})
	}
	return items
}

// FieldDelta returns the changed non-system fields of after, with nil for
// fields removed since before.
func FieldDelta(before, after map[string]any) map[string]any {
	delta := make(map[string]any)
	for k, v := range after {
		if record.IsSystemField(k) {
			continue
		}
		old, ok := before[k]
		if !ok || !valuesEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range before {
		if record.IsSystemField(k) {
			continue
		}
		if _, ok := after[k]; !ok {
			delta[k] = nil
		}
	}
	return delta
}
