package bulk_operation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HistorySink receives every history entry the engine records.
type HistorySink interface {
	Record(ctx context.Context, entry HistoryEntry) error
}

type EngineConfig struct {
	HistoryLimit    int
	Rules           *ItemRules
	ConflictChecker ConflictChecker
	HistorySink     HistorySink
	DisplayName     func(Record) string
	Logger          *zap.Logger
}

// cachedRun keeps what retry and undo need after a run completes.
// For undo runs updatesFor holds the per-record reverse updates and
// updates is nil. errors is narrowed as retries settle items.
type cachedRun struct {
	items      []Record
	updates    []FieldUpdate
	updatesFor func(Record) []FieldUpdate
	opts       Options
	sink       ItemUpdateFunc
	errors     []OperationError
	applied    map[string]Record
}

type runRequest struct {
	kind       OperationKind
	items      []Record
	updates    []FieldUpdate
	updatesFor func(Record) []FieldUpdate
	opts       Options
	sink       ItemUpdateFunc
	undoOf     string
	// settle is called with the processed outcome while the run still
	// holds the busy guard.
	settle func(succeeded []string, failed []OperationError)
}

// Engine applies field updates to record sets in chunks, one run at a time.
//
// Cancelling a run stops further changes. Records already handed to the
// sink are not rolled back; use UndoOperation on a completed run for that.
type Engine struct {
	rules   ItemRules
	limit   int
	checker ConflictChecker
	sink    HistorySink
	name    func(Record) string
	logger  *zap.Logger
	bus     *progressBus
	newID   func() string
	now     func() time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	progress OperationProgress
	errors   []OperationError
	history  []HistoryEntry
	cache    map[string]*cachedRun
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		rules:   DefaultItemRules(),
		limit:   cfg.HistoryLimit,
		checker: cfg.ConflictChecker,
		sink:    cfg.HistorySink,
		name:    cfg.DisplayName,
		logger:  cfg.Logger,
		bus:     newProgressBus(),
		newID:   uuid.NewString,
		now:     time.Now,
		cache:   make(map[string]*cachedRun),
	}
	if cfg.Rules != nil {
		e.rules = *cfg.Rules
	}
	if e.limit < 1 {
		e.limit = DefaultHistoryLimit
	}
	if e.name == nil {
		e.name = Record.Name
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// RunBulkUpdate applies updates to items in input order. A nil opts uses
// DefaultOptions. The sink is called once for each record whose fields
// actually changed.
func (e *Engine) RunBulkUpdate(ctx context.Context, items []Record, updates []FieldUpdate, opts *Options, sink ItemUpdateFunc) (*OperationResult, error) {
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	kind := KindUpdate
	if o.TemplateID != "" {
		kind = KindTemplate
	}
	return e.run(ctx, runRequest{kind: kind, items: items, updates: updates, opts: o, sink: sink})
}

// RetryFailedItems re-runs the retryable failures of a cached run with its
// original updates, options and sink. Items a retry settles, by success or
// by failing again, leave the run's error list; repeat failures take their
// place with the newer error.
func (e *Engine) RetryFailedItems(ctx context.Context, operationID string) (*OperationResult, error) {
	e.mu.Lock()
	cached, ok := e.cache[operationID]
	var pending []OperationError
	if ok {
		pending = append(pending, cached.errors...)
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotCached, operationID)
	}

	retryable := make(map[string]bool)
	for _, oe := range pending {
		if oe.CanRetry {
			retryable[oe.ItemID] = true
		}
	}
	if len(retryable) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToRetry, operationID)
	}

	items := make([]Record, 0, len(retryable))
	for _, item := range cached.items {
		if retryable[item.ID] {
			items = append(items, item)
		}
	}

	opts := cached.opts
	opts.SkipConflictCheck = true
	opts.OperationName = "Retry: " + cached.opts.OperationName

	return e.run(ctx, runRequest{
		kind:       KindRetry,
		items:      items,
		updates:    cached.updates,
		updatesFor: cached.updatesFor,
		opts:       opts,
		sink:       cached.sink,
		settle: func(succeeded []string, failed []OperationError) {
			e.settleErrors(cached, succeeded, failed)
		},
	})
}

func (e *Engine) settleErrors(cached *cachedRun, succeeded []string, failed []OperationError) {
	done := make(map[string]bool, len(succeeded)+len(failed))
	for _, id := range succeeded {
		done[id] = true
	}
	for _, oe := range failed {
		done[oe.ItemID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := make([]OperationError, 0, len(cached.errors))
	for _, oe := range cached.errors {
		if !done[oe.ItemID] {
			remaining = append(remaining, oe)
		}
	}
	cached.errors = append(remaining, failed...)
}

// UndoOperation restores the pre-update values captured by a run still held
// in history. A nil sink reuses the sink of the original run.
func (e *Engine) UndoOperation(ctx context.Context, operationID string, sink ItemUpdateFunc) (*OperationResult, error) {
	e.mu.Lock()
	var entry *HistoryEntry
	for i := range e.history {
		if e.history[i].ID == operationID {
			h := e.history[i]
			entry = &h
			break
		}
	}
	cached := e.cache[operationID]
	e.mu.Unlock()

	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, operationID)
	}
	if !entry.CanUndo || len(entry.UndoData) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUndoUnavailable, operationID)
	}
	if cached == nil {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotCached, operationID)
	}

	items := make([]Record, 0, len(entry.UndoData))
	for _, item := range cached.items {
		if _, ok := entry.UndoData[item.ID]; !ok {
			continue
		}
		if applied, ok := cached.applied[item.ID]; ok {
			items = append(items, applied)
		} else {
			items = append(items, item)
		}
	}
	if sink == nil {
		sink = cached.sink
	}
	return e.undo(ctx, *entry, items, sink)
}

// UndoFromEntry undoes a history entry against caller-supplied current
// records, for entries loaded from durable storage.
func (e *Engine) UndoFromEntry(ctx context.Context, entry HistoryEntry, items []Record, sink ItemUpdateFunc) (*OperationResult, error) {
	if !entry.CanUndo || len(entry.UndoData) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUndoUnavailable, entry.ID)
	}
	scoped := make([]Record, 0, len(entry.UndoData))
	for _, item := range items {
		if _, ok := entry.UndoData[item.ID]; ok {
			scoped = append(scoped, item)
		}
	}
	return e.undo(ctx, entry, scoped, sink)
}

func (e *Engine) undo(ctx context.Context, entry HistoryEntry, items []Record, sink ItemUpdateFunc) (*OperationResult, error) {
	undoData := entry.UndoData
	return e.run(ctx, runRequest{
		kind:  KindUndo,
		items: items,
		updatesFor: func(r Record) []FieldUpdate {
			snapshot := undoData[r.ID]
			fields := slices.Sorted(maps.Keys(snapshot))
			updates := make([]FieldUpdate, 0, len(fields))
			for _, f := range fields {
				updates = append(updates, FieldUpdate{Field: f, Value: snapshot[f]})
			}
			return updates
		},
		opts: Options{
			OperationName:     "Undo: " + entry.OperationName,
			ChunkSize:         DefaultChunkSize,
			SkipConflictCheck: true,
		},
		sink:   sink,
		undoOf: entry.ID,
	})
}

// CancelOperation requests cooperative cancellation of the active run and
// reports whether one was active.
func (e *Engine) CancelOperation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) Progress() OperationProgress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) Errors() []OperationError {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]OperationError(nil), e.errors...)
}

func (e *Engine) ClearErrors() {
	e.mu.Lock()
	e.errors = nil
	e.mu.Unlock()
}

// History returns recorded runs, most recent first.
func (e *Engine) History() []HistoryEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HistoryEntry(nil), e.history...)
}

// Subscribe registers fn for every progress snapshot. Callbacks run on the
// run's goroutine in emission order and must not start another run.
func (e *Engine) Subscribe(fn ProgressFunc) (unsubscribe func()) {
	return e.bus.subscribe(fn)
}

// SubscribeChan delivers progress on a buffered channel; snapshots are
// dropped while the buffer is full.
func (e *Engine) SubscribeChan(buffer int) (<-chan OperationProgress, func()) {
	return e.bus.subscribeChan(buffer)
}

func (e *Engine) run(ctx context.Context, req runRequest) (*OperationResult, error) {
	opts := req.opts
	if opts.ChunkSize < 0 {
		err := fmt.Errorf("%w: got %d", ErrInvalidChunkSize, opts.ChunkSize)
		signalStart(ctx, err)
		return nil, err
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.OperationName == "" {
		opts.OperationName = DefaultOperationName
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		signalStart(ctx, ErrOperationInProgress)
		return nil, ErrOperationInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	opID := e.newID()
	e.running = true
	e.cancel = cancel
	e.errors = nil
	e.mu.Unlock()
	signalStart(ctx, nil)

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
		cancel()
	}()

	log := e.logger.With(
		zap.String("operation_id", opID),
		zap.String("operation", opts.OperationName),
		zap.String("kind", string(req.kind)),
	)

	total := len(req.items)
	chunkTotal := (total + opts.ChunkSize - 1) / opts.ChunkSize
	base := OperationProgress{
		OperationID: opID,
		TotalItems:  total,
		ChunkTotal:  chunkTotal,
		ChunkSize:   opts.ChunkSize,
		StartedAt:   e.now(),
	}

	fail := func(err error, message string) (*OperationResult, error) {
		p := base
		p.Phase = PhaseFailed
		p.Message = message
		e.emit(p)
		if errors.Is(err, ErrOperationCancelled) {
			log.Info("bulk operation cancelled")
		} else {
			log.Warn("bulk operation failed", zap.Error(err))
		}
		return nil, err
	}

	// preparing
	p := base
	p.Phase = PhasePreparing
	p.Message = "Validating updates..."
	p.CanCancel = true
	e.emit(p)

	if opts.ValidateBeforeUpdate && req.updatesFor == nil {
		if err := ValidateUpdates(req.updates); err != nil {
			return fail(err, "Validation failed: "+err.Error())
		}
	}
	if runCtx.Err() != nil {
		return fail(ErrOperationCancelled, "Operation cancelled")
	}

	if total == 0 {
		p = base
		p.Phase = PhaseCompleted
		p.Message = "No items to update"
		e.emit(p)
		return &OperationResult{OperationID: opID, Success: true, SuccessfulIDs: []string{}, Errors: []ItemError{}}, nil
	}

	if !opts.SkipConflictCheck && e.checker != nil {
		p.Message = "Checking for conflicts..."
		e.emit(p)
		conflicts, err := e.checker.Conflicts(runCtx, req.items)
		if err != nil {
			if runCtx.Err() != nil {
				return fail(ErrOperationCancelled, "Operation cancelled")
			}
			return fail(err, "Conflict check failed: "+err.Error())
		}
		if len(conflicts) > 0 {
			cerr := &ConflictError{RecordIDs: conflicts}
			return fail(cerr, cerr.Error())
		}
	}
	if runCtx.Err() != nil {
		return fail(ErrOperationCancelled, "Operation cancelled")
	}

	log.Info("bulk operation started", zap.Int("items", total), zap.Int("chunk_size", opts.ChunkSize))

	targeted := targetedFields(req.updates)
	undo := make(UndoData)
	applied := make(map[string]Record)
	var (
		successIDs []string
		itemErrors []ItemError
		opErrors   []OperationError
		processed  int
		cancelled  bool
	)

processing:
	for chunkIdx := 0; chunkIdx < chunkTotal; chunkIdx++ {
		if runCtx.Err() != nil {
			cancelled = true
			break
		}
		// let other goroutines (progress readers, cancel requests) in between chunks
		runtime.Gosched()

		start := chunkIdx * opts.ChunkSize
		end := min(start+opts.ChunkSize, total)
		for i := start; i < end; i++ {
			if runCtx.Err() != nil {
				cancelled = true
				break processing
			}
			item := req.items[i]
			name := e.name(item)

			p = base
			p.Phase = PhaseProcessing
			p.CurrentItem = i + 1
			p.CurrentItemName = name
			p.ChunkIndex = chunkIdx + 1
			p.CanCancel = true
			p.Message = fmt.Sprintf("Updating %s (%d of %d)", name, i+1, total)
			e.emit(p)

			updates := req.updates
			fields := targeted
			if req.updatesFor != nil {
				updates = req.updatesFor(item)
				fields = targetedFields(updates)
			}

			out := e.applyItem(ctx, item, updates, fields, opts, req.sink)
			processed++
			if out.snapshot != nil && opts.CreateUndoData {
				undo[item.ID] = out.snapshot
			}
			if out.err != nil {
				oe := e.toOperationError(item, out.err)
				opErrors = append(opErrors, oe)
				itemErrors = append(itemErrors, ItemError{RecordID: item.ID, Error: oe.Message})
				e.mu.Lock()
				e.errors = append(e.errors, oe)
				e.mu.Unlock()
				log.Warn("bulk item failed",
					zap.String("record_id", item.ID),
					zap.String("code", string(oe.Code)),
					zap.Error(out.err),
				)
				continue
			}
			successIDs = append(successIDs, item.ID)
			if out.changed {
				applied[item.ID] = out.updated
			}
		}
	}
	if !cancelled && runCtx.Err() != nil {
		cancelled = true
	}

	result := &OperationResult{
		OperationID:   opID,
		TotalItems:    total,
		SuccessCount:  len(successIDs),
		FailureCount:  len(opErrors),
		SuccessfulIDs: append([]string{}, successIDs...),
		Errors:        append([]ItemError{}, itemErrors...),
	}
	result.Success = result.FailureCount == 0
	if req.settle != nil && processed > 0 {
		req.settle(successIDs, opErrors)
	}

	if cancelled {
		if processed == 0 {
			return fail(ErrOperationCancelled, "Operation cancelled")
		}
		result.Cancelled = true
		result.Success = false
		p = base
		p.Phase = PhaseFailed
		p.CurrentItem = processed
		p.Message = fmt.Sprintf("Operation cancelled after %d of %d items", processed, total)
		e.emit(p)
		log.Info("bulk operation cancelled", zap.Int("processed", processed), zap.Int("succeeded", result.SuccessCount))
		return result, ErrOperationCancelled
	}

	// completing
	p = base
	p.Phase = PhaseCompleting
	p.CurrentItem = total
	p.Message = "Finalizing..."
	e.emit(p)

	entry := HistoryEntry{
		ID:            opID,
		OperationName: opts.OperationName,
		Kind:          req.kind,
		TemplateID:    opts.TemplateID,
		UndoOf:        req.undoOf,
		TotalItems:    total,
		SuccessCount:  result.SuccessCount,
		FailureCount:  result.FailureCount,
		Timestamp:     e.now(),
		Errors:        opErrors,
	}
	if opts.CreateUndoData {
		entry.UndoData = undo
		entry.CanUndo = len(undo) > 0 && result.SuccessCount > 0
	}
	e.record(entry, &cachedRun{
		items:      req.items,
		updates:    req.updates,
		updatesFor: req.updatesFor,
		opts:       opts,
		sink:       req.sink,
		errors:     opErrors,
		applied:    applied,
	})
	if e.sink != nil {
		if err := e.sink.Record(ctx, entry); err != nil {
			log.Error("failed to persist bulk operation history", zap.Error(err))
		}
	}

	p = base
	p.Phase = PhaseCompleted
	p.CurrentItem = total
	if result.FailureCount == 0 {
		p.Message = fmt.Sprintf("Updated %d items", result.SuccessCount)
	} else {
		p.Message = fmt.Sprintf("Completed with %d failures (%d of %d updated)", result.FailureCount, result.SuccessCount, total)
	}
	e.emit(p)

	log.Info("bulk operation completed",
		zap.Int("succeeded", result.SuccessCount),
		zap.Int("failed", result.FailureCount),
	)
	return result, nil
}

type itemOutcome struct {
	updated  Record
	changed  bool
	snapshot map[string]any
	err      error
}

func (e *Engine) applyItem(ctx context.Context, item Record, updates []FieldUpdate, targeted []string, opts Options, sink ItemUpdateFunc) (out itemOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("panic while updating record: %v", r)
		}
	}()

	updated := item.Clone()
	touched := make(map[string]bool, len(updates))
	for _, u := range updates {
		if u.Condition != nil && !u.Condition(item) {
			continue
		}
		touched[u.Field] = true
		if u.Value == nil {
			delete(updated.Fields, u.Field)
		} else {
			updated.Fields[u.Field] = u.Value
		}
	}

	if !differs(item, updated, touched) {
		return itemOutcome{}
	}

	out.updated = updated
	out.changed = true
	out.snapshot = make(map[string]any, len(targeted))
	for _, f := range targeted {
		out.snapshot[f] = item.Fields[f]
	}

	if opts.ValidateBeforeUpdate {
		if err := e.rules.Check(updated, touched); err != nil {
			out.err = err
			return out
		}
	}
	if sink != nil {
		out.err = sink(ctx, updated)
	}
	return out
}

func (e *Engine) toOperationError(item Record, err error) OperationError {
	oe := OperationError{
		ItemID:   item.ID,
		ItemName: e.name(item),
		Message:  err.Error(),
		Code:     ErrCodeUpdateFailed,
		CanRetry: true,
	}
	var rv *RuleViolation
	if errors.As(err, &rv) {
		oe.Code = ErrCodeValidation
		oe.Field = rv.Field
	}
	if errors.Is(err, ErrConflict) {
		oe.Code = ErrCodeConflict
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		oe.CanRetry = false
	}
	return oe
}

// record prepends entry to history and drops cached runs whose entries fall
// off the end.
func (e *Engine) record(entry HistoryEntry, cached *cachedRun) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append([]HistoryEntry{entry}, e.history...)
	e.cache[entry.ID] = cached
	for len(e.history) > e.limit {
		evicted := e.history[len(e.history)-1]
		e.history = e.history[:len(e.history)-1]
		delete(e.cache, evicted.ID)
	}
}

func (e *Engine) emit(p OperationProgress) {
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()
	e.bus.publish(p)
}

func differs(before, after Record, touched map[string]bool) bool {
	for f := range touched {
		old, hadOld := before.Fields[f]
		now, hasNow := after.Fields[f]
		if hadOld != hasNow {
			return true
		}
		if !valuesEqual(old, now) {
			return true
		}
	}
	return false
}

func targetedFields(updates []FieldUpdate) []string {
	seen := make(map[string]bool, len(updates))
	fields := make([]string, 0, len(updates))
	for _, u := range updates {
		if !seen[u.Field] {
			seen[u.Field] = true
			fields = append(fields, u.Field)
		}
	}
	return fields
}
