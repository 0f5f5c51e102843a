package bulk_operation

import (
	"context"
	"fmt"
	"time"
)

// Record is an externally owned entity addressed by id and named fields.
type Record struct {
	ID     string         `json:"id" bson:"id"`
	Fields map[string]any `json:"fields" bson:"fields"`
}

// Name returns the display name used in progress messages.
func (r Record) Name() string {
	for _, key := range []string{"name", "title"} {
		if v, ok := r.Fields[key].(string); ok && v != "" {
			return v
		}
	}
	return r.ID
}

func (r Record) Clone() Record {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Record{ID: r.ID, Fields: fields}
}

type Predicate func(Record) bool

// FieldUpdate sets Field to Value on every record matching Condition.
// A nil Condition matches every record.
type FieldUpdate struct {
	Field     string    `json:"field"`
	Value     any       `json:"value"`
	Condition Predicate `json:"-"`
}

// ItemUpdateFunc receives a record whose fields changed. It is the only path
// through which the engine mutates caller state.
type ItemUpdateFunc func(ctx context.Context, updated Record) error

type Options struct {
	OperationName        string `json:"operation_name"`
	ChunkSize            int    `json:"chunk_size"`
	ValidateBeforeUpdate bool   `json:"validate_before_update"`
	CreateUndoData       bool   `json:"create_undo_data"`
	TemplateID           string `json:"template_id,omitempty"`
	SkipConflictCheck    bool   `json:"skip_conflict_check"`
}

const (
	DefaultChunkSize     = 100
	DefaultHistoryLimit  = 10
	DefaultOperationName = "Bulk Update"
)

func DefaultOptions() Options {
	return Options{
		OperationName:        DefaultOperationName,
		ChunkSize:            DefaultChunkSize,
		ValidateBeforeUpdate: true,
		CreateUndoData:       true,
	}
}

type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseProcessing Phase = "processing"
	PhaseCompleting Phase = "completing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// OperationProgress is a snapshot of the active run.
type OperationProgress struct {
	OperationID     string    `json:"operation_id"`
	TotalItems      int       `json:"total_items"`
	CurrentItem     int       `json:"current_item"`
	CurrentItemName string    `json:"current_item_name"`
	Phase           Phase     `json:"phase"`
	Message         string    `json:"message"`
	CanCancel       bool      `json:"can_cancel"`
	ChunkIndex      int       `json:"chunk_index,omitempty"`
	ChunkTotal      int       `json:"chunk_total,omitempty"`
	ChunkSize       int       `json:"chunk_size,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

func (p OperationProgress) Percent() float64 {
	if p.TotalItems == 0 {
		if p.Phase == PhaseCompleted {
			return 100
		}
		return 0
	}
	return float64(p.CurrentItem) / float64(p.TotalItems) * 100
}

type ErrorCode string

const (
	ErrCodeValidation   ErrorCode = "VALIDATION_FAILED"
	ErrCodeUpdateFailed ErrorCode = "UPDATE_FAILED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
)

// OperationError describes one failed record.
type OperationError struct {
	ItemID   string    `json:"item_id" bson:"item_id"`
	ItemName string    `json:"item_name" bson:"item_name"`
	Field    string    `json:"field,omitempty" bson:"field,omitempty"`
	Message  string    `json:"message" bson:"message"`
	Code     ErrorCode `json:"code" bson:"code"`
	CanRetry bool      `json:"can_retry" bson:"can_retry"`
}

type ItemError struct {
	RecordID string `json:"record_id"`
	Error    string `json:"error"`
}

type OperationResult struct {
	OperationID   string      `json:"operation_id"`
	Success       bool        `json:"success"`
	TotalItems    int         `json:"total_items"`
	SuccessCount  int         `json:"success_count"`
	FailureCount  int         `json:"failure_count"`
	SuccessfulIDs []string    `json:"successful_ids"`
	Errors        []ItemError `json:"errors"`
	Cancelled     bool        `json:"cancelled,omitempty"`
}

// Partial reports a completed run where some but not all items failed.
func (r *OperationResult) Partial() bool {
	return r.FailureCount > 0 && r.SuccessCount > 0
}

type OperationKind string

const (
	KindUpdate   OperationKind = "update"
	KindRetry    OperationKind = "retry"
	KindUndo     OperationKind = "undo"
	KindTemplate OperationKind = "template"
)

// UndoData maps record id to the pre-update values of every targeted field.
// A nil value means the field was absent.
type UndoData map[string]map[string]any

// HistoryEntry summarises a completed run.
type HistoryEntry struct {
	ID            string           `json:"id" bson:"_id"`
	OperationName string           `json:"operation_name" bson:"operation_name"`
	Kind          OperationKind    `json:"kind" bson:"kind"`
	TemplateID    string           `json:"template_id,omitempty" bson:"template_id,omitempty"`
	UndoOf        string           `json:"undo_of,omitempty" bson:"undo_of,omitempty"`
	TotalItems    int              `json:"total_items" bson:"total_items"`
	SuccessCount  int              `json:"success_count" bson:"success_count"`
	FailureCount  int              `json:"failure_count" bson:"failure_count"`
	Timestamp     time.Time        `json:"timestamp" bson:"timestamp"`
	CanUndo       bool             `json:"can_undo" bson:"can_undo"`
	UndoData      UndoData         `json:"undo_data,omitempty" bson:"undo_data,omitempty"`
	Errors        []OperationError `json:"errors,omitempty" bson:"errors,omitempty"`
}

// RuleViolation is a per-item business rule failure.
type RuleViolation struct {
	Field   string
	Message string
}

func (e *RuleViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError rejects the update list as a whole.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("update %d: %s", e.Index, e.Message)
	}
	return fmt.Sprintf("update %d (%s): %s", e.Index, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidUpdates
}

type ConflictError struct {
	RecordIDs []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%d record(s) were modified concurrently: %v", len(e.RecordIDs), e.RecordIDs)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a sink error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
