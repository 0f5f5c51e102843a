package bulk_operation

import "errors"

var (
	ErrInvalidUpdates      = errors.New("invalid update list")
	ErrInvalidChunkSize    = errors.New("chunk size must be >= 1")
	ErrOperationCancelled  = errors.New("operation cancelled")
	ErrOperationInProgress = errors.New("another bulk operation is already running")
	ErrOperationNotCached  = errors.New("no cached data for operation")
	ErrOperationNotFound   = errors.New("operation not found")
	ErrNothingToRetry      = errors.New("no retryable errors for operation")
	ErrUndoUnavailable     = errors.New("operation cannot be undone")
	ErrConflict            = errors.New("conflicting concurrent modification")
)
