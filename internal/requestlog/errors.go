package requestlog

import (
	"errors"
	"fmt"

	"github.com/Resinat/reqlog/internal/model"
)

var (
	// ErrAlreadyPrepared is returned by StatementPool.Prepare on a pool that
	// still holds statements from an earlier Prepare.
	ErrAlreadyPrepared = errors.New("requestlog: statements already prepared")

	// ErrNotPrepared is returned when a statement is requested from a pool
	// that was never prepared or has been closed.
	ErrNotPrepared = errors.New("requestlog: statements not prepared")

	// ErrBatchClosed is returned by Batch.Insert after the batch has finished.
	ErrBatchClosed = errors.New("requestlog: batch closed")

	// ErrBatchInProgress is returned by operations that must not overlap an
	// open batch transaction on the same connection.
	ErrBatchInProgress = errors.New("requestlog: batch in progress")

	// ErrProducerPanic wraps a panic raised by a Producer. The batch is rolled
	// back as for any other producer failure.
	ErrProducerPanic = errors.New("requestlog: producer panicked")

	// ErrSessionClosed is returned by every Session method after Close.
	ErrSessionClosed = errors.New("requestlog: session closed")
)

// UnknownKindError reports a kind that maps to no table or statement.
type UnknownKindError struct {
	Kind model.Kind
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("requestlog: unknown kind %q", string(e.Kind))
}

// PreparationError reports a statement the store refused to compile.
type PreparationError struct {
	Kind model.Kind
	Err  error
}

func (e *PreparationError) Error() string {
	return fmt.Sprintf("requestlog: prepare %s insert: %v", e.Kind, e.Err)
}

func (e *PreparationError) Unwrap() error { return e.Err }

// InsertError reports a row the store rejected, usually a constraint violation.
type InsertError struct {
	Kind model.Kind
	Line int
	Err  error
}

func (e *InsertError) Error() string {
	return fmt.Sprintf("requestlog: insert %s (line %d): %v", e.Kind, e.Line, e.Err)
}

func (e *InsertError) Unwrap() error { return e.Err }

// BatchError is returned by RunBatch when the batch was rolled back.
type BatchError struct {
	BatchID string
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("requestlog: batch %s rolled back: %v", e.BatchID, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }
