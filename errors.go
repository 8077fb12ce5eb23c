package memcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/perfectmpc/memcore/layers"
	"github.com/perfectmpc/memcore/session"
	"github.com/perfectmpc/memcore/store"
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a session or context entry
	// was not found.
	KindNotFound = "not_found"

	// KindAlreadyExists represents errors where a record already exists.
	KindAlreadyExists = "already_exists"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindStorage represents storage-layer connectivity or write
	// failures. These are never swallowed: silent data loss in a memory
	// subsystem is unacceptable.
	KindStorage = "storage"

	// KindInternal represents internal engine errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category
// of error.
//
// Error implements the error interface and supports error unwrapping,
// making it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &Error{
//		Op:   "Engine.GetSession",
//		Kind: KindNotFound,
//		Err:  session.ErrNotFound,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Engine.CreateSession").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindStorage).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional),
	// such as session or context-entry ids.
	Context map[string]any
}

// Error implements the error interface, returning a formatted message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memcore: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("memcore: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("memcore: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and
// errors.As() to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Error, allowing comparison based on
// the underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Another *Error matches on Kind, and on Op when the target sets one.
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
//
// Example:
//
//	err = err.WithContext(map[string]any{"session_id": id})
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindNotFound, Err: err}
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindValidation, Err: err}
}

// NewStorageError creates a new Error with KindStorage.
func NewStorageError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindStorage, Err: err}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{Op: op, Kind: KindInternal, Err: err}
}

// wrapError classifies an error from a subpackage into an *Error with
// the appropriate kind. Returns nil for a nil error; an error that is
// already an *Error passes through unchanged.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var engineErr *Error
	if errors.As(err, &engineErr) {
		return err
	}

	kind := KindInternal
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, layers.ErrNotFound),
		errors.Is(err, store.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, session.ErrAlreadyExists):
		kind = KindAlreadyExists
	case errors.Is(err, layers.ErrInvalidLayer),
		errors.Is(err, layers.ErrInvalidPriority),
		errors.Is(err, layers.ErrNoValidContexts),
		errors.Is(err, store.ErrInvalidKey):
		kind = KindValidation
	case errors.Is(err, store.ErrStorageFailed):
		kind = KindStorage
	}

	return &Error{Op: op, Kind: kind, Err: err}
}

// CloseWithLog attempts to close the provided resource and logs any
// error at warning level. Intended for use in defer statements so
// cleanup errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g.,
// "redis", "mongo"). If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}

// closeDocsWithLog mirrors CloseWithLog for document stores, whose Close
// takes a context for driver disconnect deadlines.
func closeDocsWithLog(ctx context.Context, docs store.DocumentStore, logger *slog.Logger, name string) {
	if docs == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := docs.Close(ctx); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
