package kbcontent

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrContentNotFound indicates a content item was not found
	ErrContentNotFound = errors.New("content not found")

	// ErrObjectNotFound indicates a stored object was not found
	ErrObjectNotFound = errors.New("object not found")

	// ErrForbidden indicates the caller may not perform the operation
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a uniqueness violation in the datastore
	ErrConflict = errors.New("conflict")

	// ErrDependency indicates a failure of the datastore or the blob store
	ErrDependency = errors.New("dependency failure")

	// ErrTxDone is returned when a transaction is used after Commit or Rollback
	ErrTxDone = errors.New("transaction already closed")
)

// ValidationError reports a malformed request. The message is safe to show
// to clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AccessError reports a denied operation.
type AccessError struct {
	PrincipalID string
	Op          string
	Err         error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("principal %q may not %s: %v", e.PrincipalID, e.Op, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

// PayloadTooLargeError reports an upload above the configured limit.
type PayloadTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit of %d bytes", e.Size, e.Limit)
}

// ContentError represents an error related to content operations
type ContentError struct {
	ContentID uuid.UUID
	Op        string
	Err       error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("content operation %s failed for content %s: %v", e.Op, e.ContentID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob store operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// dependencyError wraps a datastore failure so callers can match ErrDependency
// while the original cause stays reachable through errors.As.
type dependencyError struct {
	err error
}

func (e *dependencyError) Error() string { return e.err.Error() }

func (e *dependencyError) Unwrap() []error { return []error{ErrDependency, e.err} }

func contentErr(id uuid.UUID, op string, err error) error {
	if err == nil {
		return nil
	}
	// Domain errors pass through unchanged.
	var verr *ValidationError
	var aerr *AccessError
	var serr *StorageError
	if errors.Is(err, ErrContentNotFound) || errors.Is(err, ErrConflict) ||
		errors.As(err, &verr) || errors.As(err, &aerr) || errors.As(err, &serr) {
		return err
	}
	if errors.Is(err, ErrDependency) {
		return &ContentError{ContentID: id, Op: op, Err: err}
	}
	return &ContentError{ContentID: id, Op: op, Err: &dependencyError{err: err}}
}

func storageErr(backend, key, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Backend: backend, Key: key, Op: op, Err: &dependencyError{err: err}}
}
