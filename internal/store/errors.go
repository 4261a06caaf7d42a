package store

import (
	"errors"
	"fmt"
)

// NotFoundError covers missing resources and ownership mismatches alike:
// a resource owned by someone else reports not-found, never forbidden.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound builds a NotFoundError for the given resource kind.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

type QuotaExceededError struct {
	Reason string
}

func (e *QuotaExceededError) Error() string {
	return "Quota exceeded: " + e.Reason
}

// UpstreamError wraps provider/embedding API failures.
type UpstreamError struct {
	Message    string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream error (%d): %s", e.StatusCode, e.Message)
	}
	return "upstream error: " + e.Message
}

// FileProcessingError is persisted on the knowledge file row rather than
// surfaced as an HTTP failure.
type FileProcessingError struct {
	Filename string
	Reason   string
}

func (e *FileProcessingError) Error() string {
	return fmt.Sprintf("Failed to process file '%s': %s", e.Filename, e.Reason)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsQuotaExceeded(err error) bool {
	var q *QuotaExceededError
	return errors.As(err, &q)
}
