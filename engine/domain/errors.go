package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced at the service boundary.
var (
	ErrEmptyQuery        = errors.New("query text is empty")
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrNotFound          = errors.New("document not found")
)

// Pipeline stage names carried by UpstreamServiceError.
const (
	StageEmbed    = "embed"
	StageRetrieve = "retrieve"
	StageGenerate = "generate"
	StageIndex    = "index"
)

// ValidationError wraps a sentinel with caller-input context. It is a client
// fault and is never retried.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// UpstreamServiceError marks a collaborator failure (embedding provider,
// generation provider, or vector index) and names the failing stage. The
// core performs no retries itself; retry policy belongs to the collaborator
// client.
type UpstreamServiceError struct {
	Stage      string
	DocumentID string
	Wrapped    error
}

func (e *UpstreamServiceError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("upstream: stage=%s doc=%s: %v", e.Stage, e.DocumentID, e.Wrapped)
	}
	return fmt.Sprintf("upstream: stage=%s: %v", e.Stage, e.Wrapped)
}

func (e *UpstreamServiceError) Unwrap() error { return e.Wrapped }

// Upstream wraps err as an UpstreamServiceError for the given stage.
func Upstream(stage string, err error) *UpstreamServiceError {
	return &UpstreamServiceError{Stage: stage, Wrapped: err}
}

// UpstreamDoc is Upstream with the affected document attached.
func UpstreamDoc(stage, docID string, err error) *UpstreamServiceError {
	return &UpstreamServiceError{Stage: stage, DocumentID: docID, Wrapped: err}
}

// PartialFailureError reports that an update deleted a document's old
// segments but failed to insert the new ones, leaving the document with zero
// segments. The caller must re-ingest; no rollback is attempted because the
// vector index offers no cross-operation transaction.
type PartialFailureError struct {
	DocumentID string
	Wrapped    error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: doc=%s left empty after delete, upsert failed: %v", e.DocumentID, e.Wrapped)
}

func (e *PartialFailureError) Unwrap() error { return e.Wrapped }

// ValidateQueryText checks a boundary query string before the pipeline runs.
func ValidateQueryText(text string) error {
	if text == "" {
		return NewValidationError("query", text, ErrEmptyQuery)
	}
	return nil
}
