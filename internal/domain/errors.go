package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
//
// Only ErrConfig is allowed to stop a grading run. Everything else is caught
// at the per-submission boundary and written to the skip log.
var (
	ErrConfig       = errors.New("configuration error")
	ErrCollaborator = errors.New("collaborator error")
	ErrGraderOutput = errors.New("grader output error")
	ErrNotFound     = errors.New("not found")
)

// FieldError describes a problem with a single field of a user-supplied document.
type FieldError struct {
	Field   string
	Message string
}

// ConfigError contains a list of field-level configuration problems.
type ConfigError struct {
	Errors []FieldError
}

func (e *ConfigError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("config: %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("config: %d errors (first: %s: %s)", len(e.Errors), e.Errors[0].Field, e.Errors[0].Message)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// NewConfigError creates a ConfigError for a single field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Errors: []FieldError{{Field: field, Message: message}}}
}

// CollaboratorError wraps a failure of an external system (feed, download,
// extraction, provider transport).
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is reports ErrCollaborator so callers can match on the taxonomy
// while errors.As still reaches the underlying cause.
func (e *CollaboratorError) Is(target error) bool { return target == ErrCollaborator }

func (e *CollaboratorError) Unwrap() error { return e.Err }

// NewCollaboratorError wraps err as a failure of op. A nil err yields nil.
func NewCollaboratorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Err: err}
}

// GraderOutputError reports a grader response that is not usable structured
// data. Raw holds the response text for diagnosis.
type GraderOutputError struct {
	Reason string
	Raw    string
}

func (e *GraderOutputError) Error() string {
	return "grader output: " + e.Reason
}

func (e *GraderOutputError) Unwrap() error { return ErrGraderOutput }
