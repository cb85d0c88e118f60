package agentsync

import (
	"errors"
	"fmt"
)

// Sentinel errors for agent and resource validation.
// All use prefix "agentsync:" for identification. Callers should use errors.Is/errors.As.
var (
	ErrInvalidAgent    = errors.New("agentsync: agent is invalid")
	ErrInvalidResource = errors.New("agentsync: resource is invalid")
	ErrAgentNotFound   = errors.New("agentsync: agent not found")
	ErrAgentDisabled   = errors.New("agentsync: agent is disabled")
)

// Sentinel errors for prompt layouts.
var (
	ErrTemplateParse  = errors.New("agentsync: layout parse failed")
	ErrTemplateRender = errors.New("agentsync: layout render failed")
)

// ValidationError wraps a sentinel error with the offending agent and field.
// Use errors.Is(err, ErrInvalidAgent) and errors.As(err, &validationErr) to inspect.
type ValidationError struct {
	Agent string
	Field string
	Err   error
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Agent == "" {
		return fmt.Sprintf("agentsync: field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("agentsync: agent %q field %q: %v", e.Agent, e.Field, e.Err)
}

// Unwrap returns the wrapped error for errors.Is/errors.As.
func (e *ValidationError) Unwrap() error { return e.Err }

// Compile-time check that ValidationError implements error.
var _ error = (*ValidationError)(nil)
