package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeMissingContextKey  = "MISSING_CONTEXT_KEY"
	ErrCodeContextKeyType     = "CONTEXT_KEY_TYPE"
	ErrCodePrepareFailed      = "PREPARE_FAILED"
	ErrCodeTransientExecution = "TRANSIENT_EXECUTION_ERROR"
	ErrCodeExecutionFailed    = "EXECUTION_FAILED"
	ErrCodeFinalize           = "FINALIZE_ERROR"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeDuplicateEdge      = "DUPLICATE_EDGE"
	ErrCodeDuplicateStep      = "DUPLICATE_STEP"
	ErrCodeUndeclaredLabel    = "UNDECLARED_LABEL"
	ErrCodeNoEntryNode        = "NO_ENTRY_NODE"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeTimeout            = "TIMEOUT_ERROR"
	ErrCodeNonRetryable       = "NON_RETRYABLE"
	ErrCodeCircuitOpen        = "CIRCUIT_OPEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStore              = "STORE_ERROR"
)

// Sentinels for errors.Is matching by code. A FlowError matches a sentinel
// when both carry the same code.
var (
	ErrMissingContextKey = &FlowError{Code: ErrCodeMissingContextKey}
	ErrContextKeyType    = &FlowError{Code: ErrCodeContextKeyType}
	ErrPrepareFailed     = &FlowError{Code: ErrCodePrepareFailed}
	ErrExecutionFailed   = &FlowError{Code: ErrCodeExecutionFailed}
	ErrFinalize          = &FlowError{Code: ErrCodeFinalize}
	ErrDuplicateEdge     = &FlowError{Code: ErrCodeDuplicateEdge}
	ErrUndeclaredLabel   = &FlowError{Code: ErrCodeUndeclaredLabel}
	ErrNoEntryNode       = &FlowError{Code: ErrCodeNoEntryNode}
	ErrCancelled         = &FlowError{Code: ErrCodeCancelled}
	ErrCircuitOpen       = &FlowError{Code: ErrCodeCircuitOpen}
	ErrValidation        = &FlowError{Code: ErrCodeValidation}
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	NodeID   string         `json:"node_id,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel FlowError with the same code.
func (e *FlowError) Is(target error) bool {
	t, ok := target.(*FlowError)
	if !ok || t.Message != "" || t.NodeID != "" {
		return false
	}
	return t.Code == e.Code
}

// IsRetryable reports whether the engine may retry an execute attempt that
// failed with this error.
func (e *FlowError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNonRetryable,
		ErrCodeCircuitOpen,
		ErrCodeCancelled,
		ErrCodeMissingContextKey,
		ErrCodeContextKeyType,
		ErrCodeValidation:
		return false
	default:
		return true
	}
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches the ID of the node that was executing.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// WithAttempts records how many execute attempts were made.
func (e *FlowError) WithAttempts(n int) *FlowError {
	e.Attempts = n
	return e
}

// MissingKey builds the error returned when a required context key is absent.
func MissingKey(key string) *FlowError {
	return NewErrorf(ErrCodeMissingContextKey, "missing required context key %q", key).
		WithDetails(map[string]any{"key": key})
}

// Permanent marks err as not worth retrying. The engine stops the retry loop
// on the first attempt that returns it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return NewError(ErrCodeNonRetryable, err.Error()).WithCause(err)
}

// CodeOf returns the code of the outermost FlowError in err's chain, or "".
func CodeOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// AsFlowError returns the outermost FlowError in err's chain.
func AsFlowError(err error) (*FlowError, bool) {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
