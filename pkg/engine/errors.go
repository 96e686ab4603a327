package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for isolation decisions.
type ErrorClass string

const (
	// ErrorClassInput indicates a malformed or missing spec field.
	// The offending item is skipped and its siblings continue.
	ErrorClassInput ErrorClass = "input"

	// ErrorClassNotFound indicates a referenced resource is absent.
	// Callers treat it as the create path.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassApply indicates the system rejected a write.
	// It is isolated to the single action and logged.
	ErrorClassApply ErrorClass = "apply"

	// ErrorClassFatal indicates a failure that aborts the affected resource subtree,
	// or the whole run when it concerns the document or machine identity.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource reference that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.Message
	if inner := e.unwrapMessage(); inner != "" {
		msg = msg + ": " + inner
	}
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)", e.Class, msg, e.Resource, e.Operation)
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s)", e.Class, msg, e.Resource)
	}
	return fmt.Sprintf("[%s] %s", e.Class, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewInputError creates a new input error.
func NewInputError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInput,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassNotFound,
		Message: message,
		Code:    ErrCodeNotFound,
		Err:     err,
	}
}

// NewApplyError creates a new apply error.
func NewApplyError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassApply,
		Message: message,
		Code:    ErrCodeApplyFailed,
		Err:     err,
	}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(ref string) *EngineError {
	e.Resource = ref
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// ClassOf returns the class of a classified error, or ErrorClassApply for
// unclassified errors coming back from a collaborator.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ErrorClassApply
}

// IsInput returns true if the error is classified as an input error.
func IsInput(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInput
	}
	return false
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassNotFound
	}
	return false
}

// IsApply returns true if the error is classified as an apply error.
func IsApply(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassApply
	}
	return false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInvalidPath      = "INVALID_PROPERTY_PATH"
	ErrCodeApplyFailed      = "APPLY_FAILED"
	ErrCodeCreateFailed     = "CREATE_FAILED"
	ErrCodeFetchFailed      = "FETCH_FAILED"
	ErrCodePolicyDenied     = "POLICY_DENIED"
	ErrCodeDocument         = "DOCUMENT_ERROR"
	ErrCodeMachineIdentity  = "MACHINE_IDENTITY"
	ErrCodeDependencyFailed = "DEPENDENCY_FAILED"
)
