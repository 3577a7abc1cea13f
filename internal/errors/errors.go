package errors

import (
	"fmt"
	"strings"
)

// Category classifies faults by how the orchestrator should react to them.
type Category string

const (
	// Critical categories that must halt trading.
	CategoryFatal       Category = "FATAL"
	CategoryCredentials Category = "CREDENTIALS"
	CategoryConfig      Category = "CONFIG"

	// Recoverable categories.
	CategoryNetwork    Category = "NETWORK"
	CategoryTimeout    Category = "TIMEOUT"
	CategoryRateLimit  Category = "RATE_LIMIT"
	CategoryValidation Category = "VALIDATION"
	CategoryExecution  Category = "EXECUTION"
	CategoryTemporary  Category = "TEMPORARY"
)

// EngineError is a categorized error carrying the component and operation
// that produced it, so phase failures can be attributed in the audit log.
type EngineError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether the caller may retry the failed operation.
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal reports whether this error must stop the trading loop entirely.
func (e *EngineError) IsFatal() bool {
	return e.Category == CategoryFatal ||
		e.Category == CategoryCredentials ||
		e.Category == CategoryConfig
}

// RecoveryAction is the suggested reaction to a failed operation.
type RecoveryAction string

const (
	ActionRetry RecoveryAction = "RETRY"
	ActionSkip  RecoveryAction = "SKIP"
	ActionStop  RecoveryAction = "STOP"
	ActionWait  RecoveryAction = "WAIT"
)

// SuggestedAction maps the error category to a recovery action: fatal
// categories stop the loop, rate limits wait it out, validation failures
// skip the item, everything transient retries.
func (e *EngineError) SuggestedAction() RecoveryAction {
	switch {
	case e.IsFatal():
		return ActionStop
	case e.Category == CategoryRateLimit:
		return ActionWait
	case e.Category == CategoryValidation, e.Category == CategoryExecution:
		return ActionSkip
	default:
		return ActionRetry
	}
}

// New creates a categorized engine error.
func New(category Category, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: retryableCategory(category),
	}
}

// Wrap attaches engine error context to an existing error.
func Wrap(err error, category Category, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  retryableCategory(category),
	}
}

// WithRetryable overrides the category default retryability.
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

func retryableCategory(category Category) bool {
	switch category {
	case CategoryNetwork, CategoryTimeout, CategoryTemporary, CategoryRateLimit:
		return true
	case CategoryFatal, CategoryCredentials, CategoryConfig, CategoryValidation:
		return false
	default:
		return true
	}
}

// Categorize classifies an arbitrary collaborator error by inspecting its
// message. Already-categorized errors pass through unchanged.
func Categorize(err error, component, operation string) *EngineError {
	if err == nil {
		return nil
	}
	if engineErr, ok := err.(*EngineError); ok {
		return engineErr
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "context deadline exceeded"):
		return Wrap(err, CategoryTimeout, component, operation)
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"),
		strings.Contains(msg, "dns"), strings.Contains(msg, "dial"):
		return Wrap(err, CategoryNetwork, component, operation)
	case strings.Contains(msg, "api key"), strings.Contains(msg, "authentication"),
		strings.Contains(msg, "unauthorized"):
		return Wrap(err, CategoryCredentials, component, operation)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return Wrap(err, CategoryRateLimit, component, operation)
	case strings.Contains(msg, "insufficient"), strings.Contains(msg, "rejected"):
		return Wrap(err, CategoryExecution, component, operation).WithRetryable(false)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "minimum"),
		strings.Contains(msg, "maximum"):
		return Wrap(err, CategoryValidation, component, operation)
	default:
		return Wrap(err, CategoryTemporary, component, operation)
	}
}

// IsRetryable reports whether an arbitrary error is worth retrying.
// Uncategorized errors default to retryable so transient collaborator
// faults are not turned into hard failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if engineErr, ok := err.(*EngineError); ok {
		return engineErr.Retryable
	}
	return true
}

// IsFatal reports whether an arbitrary error must halt the trading loop.
func IsFatal(err error) bool {
	if engineErr, ok := err.(*EngineError); ok {
		return engineErr.IsFatal()
	}
	return false
}
