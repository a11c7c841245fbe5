package schema

import "fmt"

// Error codes for structured error reporting.
const (
	// ErrCodeConfig covers graph-shape problems caught while building a
	// configuration: conflicting re-declarations, undeclared node
	// references, arity mismatches.
	ErrCodeConfig = "CONFIG_ERROR"

	// ErrCodeCycleDetected is a configuration error for cyclic task graphs.
	ErrCodeCycleDetected = "CYCLE_DETECTED"

	// ErrCodeState covers lifecycle misuse: submitting a scenario that is
	// already running, resubmitting before the previous run finished.
	ErrCodeState = "STATE_ERROR"

	// ErrCodeComputation covers task computations that returned an error
	// at execution time.
	ErrCodeComputation = "COMPUTATION_ERROR"

	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeStore      = "STORE_ERROR"
)

// BoardError is the structured error type for all pulseboard operations.
type BoardError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TaskID  string         `json:"task_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BoardError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.TaskID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BoardError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BoardError.
func NewError(code, message string) *BoardError {
	return &BoardError{Code: code, Message: message}
}

// NewErrorf creates a new BoardError with a formatted message.
func NewErrorf(code, format string, args ...any) *BoardError {
	return &BoardError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches a task name to the error.
func (e *BoardError) WithTask(taskID string) *BoardError {
	e.TaskID = taskID
	return e
}

// WithCause attaches an underlying cause.
func (e *BoardError) WithCause(err error) *BoardError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BoardError) WithDetails(details map[string]any) *BoardError {
	e.Details = details
	return e
}
