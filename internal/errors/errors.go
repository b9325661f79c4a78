package errors

import "fmt"

// ErrorCode represents a cardbox error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrWrongDirectory  ErrorCode = "WRONG_DIRECTORY"  // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrNoSession       ErrorCode = "NO_SESSION"       // 409
	ErrInternal        ErrorCode = "INTERNAL"         // 500
	ErrHostUnavailable ErrorCode = "HOST_UNAVAILABLE" // 502
)

// CardboxError represents a structured error with code, status, and details.
type CardboxError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CardboxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CardboxError {
	return &CardboxError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewWrongDirectory creates a 400 error when the selected folder is not a graph's pages folder.
// This is the one failure shown directly to the user.
func NewWrongDirectory(selected string) *CardboxError {
	return &CardboxError{
		Code:    ErrWrongDirectory,
		Status:  400,
		Message: fmt.Sprintf("please select the \"pages\" folder of the graph (got %q)", selected),
		Details: map[string]any{"selected": selected},
	}
}

// NewNotFound creates a 404 error for when a card cannot be found.
func NewNotFound(graph, name string) *CardboxError {
	return &CardboxError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("card not found: %s", name),
		Details: map[string]any{"graph": graph, "name": name},
	}
}

// NewNoSession creates a 409 error for operations that need an active graph session.
func NewNoSession() *CardboxError {
	return &CardboxError{
		Code:    ErrNoSession,
		Status:  409,
		Message: "no active graph session",
	}
}

// NewHostUnavailable creates a 502 error when the host application call fails.
func NewHostUnavailable(op string, err error) *CardboxError {
	msg := op + " failed"
	if err != nil {
		msg = fmt.Sprintf("%s failed: %v", op, err)
	}
	return &CardboxError{
		Code:    ErrHostUnavailable,
		Status:  502,
		Message: msg,
		Details: map[string]any{"op": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *CardboxError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &CardboxError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a CardboxError with the given code.
func Is(err error, code ErrorCode) bool {
	if cErr, ok := err.(*CardboxError); ok {
		return cErr.Code == code
	}
	return false
}
