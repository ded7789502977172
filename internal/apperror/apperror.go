// Package apperror defines the error taxonomy shared by the provider client,
// the action handlers and the UI.
//
// Every failure a user can see falls into one of the sentinel categories
// below. Handlers wrap the sentinel in an *AppError carrying the message to
// show, and callers branch with errors.Is:
//
//	if errors.Is(err, apperror.ErrValidation) { ... no network call was made ... }
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: a local rule failed before any provider call.
	ErrValidation = errors.New("validation error")
	// ErrProvider: the provider answered and rejected the request.
	ErrProvider = errors.New("provider error")
	// ErrTransport: the request never got an answer (DNS, connection reset, ...).
	ErrTransport = errors.New("transport error")
	// ErrOAuth: the OAuth redirect came back without usable tokens.
	ErrOAuth = errors.New("oauth error")
	// ErrNotAuthenticated: the action needs a present session.
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotFound         = errors.New("not found")
)

// GenericRetryMessage is shown for transport failures, whose raw text is not
// meant for users.
const GenericRetryMessage = "Something went wrong. Please try again."

type AppError struct {
	Err     error  // sentinel category
	Message string // Human-readable error message
	Field   string // Optional: form field causing the error
	Code    string // Optional: provider error code
	Details string // Optional: provider diagnostic detail
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Provider wraps a provider rejection. The message is surfaced verbatim.
func Provider(message, code, details string) *AppError {
	return &AppError{
		Err:     ErrProvider,
		Message: message,
		Code:    code,
		Details: details,
	}
}

// Transport wraps a network failure; the cause is kept for logs only.
func Transport(cause error) *AppError {
	return &AppError{
		Err:     fmt.Errorf("%w: %w", ErrTransport, cause),
		Message: GenericRetryMessage,
	}
}

func OAuth(message string) *AppError {
	return &AppError{
		Err:     ErrOAuth,
		Message: message,
	}
}

func NotAuthenticated(message string) *AppError {
	return &AppError{
		Err:     ErrNotAuthenticated,
		Message: message,
	}
}

// UserMessage returns the text a user should see for err. AppErrors carry their
// own message; anything else is treated as an unexpected failure.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return GenericRetryMessage
}
