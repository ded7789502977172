package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names the constructor and the sentinel it must (or must not) match.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("post", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "Please fill in all fields"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Provider wraps ErrProvider",
			err:       Provider("Invalid login credentials", "invalid_grant", ""),
			target:    ErrProvider,
			wantMatch: true,
		},
		{
			name:      "Transport wraps ErrTransport",
			err:       Transport(errors.New("connection refused")),
			target:    ErrTransport,
			wantMatch: true,
		},
		{
			name:      "OAuth wraps ErrOAuth",
			err:       OAuth("missing refresh_token"),
			target:    ErrOAuth,
			wantMatch: true,
		},
		{
			name:      "wrapped AppError still matches",
			err:       fmt.Errorf("service/auth: signing in: %w", Provider("nope", "", "")),
			target:    ErrProvider,
			wantMatch: true,
		},
		{
			name:      "Provider does NOT match ErrValidation",
			err:       Provider("nope", "", ""),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "ValidationFailed does NOT match ErrTransport",
			err:       ValidationFailed("password", "too short"),
			target:    ErrTransport,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestTransportKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Transport(cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(Transport(cause), cause) = false, want true")
	}
	if err.Message != GenericRetryMessage {
		t.Errorf("Message = %q, want %q", err.Message, GenericRetryMessage)
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"provider message verbatim", Provider("User already registered", "", ""), "User already registered"},
		{"wrapped validation message", fmt.Errorf("x: %w", ValidationFailed("password", "Passwords do not match")), "Passwords do not match"},
		{"transport is generic", Transport(errors.New("eof")), GenericRetryMessage},
		{"plain error is generic", errors.New("boom"), GenericRetryMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("confirm", "Passwords do not match")

	if err.Field != "confirm" {
		t.Errorf("Field = %q, want %q", err.Field, "confirm")
	}
}
