package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/sakif/framez/internal/apperror"
)

// APIError is a non-2xx answer from the backend.
//
// The three services disagree on the error body:
//
//	auth:    {"code":400,"error_code":"weak_password","msg":"..."}
//	         {"error":"invalid_grant","error_description":"..."}
//	storage: {"statusCode":"409","error":"Duplicate","message":"..."}
//	rest:    {"code":"23505","message":"...","details":"...","hint":"..."}
//
// decodeAPIError folds them into one shape. Message is what users see.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("provider: status %d: %s", e.Status, e.Message)
}

// Unwrap exposes the rejection as an *apperror.AppError so callers can use
// errors.Is(err, apperror.ErrProvider) and apperror.UserMessage.
func (e *APIError) Unwrap() error {
	return apperror.Provider(e.Message, e.Code, e.Details)
}

// IsClientError reports a 4xx status: the request itself was refused.
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            json.RawMessage `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
	Details          json.RawMessage `json:"details"`
	Hint             json.RawMessage `json:"hint"`
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	errText := rawString(eb.Error)
	apiErr.Message = firstNonEmpty(eb.Msg, eb.Message, eb.ErrorDescription, errText, http.StatusText(status))
	apiErr.Code = firstNonEmpty(eb.ErrorCode, rawString(eb.Code))
	if apiErr.Code == "" && errText != apiErr.Message {
		apiErr.Code = errText
	}
	apiErr.Details = rawString(eb.Details)
	apiErr.Hint = rawString(eb.Hint)
	return apiErr
}

// rawString renders a JSON scalar as text: strings unquoted, numbers as-is, null as "".
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
