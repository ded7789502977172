package providertest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// authError is the auth service's error body.
type authError struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Msg       string `json:"msg"`
}

// restError is the record store's (PostgREST) error body.
type restError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// storageError is the object store's error body.
type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// writeJSON sets headers, then the status, then the body; headers written
// after the first body byte are silently dropped.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("providertest: failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, authError{Code: status, ErrorCode: code, Msg: msg})
}

func writeStorageError(w http.ResponseWriter, status int, errText, msg string) {
	writeJSON(w, status, storageError{StatusCode: strconv.Itoa(status), Error: errText, Message: msg})
}
