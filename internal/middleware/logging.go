// Package middleware contains HTTP logging decorators for both directions:
//
//   - Logger wraps an http.Handler (the OAuth callback server, the fake backend).
//   - Transport wraps an http.RoundTripper (every call the provider client makes).
//
// Both follow the decorator pattern: wrap the real handler or transport,
// run it, then log what happened.
package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter       // Embedding: this struct "inherits" all methods
	statusCode          int   // Our addition: track the status code
	written             int64 // Track bytes written
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger returns a middleware that logs every inbound request.
//
// The query string is never logged: the OAuth callback carries tokens in it.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK, // Default if WriteHeader is never called
			}

			next.ServeHTTP(wrapped, r)

			logger.Info("request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
			)
		})
	}
}

// RoundTripperFunc adapts a function to http.RoundTripper, like http.HandlerFunc does for handlers.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Transport returns an http.RoundTripper that logs every outbound request at
// debug level, and failures at warn level. A nil next means http.DefaultTransport.
func Transport(logger *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)
		if err != nil {
			logger.Warn("provider request failed",
				slog.String("method", r.Method),
				slog.String("host", r.URL.Host),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
				slog.String("error", err.Error()),
			)
			return nil, err
		}

		logger.Debug("provider request completed",
			slog.String("method", r.Method),
			slog.String("host", r.URL.Host),
			slog.String("path", r.URL.Path),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return resp, nil
	})
}
