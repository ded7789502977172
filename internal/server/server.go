// Package server runs the loopback HTTP server that receives the OAuth
// redirect.
//
// LOOPBACK REDIRECT:
// A terminal app has no URL of its own, so OAuth sign-in points redirect_to
// at a port on 127.0.0.1 and listens there for exactly one callback. The
// backend puts the session tokens in the URL fragment, which browsers never
// send to servers, so the first response is a tiny page that copies the
// fragment into the query and reloads. The second request carries the
// tokens where the server can read them.
//
// The server lives only for the duration of one Open call.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/auth"
	"github.com/sakif/framez/internal/middleware"
)

const shutdownTimeout = 5 * time.Second

// emptyCallback marks a callback page that found no fragment to forward.
const emptyCallback = "callback=empty"

// fragmentShim moves the fragment into the query. With no fragment it
// reloads with emptyCallback so the server still sees a completed redirect.
const fragmentShim = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Framez sign-in</title></head>
<body>
<p>Completing sign-in&hellip;</p>
<script>
var h = window.location.hash.substring(1);
window.location.replace(window.location.pathname + "?" + (h || "` + emptyCallback + `"));
</script>
<noscript>JavaScript is required to finish signing in.</noscript>
</body>
</html>
`

const donePage = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Framez sign-in</title></head>
<body><p>%s You can close this window and return to the terminal.</p></body>
</html>
`

// Opener shows a URL to the user, typically by launching a browser.
type Opener func(url string) error

// Loopback is an auth.BrowserSession backed by a short-lived local server.
type Loopback struct {
	open   Opener
	logger *slog.Logger
}

var _ auth.BrowserSession = (*Loopback)(nil)

// NewLoopback returns a Loopback that calls open with the authorization URL.
// A nil open does nothing; the caller is expected to print the URL itself.
func NewLoopback(open Opener, logger *slog.Logger) *Loopback {
	if open == nil {
		open = func(string) error { return nil }
	}
	return &Loopback{open: open, logger: logger}
}

// callback is what the handler hands back to Open.
type callback struct {
	result auth.Result
	err    error
}

// Open listens on redirectURL's host, shows authURL, and waits for one
// completed redirect.
//
//   - tokens (or anything other than an error) -> ResultSuccess with the full URL
//   - error=access_denied, or ctx done           -> ResultCancel
//   - any other error parameter                  -> ResultFail
func (l *Loopback) Open(ctx context.Context, authURL, redirectURL string) (auth.Result, error) {
	redirect, err := url.Parse(redirectURL)
	if err != nil || redirect.Host == "" {
		return auth.Result{Type: auth.ResultFail}, fmt.Errorf("server: invalid redirect URL %q", redirectURL)
	}

	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return auth.Result{Type: auth.ResultFail}, fmt.Errorf("server: listening on %s: %w", redirect.Host, err)
	}

	done := make(chan callback, 1)
	srv := &http.Server{
		Handler:      l.routes(redirect, done),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		l.logger.Info("waiting for OAuth callback", slog.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()
	defer l.shutdown(srv)

	if err := l.open(authURL); err != nil {
		l.logger.Warn("could not open browser", slog.String("error", err.Error()))
	}

	select {
	case cb := <-done:
		return cb.result, cb.err
	case <-ctx.Done():
		l.logger.Info("OAuth sign-in cancelled")
		return auth.Result{Type: auth.ResultCancel}, nil
	case err := <-serverErrors:
		return auth.Result{Type: auth.ResultFail}, fmt.Errorf("server: callback server stopped: %w", err)
	}
}

func (l *Loopback) shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Warn("callback server shutdown failed", slog.String("error", err.Error()))
	}
}

func (l *Loopback) routes(redirect *url.URL, done chan<- callback) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(l.logger))

	path := redirect.Path
	if path == "" {
		path = "/"
	}
	r.Get(path, l.handleCallback(redirect, done))
	return r
}

func (l *Loopback) handleCallback(redirect *url.URL, done chan<- callback) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")

		if r.URL.RawQuery == "" {
			fmt.Fprint(w, fragmentShim)
			return
		}

		full := *redirect
		full.RawQuery = r.URL.RawQuery
		full.Fragment = ""

		var cb callback
		switch q := r.URL.Query(); {
		case q.Get("error") == "access_denied":
			cb = callback{result: auth.Result{Type: auth.ResultCancel}}
			fmt.Fprintf(w, donePage, "Sign-in was cancelled.")
		case q.Get("error") != "":
			msg := q.Get("error_description")
			if msg == "" {
				msg = q.Get("error")
			}
			cb = callback{result: auth.Result{Type: auth.ResultFail}, err: apperror.OAuth(msg)}
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, donePage, "Sign-in failed.")
		default:
			cb = callback{result: auth.Result{Type: auth.ResultSuccess, URL: full.String()}}
			fmt.Fprintf(w, donePage, "Signed in.")
		}

		// Only the first completed redirect counts.
		select {
		case done <- cb:
		default:
		}
	}
}
