// Package provider is the client side of the backend-as-a-service boundary.
//
// The backend speaks the Supabase HTTP dialect:
//
//	/auth/v1     sign-up, sign-in, token refresh, user, logout, OAuth authorize
//	/storage/v1  object upload, public URLs, removal
//	/rest/v1     PostgREST record store ("posts" table)
//
// The interfaces below are what the rest of the app depends on; *Client is
// the HTTP implementation. Tests substitute fakes or run *Client against
// providertest.Server.
package provider

import (
	"context"
	"io"

	"github.com/sakif/framez/internal/model"
)

// Event names mirror the auth state changes the backend SDKs report.
type Event string

const (
	EventInitialSession Event = "INITIAL_SESSION"
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
)

// Listener receives every auth state change. session is nil on EventSignedOut.
// Listeners run on the goroutine that caused the change and must not block.
type Listener func(event Event, session *model.Session)

// SignUpResult carries the created user and, when the backend auto-confirms
// accounts, the new session. Session is nil when email confirmation is pending.
type SignUpResult struct {
	User    model.User
	Session *model.Session
}

// PostQuery filters ListPosts. Results are always newest first.
type PostQuery struct {
	UserID string // empty: all users
}

// Auth is the authentication half of the boundary.
type Auth interface {
	GetSession(ctx context.Context) (*model.Session, error)
	OnAuthStateChange(fn Listener) (unsubscribe func())
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	AuthorizeURL(providerName, redirectTo string) (string, error)
	SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
	SignOut(ctx context.Context) error
}

// Storage is the object store.
type Storage interface {
	Upload(ctx context.Context, bucket, objectPath, contentType string, body io.Reader, bearer string) error
	PublicURL(bucket, objectPath string) string
	Remove(ctx context.Context, bucket string, objectPaths []string, bearer string) error
}

// Records is the record store, limited to the "posts" table.
type Records interface {
	InsertPost(ctx context.Context, post model.NewPost) (*model.Post, error)
	ListPosts(ctx context.Context, q PostQuery) ([]model.Post, error)
}
