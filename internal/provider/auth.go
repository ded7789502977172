package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/model"
)

var _ Auth = (*Client)(nil)

// sessionResponse is the token grant body.
//
// The embedded oauth2.Token maps access_token, token_type, refresh_token and
// expires_in. The backend adds an absolute expires_at (unix seconds) and the user.
type sessionResponse struct {
	oauth2.Token
	ExpiresAt int64       `json:"expires_at"`
	User      *model.User `json:"user"`
}

// toSession converts a grant into a complete session, or reports why it can't.
func (c *Client) toSession(sr sessionResponse) (*model.Session, error) {
	if sr.User == nil {
		return nil, fmt.Errorf("provider: token response without user: %w", model.ErrIncompleteSession)
	}

	var expiresAt time.Time
	switch {
	case sr.ExpiresAt > 0:
		expiresAt = time.Unix(sr.ExpiresAt, 0)
	case sr.ExpiresIn > 0:
		expiresAt = c.now().Add(time.Duration(sr.ExpiresIn) * time.Second)
	default:
		exp, err := tokenExpiry(sr.AccessToken)
		if err != nil {
			return nil, err
		}
		expiresAt = exp
	}

	return model.NewSession(sr.AccessToken, sr.RefreshToken, sr.TokenType, expiresAt, *sr.User)
}

// tokenExpiry reads the "exp" claim of an access token.
//
// The signature is NOT verified: only the backend holds the signing secret,
// and the token is sent back to that backend, which verifies it on every call.
// The client only needs the claim to schedule refreshes.
func tokenExpiry(accessToken string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}, fmt.Errorf("provider: parsing access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("provider: access token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// GetSession returns the current session, restoring it from the credential
// cache on first use and refreshing it when it is about to expire.
// A nil session with a nil error means signed out.
func (c *Client) GetSession(ctx context.Context) (*model.Session, error) {
	c.mu.Lock()
	if !c.loaded && c.cache != nil {
		cached, err := c.cache.LoadSession(ctx, c.storageKey)
		switch {
		case err == nil:
			c.session = cached
		case errors.Is(err, apperror.ErrNotFound):
		default:
			c.logger.Warn("credential cache read failed", slog.String("error", err.Error()))
		}
	}
	c.loaded = true
	session := c.session
	c.mu.Unlock()

	if session == nil {
		return nil, nil
	}
	if !session.ExpiresWithin(c.now(), expiryMargin) {
		return session.Clone(), nil
	}

	refreshed, err := c.refresh(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("provider: restoring session: %w", err)
	}
	return refreshed.Clone(), nil
}

// SignUp creates an account. When the backend auto-confirms, the result
// carries a session and SIGNED_IN is emitted; otherwise Session is nil and
// the user must confirm by email first.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		json: map[string]any{
			"email":    email,
			"password": password,
			"data":     metadata,
		},
		out: &raw,
	})
	if err != nil {
		return nil, err
	}

	var sr sessionResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return nil, fmt.Errorf("provider: decoding sign-up response: %w", err)
	}

	// Without auto-confirm the body is the bare user object.
	if sr.AccessToken == "" {
		var user model.User
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, fmt.Errorf("provider: decoding sign-up user: %w", err)
		}
		if user.ID == "" && sr.User != nil {
			user = *sr.User
		}
		return &SignUpResult{User: user}, nil
	}

	session, err := c.toSession(sr)
	if err != nil {
		return nil, err
	}
	c.storeSession(ctx, session, EventSignedIn)
	return &SignUpResult{User: session.User, Session: session.Clone()}, nil
}

// SignInWithPassword performs the password grant and emits SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	var sr sessionResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		json:   map[string]string{"email": email, "password": password},
		out:    &sr,
	})
	if err != nil {
		return nil, err
	}

	session, err := c.toSession(sr)
	if err != nil {
		return nil, err
	}
	c.storeSession(ctx, session, EventSignedIn)
	return session.Clone(), nil
}

// AuthorizeURL returns the URL that starts the OAuth flow for providerName
// (e.g. "google"). After the identity provider is done, the backend
// redirects to redirectTo with the session tokens attached.
func (c *Client) AuthorizeURL(providerName, redirectTo string) (string, error) {
	if providerName == "" {
		return "", errors.New("provider: OAuth provider name is required")
	}
	if _, err := url.ParseRequestURI(redirectTo); err != nil {
		return "", fmt.Errorf("provider: invalid redirect %q: %w", redirectTo, err)
	}

	cfg := oauth2.Config{
		Endpoint: oauth2.Endpoint{AuthURL: c.endpoint("/auth/v1/authorize")},
	}
	return cfg.AuthCodeURL("",
		oauth2.SetAuthURLParam("provider", providerName),
		oauth2.SetAuthURLParam("redirect_to", redirectTo),
	), nil
}

// SetSession adopts tokens obtained out of band (the OAuth redirect).
// An expired access token is refreshed right away; a live one is checked by
// fetching its user.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, apperror.OAuth("access and refresh tokens are both required")
	}

	expiresAt, err := tokenExpiry(accessToken)
	if err != nil {
		return nil, err
	}

	if !expiresAt.After(c.now()) {
		return c.refreshWith(ctx, refreshToken, EventSignedIn)
	}

	user, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	session, err := model.NewSession(accessToken, refreshToken, "bearer", expiresAt, *user)
	if err != nil {
		return nil, err
	}
	c.storeSession(ctx, session, EventSignedIn)
	return session.Clone(), nil
}

// GetUser fetches the user an access token belongs to.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	var user model.User
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: accessToken,
		out:    &user,
	})
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, errors.New("provider: user response without id")
	}
	return &user, nil
}

// SignOut revokes the session remotely and clears it locally, emitting SIGNED_OUT.
//
// A 401/403/404 from the backend means the session is already gone there,
// so the local copy is cleared anyway. Transport failures keep the session
// so the user can retry.
func (c *Client) SignOut(ctx context.Context) error {
	session := c.currentSession()
	if session == nil {
		return nil
	}

	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		bearer: session.AccessToken,
	})
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return err
		}
		switch apiErr.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			c.logger.Info("session already revoked remotely", slog.Int("status", apiErr.Status))
		default:
			return err
		}
	}

	c.storeSession(ctx, nil, EventSignedOut)
	return nil
}

// refresh renews session unless another goroutine already did.
func (c *Client) refresh(ctx context.Context, session *model.Session) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	current := c.currentSession()
	if current == nil {
		return nil, apperror.NotAuthenticated("session was signed out")
	}
	if current.RefreshToken != session.RefreshToken {
		return current, nil
	}
	return c.refreshWithLocked(ctx, session.RefreshToken, EventTokenRefreshed)
}

func (c *Client) refreshWith(ctx context.Context, refreshToken string, event Event) (*model.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshWithLocked(ctx, refreshToken, event)
}

// refreshWithLocked runs the refresh-token grant. A 4xx answer means the
// backend invalidated the session (revoked elsewhere, reused token), so the
// local session is cleared and SIGNED_OUT emitted.
func (c *Client) refreshWithLocked(ctx context.Context, refreshToken string, event Event) (*model.Session, error) {
	var sr sessionResponse
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		json:   map[string]string{"refresh_token": refreshToken},
		out:    &sr,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsClientError() && c.currentSession() != nil {
			c.logger.Info("session invalidated by provider", slog.String("reason", apiErr.Message))
			c.storeSession(ctx, nil, EventSignedOut)
		}
		return nil, err
	}

	session, err := c.toSession(sr)
	if err != nil {
		return nil, err
	}
	c.storeSession(ctx, session, event)
	return session, nil
}
