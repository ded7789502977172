package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/auth"
	"github.com/sakif/framez/internal/model"
	"github.com/sakif/framez/internal/provider"
	"github.com/sakif/framez/internal/router"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeAuth is an in-memory provider.Auth. Every method counts its calls so
// tests can assert that validation failures never reach the network.
type fakeAuth struct {
	mu    sync.Mutex
	calls map[string]int

	signUpResult *provider.SignUpResult
	signUpErr    error
	signInErr    error
	setErr       error
	signOutErr   error
	authorizeErr error

	// block, when set, holds SignInWithPassword until closed.
	block chan struct{}

	session     *model.Session
	gotMetadata map[string]any
	gotTokens   [2]string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{calls: make(map[string]int)}
}

func (f *fakeAuth) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeAuth) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAuth) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAuth) GetSession(context.Context) (*model.Session, error) {
	f.record("GetSession")
	return f.session, nil
}

func (f *fakeAuth) OnAuthStateChange(provider.Listener) func() {
	return func() {}
}

func (f *fakeAuth) SignUp(_ context.Context, _, _ string, metadata map[string]any) (*provider.SignUpResult, error) {
	f.record("SignUp")
	f.gotMetadata = metadata
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return f.signUpResult, nil
}

func (f *fakeAuth) SignInWithPassword(context.Context, string, string) (*model.Session, error) {
	f.record("SignInWithPassword")
	if f.block != nil {
		<-f.block
	}
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return testSession("u1"), nil
}

func (f *fakeAuth) AuthorizeURL(providerName, redirectTo string) (string, error) {
	f.record("AuthorizeURL")
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	return "https://example.supabase.co/auth/v1/authorize?provider=" + providerName + "&redirect_to=" + redirectTo, nil
}

func (f *fakeAuth) SetSession(_ context.Context, access, refresh string) (*model.Session, error) {
	f.record("SetSession")
	f.gotTokens = [2]string{access, refresh}
	if f.setErr != nil {
		return nil, f.setErr
	}
	f.session = testSession("oauth-user")
	return f.session, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.record("SignOut")
	return f.signOutErr
}

// fakeBrowser returns a canned external auth session result.
type fakeBrowser struct {
	result auth.Result
	err    error
	opened string
}

func (b *fakeBrowser) Open(_ context.Context, authURL, _ string) (auth.Result, error) {
	b.opened = authURL
	return b.result, b.err
}

func testSession(userID string) *model.Session {
	s, err := model.NewSession("access-"+userID, "refresh-"+userID, "bearer",
		time.Now().Add(time.Hour), model.User{ID: userID, Email: userID + "@example.com"})
	if err != nil {
		panic(err)
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRedirect = "http://127.0.0.1:53682/auth/callback"

func newTestAuthService(p *fakeAuth, b *fakeBrowser) *AuthService {
	if b == nil {
		b = &fakeBrowser{}
	}
	return NewAuthService(p, b, AuthConfig{RedirectURL: testRedirect}, discardLogger())
}

func requireNotice(t *testing.T, out Outcome, kind NoticeKind, title, message string) {
	t.Helper()
	require.NotNil(t, out.Notice, "expected a notice")
	assert.Equal(t, kind, out.Notice.Kind)
	assert.Equal(t, title, out.Notice.Title)
	assert.Equal(t, message, out.Notice.Message)
}

// =========================================================================
// SIGN UP
// =========================================================================

func TestSignUp_Validation(t *testing.T) {
	tests := []struct {
		name    string
		form    SignUpForm
		message string
	}{
		{"empty email", SignUpForm{Password: "secret1", Confirm: "secret1"}, "Please fill in all fields"},
		{"empty password", SignUpForm{Email: "a@b.co", Confirm: "secret1"}, "Please fill in all fields"},
		{"empty confirm", SignUpForm{Email: "a@b.co", Password: "secret1"}, "Please fill in all fields"},
		{"whitespace email", SignUpForm{Email: "   ", Password: "secret1", Confirm: "secret1"}, "Please fill in all fields"},
		{"whitespace password is checked for length", SignUpForm{Email: "a@b.co", Password: "   ", Confirm: "   "}, "Password must be at least 6 characters"},
		{"whitespace password is checked for match", SignUpForm{Email: "a@b.co", Password: "   ", Confirm: "    "}, "Passwords do not match"},
		{"mismatch", SignUpForm{Email: "a@b.co", Password: "secret1", Confirm: "secret2"}, "Passwords do not match"},
		{"mismatch wins over length", SignUpForm{Email: "a@b.co", Password: "abc", Confirm: "abd"}, "Passwords do not match"},
		{"too short", SignUpForm{Email: "a@b.co", Password: "abc12", Confirm: "abc12"}, "Password must be at least 6 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeAuth()
			svc := newTestAuthService(p, nil)

			out := svc.SignUp(context.Background(), tt.form)

			requireNotice(t, out, NoticeError, "Error", tt.message)
			assert.Zero(t, p.total(), "validation failure must not reach the provider")
			assert.False(t, svc.SigningUp.Active())
		})
	}
}

func TestSignUp_WithSession(t *testing.T) {
	p := newFakeAuth()
	p.signUpResult = &provider.SignUpResult{User: model.User{ID: "u1"}, Session: testSession("u1")}
	svc := newTestAuthService(p, nil)

	out := svc.SignUp(context.Background(), SignUpForm{
		Username: "ada", Email: " ada@example.com ", Password: "secret1", Confirm: "secret1",
	})

	requireNotice(t, out, NoticeSuccess, "Success!", "Account created successfully! You are now signed in.")
	assert.Empty(t, out.Navigate, "routing to home is left to the subscription")
	assert.Equal(t, map[string]any{"username": "ada"}, p.gotMetadata)
}

func TestSignUp_ConfirmationPending(t *testing.T) {
	p := newFakeAuth()
	p.signUpResult = &provider.SignUpResult{User: model.User{ID: "u1"}}
	svc := newTestAuthService(p, nil)

	out := svc.SignUp(context.Background(), SignUpForm{Email: "ada@example.com", Password: "secret1", Confirm: "secret1"})

	require.NotNil(t, out.Notice)
	assert.Equal(t, NoticeInfo, out.Notice.Kind)
	assert.Equal(t, "Check Your Email!", out.Notice.Title)
	assert.Contains(t, out.Notice.Message, "ada@example.com")
	assert.Equal(t, router.SignIn, out.Navigate)
}

func TestSignUp_ProviderErrorVerbatim(t *testing.T) {
	p := newFakeAuth()
	p.signUpErr = apperror.Provider("User already registered", "user_already_exists", "")
	svc := newTestAuthService(p, nil)

	out := svc.SignUp(context.Background(), SignUpForm{Email: "ada@example.com", Password: "secret1", Confirm: "secret1"})

	requireNotice(t, out, NoticeError, "Sign Up Error", "User already registered")
	assert.Empty(t, out.Navigate)
}

func TestSignUp_TransportErrorGeneric(t *testing.T) {
	p := newFakeAuth()
	p.signUpErr = apperror.Transport(errors.New("dial tcp: connection refused"))
	svc := newTestAuthService(p, nil)

	out := svc.SignUp(context.Background(), SignUpForm{Email: "ada@example.com", Password: "secret1", Confirm: "secret1"})

	requireNotice(t, out, NoticeError, "Error", apperror.GenericRetryMessage)
}

// =========================================================================
// SIGN IN
// =========================================================================

func TestSignIn(t *testing.T) {
	p := newFakeAuth()
	svc := newTestAuthService(p, nil)

	out := svc.SignIn(context.Background(), SignInForm{Email: "ada@example.com", Password: "secret1"})

	requireNotice(t, out, NoticeSuccess, "Success!", "Signed in successfully!")
	assert.Equal(t, 1, p.count("SignInWithPassword"))
}

func TestSignIn_Validation(t *testing.T) {
	p := newFakeAuth()
	svc := newTestAuthService(p, nil)

	out := svc.SignIn(context.Background(), SignInForm{Email: "ada@example.com"})

	requireNotice(t, out, NoticeError, "Error", "Please fill in all fields")
	assert.Zero(t, p.total())
}

func TestSignIn_ProviderError(t *testing.T) {
	p := newFakeAuth()
	p.signInErr = apperror.Provider("Invalid login credentials", "invalid_grant", "")
	svc := newTestAuthService(p, nil)

	out := svc.SignIn(context.Background(), SignInForm{Email: "ada@example.com", Password: "nope"})

	requireNotice(t, out, NoticeError, "Sign In Error", "Invalid login credentials")
}

func TestSignIn_RefusesWhileRunning(t *testing.T) {
	p := newFakeAuth()
	p.block = make(chan struct{})
	svc := newTestAuthService(p, nil)
	form := SignInForm{Email: "ada@example.com", Password: "secret1"}

	done := make(chan Outcome, 1)
	go func() { done <- svc.SignIn(context.Background(), form) }()

	require.Eventually(t, svc.SigningIn.Active, time.Second, 5*time.Millisecond)

	second := svc.SignIn(context.Background(), form)
	assert.True(t, second.Busy)
	assert.Nil(t, second.Notice)

	// Other handlers are not blocked.
	assert.False(t, svc.SignUp(context.Background(), SignUpForm{}).Busy)

	close(p.block)
	first := <-done
	assert.False(t, first.Busy)
	assert.False(t, svc.SigningIn.Active())
	assert.Equal(t, 1, p.count("SignInWithPassword"))
}

// =========================================================================
// OAUTH
// =========================================================================

func TestSignInWithOAuth_Success(t *testing.T) {
	p := newFakeAuth()
	b := &fakeBrowser{result: auth.Result{
		Type: auth.ResultSuccess,
		URL:  testRedirect + "?access_token=acc&refresh_token=ref",
	}}
	svc := newTestAuthService(p, b)

	out := svc.SignInWithOAuth(context.Background(), "")

	requireNotice(t, out, NoticeSuccess, "Success!", "You are now signed in with Google.")
	assert.Equal(t, [2]string{"acc", "ref"}, p.gotTokens)
	assert.Contains(t, b.opened, "provider=google")
	assert.False(t, svc.OAuth.Active())
}

func TestSignInWithOAuth_MissingTokensLeavesSessionAbsent(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		missing string
	}{
		{"no refresh token", testRedirect + "?access_token=acc", "refresh token"},
		{"no access token", testRedirect + "?refresh_token=ref", "access token"},
		{"nothing", testRedirect + "?callback=empty", "access token and refresh token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeAuth()
			b := &fakeBrowser{result: auth.Result{Type: auth.ResultSuccess, URL: tt.url}}
			svc := newTestAuthService(p, b)

			out := svc.SignInWithOAuth(context.Background(), "google")

			requireNotice(t, out, NoticeError, "Google Sign In Error",
				"The sign-in callback was missing the "+tt.missing+".")
			assert.Empty(t, out.Navigate)
			assert.Zero(t, p.count("SetSession"))
			assert.Nil(t, p.session)
		})
	}
}

func TestSignInWithOAuth_Cancel(t *testing.T) {
	p := newFakeAuth()
	svc := newTestAuthService(p, &fakeBrowser{result: auth.Result{Type: auth.ResultCancel}})

	out := svc.SignInWithOAuth(context.Background(), "google")

	requireNotice(t, out, NoticeInfo, "Cancelled", "Google sign in was cancelled.")
	assert.Zero(t, p.count("SetSession"))
	assert.False(t, svc.OAuth.Active())
}

func TestSignInWithOAuth_Failures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *fakeAuth, b *fakeBrowser)
		title   string
		message string
	}{
		{
			name:    "authorize url rejected",
			setup:   func(p *fakeAuth, _ *fakeBrowser) { p.authorizeErr = apperror.Provider("Unsupported provider", "", "") },
			title:   "Google Sign In Error",
			message: "Unsupported provider",
		},
		{
			name: "browser session failed",
			setup: func(_ *fakeAuth, b *fakeBrowser) {
				b.result = auth.Result{Type: auth.ResultFail}
				b.err = apperror.OAuth("Unable to exchange external code")
			},
			title:   "Google Sign In Error",
			message: "Unable to exchange external code",
		},
		{
			name:    "error in callback",
			setup:   func(_ *fakeAuth, b *fakeBrowser) { b.result = auth.Result{Type: auth.ResultSuccess, URL: testRedirect + "?error=server_error&error_description=boom"} },
			title:   "Google Sign In Error",
			message: "boom",
		},
		{
			name: "set session transport failure",
			setup: func(p *fakeAuth, b *fakeBrowser) {
				b.result = auth.Result{Type: auth.ResultSuccess, URL: testRedirect + "?access_token=a&refresh_token=r"}
				p.setErr = apperror.Transport(errors.New("reset by peer"))
			},
			title:   "Error",
			message: apperror.GenericRetryMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeAuth()
			b := &fakeBrowser{}
			tt.setup(p, b)
			svc := newTestAuthService(p, b)

			out := svc.SignInWithOAuth(context.Background(), "google")

			requireNotice(t, out, NoticeError, tt.title, tt.message)
			assert.False(t, svc.OAuth.Active())
		})
	}
}

// =========================================================================
// SIGN OUT
// =========================================================================

func TestSignOut(t *testing.T) {
	p := newFakeAuth()
	svc := newTestAuthService(p, nil)

	out := svc.SignOut(context.Background())

	assert.Nil(t, out.Notice)
	assert.Equal(t, 1, p.count("SignOut"))
	assert.False(t, svc.SigningOut.Active())
}

func TestSignOut_Error(t *testing.T) {
	p := newFakeAuth()
	p.signOutErr = apperror.Transport(errors.New("offline"))
	svc := newTestAuthService(p, nil)

	out := svc.SignOut(context.Background())

	requireNotice(t, out, NoticeError, "Error", apperror.GenericRetryMessage)
	assert.False(t, svc.SigningOut.Active())
}

func TestProviderLabel(t *testing.T) {
	assert.Equal(t, "Google", providerLabel("google"))
	assert.Equal(t, "Github", providerLabel("github"))
	assert.Equal(t, "", providerLabel(""))
}
