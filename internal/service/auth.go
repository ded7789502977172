// Package service holds the action handlers behind every user action.
//
// Handlers sit between the UI and the provider:
//
//	app shell (event loop) → AuthService / PostService → provider (HTTP)
//
// They validate input, call the provider, and turn whatever happens into an
// Outcome the UI can show. They never touch the session or the router
// directly: a successful sign-in changes the provider's session, the
// provider notifies the session store, and the router follows.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/sakif/framez/internal/apperror"
	"github.com/sakif/framez/internal/auth"
	"github.com/sakif/framez/internal/provider"
	"github.com/sakif/framez/internal/router"
	"github.com/sakif/framez/internal/validate"
)

const minPasswordLength = 6

// SignUpForm is the sign-up screen's input. Username is optional.
type SignUpForm struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

type SignInForm struct {
	Email    string
	Password string
}

// AuthConfig holds the OAuth settings.
type AuthConfig struct {
	// RedirectURL is where the backend sends the browser after OAuth.
	RedirectURL string
	// OAuthProvider is used when SignInWithOAuth gets no provider name.
	OAuthProvider string
}

// AuthService runs sign-up, sign-in and sign-out.
//
// Each handler owns an Indicator. A handler whose indicator is active
// refuses to start again; different handlers do not block each other.
type AuthService struct {
	provider provider.Auth
	browser  auth.BrowserSession
	cfg      AuthConfig
	logger   *slog.Logger

	SigningUp  Indicator
	SigningIn  Indicator
	OAuth      Indicator
	SigningOut Indicator
}

func NewAuthService(p provider.Auth, browser auth.BrowserSession, cfg AuthConfig, logger *slog.Logger) *AuthService {
	if cfg.OAuthProvider == "" {
		cfg.OAuthProvider = "google"
	}
	return &AuthService{
		provider: p,
		browser:  browser,
		cfg:      cfg,
		logger:   logger,
	}
}

// SignUp validates the form and creates the account.
//
// With auto-confirm the provider signs the user in and the subscription
// routes to home. Otherwise the user is told to check their email and sent to
// sign-in.
func (s *AuthService) SignUp(ctx context.Context, form SignUpForm) Outcome {
	if !s.SigningUp.begin() {
		return Outcome{Busy: true}
	}
	defer s.SigningUp.end()

	err := validate.Check(
		validate.Required("email", form.Email),
		validate.NotEmpty("password", form.Password),
		validate.NotEmpty("confirm", form.Confirm),
		validate.Equal("confirm", form.Password, form.Confirm),
		validate.MinLength("password", form.Password, minPasswordLength),
	)
	if err != nil {
		return Outcome{Notice: errorNotice("Error", credentialsMessage(err))}
	}

	email := strings.TrimSpace(form.Email)
	res, err := s.provider.SignUp(ctx, email, form.Password, map[string]any{
		"username": form.Username,
	})
	if err != nil {
		s.logger.Warn("sign up failed", slog.String("error", err.Error()))
		return failure("Sign Up Error", err)
	}

	if res.Session != nil {
		s.logger.Info("account created and signed in", slog.String("userID", res.User.ID))
		return Outcome{Notice: successNotice("Account created successfully! You are now signed in.")}
	}

	s.logger.Info("account created, confirmation pending", slog.String("userID", res.User.ID))
	return Outcome{
		Notice: &Notice{
			Kind:  NoticeInfo,
			Title: "Check Your Email!",
			Message: fmt.Sprintf("We sent a confirmation email to %s. "+
				"Please check your inbox (and spam folder) to verify your account.", email),
		},
		Navigate: router.SignIn,
	}
}

// SignIn performs the password grant. Routing follows the subscription.
func (s *AuthService) SignIn(ctx context.Context, form SignInForm) Outcome {
	if !s.SigningIn.begin() {
		return Outcome{Busy: true}
	}
	defer s.SigningIn.end()

	err := validate.Check(
		validate.Required("email", form.Email),
		validate.NotEmpty("password", form.Password),
	)
	if err != nil {
		return Outcome{Notice: errorNotice("Error", credentialsMessage(err))}
	}

	session, err := s.provider.SignInWithPassword(ctx, strings.TrimSpace(form.Email), form.Password)
	if err != nil {
		s.logger.Warn("sign in failed", slog.String("error", err.Error()))
		return failure("Sign In Error", err)
	}

	s.logger.Info("signed in", slog.String("userID", session.User.ID))
	return Outcome{Notice: successNotice("Signed in successfully!")}
}

// SignInWithOAuth runs the browser redirect flow for providerName ("" means
// the configured default).
//
// Only a callback carrying both tokens establishes a session. Anything else
// leaves the session, and so the screen, as it was.
func (s *AuthService) SignInWithOAuth(ctx context.Context, providerName string) Outcome {
	if !s.OAuth.begin() {
		return Outcome{Busy: true}
	}
	defer s.OAuth.end()

	if providerName == "" {
		providerName = s.cfg.OAuthProvider
	}
	label := providerLabel(providerName)
	errTitle := label + " Sign In Error"

	authURL, err := s.provider.AuthorizeURL(providerName, s.cfg.RedirectURL)
	if err != nil {
		return failure(errTitle, err)
	}

	res, err := s.browser.Open(ctx, authURL, s.cfg.RedirectURL)
	if err != nil {
		s.logger.Warn("oauth browser session failed", slog.String("error", err.Error()))
		return failure(errTitle, err)
	}

	switch res.Type {
	case auth.ResultCancel:
		return Outcome{Notice: &Notice{
			Kind:    NoticeInfo,
			Title:   "Cancelled",
			Message: label + " sign in was cancelled.",
		}}
	case auth.ResultSuccess:
	default:
		return failure(errTitle, apperror.OAuth(label+" sign in did not complete."))
	}

	cb, err := auth.ParseCallback(res.URL)
	if err != nil {
		s.logger.Warn("unreadable oauth callback", slog.String("error", err.Error()))
		return failure(errTitle, apperror.OAuth("The sign-in callback could not be read."))
	}
	if cb.Error != "" {
		msg := cb.ErrorDescription
		if msg == "" {
			msg = cb.Error
		}
		return failure(errTitle, apperror.OAuth(msg))
	}
	if !cb.HasTokens() {
		missing := missingTokens(cb)
		s.logger.Warn("oauth callback without session tokens", slog.String("missing", missing))
		return failure(errTitle, apperror.OAuth("The sign-in callback was missing the "+missing+"."))
	}

	session, err := s.provider.SetSession(ctx, cb.AccessToken, cb.RefreshToken)
	if err != nil {
		s.logger.Warn("adopting oauth session failed", slog.String("error", err.Error()))
		return failure(errTitle, err)
	}

	s.logger.Info("signed in with oauth",
		slog.String("provider", providerName),
		slog.String("userID", session.User.ID),
	)
	return Outcome{Notice: successNotice("You are now signed in with " + label + ".")}
}

// SignOut ends the session. Routing follows the subscription.
func (s *AuthService) SignOut(ctx context.Context) Outcome {
	if !s.SigningOut.begin() {
		return Outcome{Busy: true}
	}
	defer s.SigningOut.end()

	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("sign out failed", slog.String("error", err.Error()))
		return failure("Error", err)
	}
	s.logger.Info("signed out")
	return Outcome{}
}

// credentialsMessage words a credential form validation failure.
func credentialsMessage(err error) string {
	var f *validate.Failure
	if !errors.As(err, &f) {
		return apperror.UserMessage(err)
	}
	switch f.Reason {
	case validate.ReasonMismatch:
		return "Passwords do not match"
	case validate.ReasonTooShort:
		return fmt.Sprintf("Password must be at least %d characters", f.Min)
	default:
		return "Please fill in all fields"
	}
}

// failure turns a handler error into an error Outcome. Provider and OAuth
// messages are shown under title verbatim; anything else gets the generic
// "Error" title.
func failure(title string, err error) Outcome {
	if errors.Is(err, apperror.ErrProvider) || errors.Is(err, apperror.ErrOAuth) {
		return Outcome{Notice: errorNotice(title, apperror.UserMessage(err))}
	}
	return Outcome{Notice: errorNotice("Error", apperror.UserMessage(err))}
}

func missingTokens(cb auth.Callback) string {
	var missing []string
	if cb.AccessToken == "" {
		missing = append(missing, "access token")
	}
	if cb.RefreshToken == "" {
		missing = append(missing, "refresh token")
	}
	return strings.Join(missing, " and ")
}

// providerLabel turns "google" into "Google".
func providerLabel(name string) string {
	if name == "" {
		return ""
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
