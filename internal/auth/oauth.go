// Package auth covers the browser half of OAuth sign-in: opening the
// provider's authorization page and reading the tokens the backend hands
// back on the redirect.
//
// IMPLICIT FLOW:
//  1. The app asks the backend for an authorize URL with redirect_to set to
//     a loopback address it listens on.
//  2. The user signs in with the identity provider in their browser.
//  3. The backend redirects to redirect_to with access_token and
//     refresh_token attached (in the fragment, or in the query once the
//     loopback page has moved them there).
//  4. The app adopts the tokens with provider.SetSession.
package auth

import (
	"context"
	"fmt"
	"net/url"
)

// ResultType is how an external auth session ended.
type ResultType string

const (
	ResultSuccess ResultType = "success"
	ResultCancel  ResultType = "cancel"
	ResultFail    ResultType = "fail"
)

// Result is the outcome of BrowserSession.Open. On success URL is the full
// callback URL the browser landed on.
type Result struct {
	Type ResultType
	URL  string
}

// BrowserSession runs one external authorization round trip.
//
// Open shows authURL to the user and blocks until the browser reaches
// redirectURL, the user cancels, or ctx is done (a cancel). A non-nil error
// always comes with ResultFail.
type BrowserSession interface {
	Open(ctx context.Context, authURL, redirectURL string) (Result, error)
}

// Callback holds what the backend attached to the redirect.
type Callback struct {
	AccessToken      string
	RefreshToken     string
	Error            string
	ErrorDescription string
}

// HasTokens reports whether both session tokens are present.
func (c Callback) HasTokens() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// ParseCallback reads the callback parameters from rawURL. The query is
// checked first; when it carries neither tokens nor an error, the fragment is
// parsed as a query string instead.
func ParseCallback(rawURL string) (Callback, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Callback{}, fmt.Errorf("auth: parsing callback URL: %w", err)
	}

	cb := callbackFrom(u.Query())
	if cb.AccessToken != "" || cb.RefreshToken != "" || cb.Error != "" {
		return cb, nil
	}
	if u.Fragment == "" {
		return cb, nil
	}

	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return Callback{}, fmt.Errorf("auth: parsing callback fragment: %w", err)
	}
	return callbackFrom(values), nil
}

func callbackFrom(v url.Values) Callback {
	return Callback{
		AccessToken:      v.Get("access_token"),
		RefreshToken:     v.Get("refresh_token"),
		Error:            v.Get("error"),
		ErrorDescription: v.Get("error_description"),
	}
}
