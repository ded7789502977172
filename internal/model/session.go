package model

import (
	"errors"
	"time"
)

// ErrIncompleteSession is returned by NewSession when any required field is missing.
var ErrIncompleteSession = errors.New("model: incomplete session")

// Session is the provider's proof of authentication at a point in time.
//
// A session is either fully present or absent. Absence is a nil *Session;
// there is no half-authenticated value. Build sessions with NewSession so the
// invariant is checked in one place.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// NewSession validates that every field is populated and returns the session.
func NewSession(accessToken, refreshToken, tokenType string, expiresAt time.Time, user User) (*Session, error) {
	if tokenType == "" {
		tokenType = "bearer"
	}
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		ExpiresAt:    expiresAt,
		User:         user,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports ErrIncompleteSession when a field is missing.
func (s *Session) Validate() error {
	switch {
	case s == nil:
		return ErrIncompleteSession
	case s.AccessToken == "", s.RefreshToken == "":
		return ErrIncompleteSession
	case s.ExpiresAt.IsZero():
		return ErrIncompleteSession
	case s.User.ID == "":
		return ErrIncompleteSession
	}
	return nil
}

// ExpiresWithin reports whether the access token expires within d of now.
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(d))
}

// Clone returns a deep copy so callers can hold a read-only snapshot.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.User.Metadata != nil {
		c.User.Metadata = make(map[string]any, len(s.User.Metadata))
		for k, v := range s.User.Metadata {
			c.User.Metadata[k] = v
		}
	}
	return &c
}
