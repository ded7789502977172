// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// User is the identity embedded in a Session, as asserted by the provider.
//
// Metadata is a free-form map. Its keys come from the provider: email sign-up
// stores {"username": ...}; OAuth providers add keys such as "full_name",
// "given_name", "avatar_url" or "picture". Nothing here validates them.
//
// Email is empty for accounts without one (phone-only, some OAuth providers).
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
}

// MetadataString returns the metadata value for key when it is a non-blank string.
func (u User) MetadataString(key string) string {
	if u.Metadata == nil {
		return ""
	}
	s, ok := u.Metadata[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
