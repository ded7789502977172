package service

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sakif/framez/internal/model"
)

// DisplayName picks the name shown on the profile: the chosen username, the
// first word of an OAuth full name, a cleaned-up email local part, or "User".
func DisplayName(user model.User) string {
	if name := user.MetadataString("username"); name != "" {
		return name
	}
	for _, key := range []string{"full_name", "name", "given_name"} {
		if full := user.MetadataString(key); full != "" {
			return strings.Fields(full)[0]
		}
	}
	if user.Email != "" {
		local, _, _ := strings.Cut(user.Email, "@")
		if name := nameFromEmail(local); name != "" {
			return name
		}
	}
	return "User"
}

// nameFromEmail turns "jane.doe_99" into "Jane Doe".
func nameFromEmail(local string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '_':
			return ' '
		case unicode.IsDigit(r):
			return -1
		}
		return r
	}, local)

	words := strings.Fields(cleaned)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// AvatarURL returns the OAuth avatar, or "" when there is none or it is a
// generated ui-avatars.com placeholder.
func AvatarURL(user model.User) string {
	url := user.MetadataString("avatar_url")
	if url == "" {
		url = user.MetadataString("picture")
	}
	if strings.Contains(url, "ui-avatars.com") {
		return ""
	}
	return url
}

// Initials is the avatar fallback: the first two letters of the display name.
func Initials(user model.User) string {
	r := []rune(DisplayName(user))
	if len(r) > 2 {
		r = r[:2]
	}
	return strings.ToUpper(string(r))
}

// TimeAgo renders a post timestamp relative to now.
func TimeAgo(t, now time.Time) string {
	seconds := int(now.Sub(t) / time.Second)
	if seconds < 60 {
		return "Just now"
	}
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd ago", days)
	}
	weeks := days / 7
	if weeks < 4 {
		return fmt.Sprintf("%dw ago", weeks)
	}
	return t.Local().Format("Jan 2, 2006")
}
