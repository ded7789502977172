package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		want       Callback
		wantTokens bool
	}{
		{
			name:       "tokens in query",
			url:        "http://127.0.0.1:53682/auth/callback?access_token=a&refresh_token=r&expires_in=3600",
			want:       Callback{AccessToken: "a", RefreshToken: "r"},
			wantTokens: true,
		},
		{
			name:       "tokens in fragment",
			url:        "http://127.0.0.1:53682/auth/callback#access_token=a&refresh_token=r&token_type=bearer",
			want:       Callback{AccessToken: "a", RefreshToken: "r"},
			wantTokens: true,
		},
		{
			name:       "query wins over fragment",
			url:        "http://127.0.0.1:53682/auth/callback?access_token=q&refresh_token=qr#access_token=f&refresh_token=fr",
			want:       Callback{AccessToken: "q", RefreshToken: "qr"},
			wantTokens: true,
		},
		{
			name: "refresh token missing",
			url:  "http://127.0.0.1:53682/auth/callback?access_token=a",
			want: Callback{AccessToken: "a"},
		},
		{
			name: "provider error",
			url:  "http://127.0.0.1:53682/auth/callback?error=server_error&error_description=Unable+to+exchange+external+code",
			want: Callback{Error: "server_error", ErrorDescription: "Unable to exchange external code"},
		},
		{
			name: "nothing attached",
			url:  "http://127.0.0.1:53682/auth/callback",
			want: Callback{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback(tt.url)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantTokens, got.HasTokens())
		})
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	_, err := ParseCallback("http://[::1")
	assert.Error(t, err)

	_, err = ParseCallback("http://127.0.0.1/cb#access_token=%zz")
	assert.Error(t, err)
}
