package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("FRAMEZ_SUPABASE_URL", "https://abc.supabase.co")
	t.Setenv("FRAMEZ_SUPABASE_ANON_KEY", "anon")
	t.Setenv("FRAMEZ_CACHE_PATH", filepath.Join(t.TempDir(), "session.db"))
}

func TestParse_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Parse()

	require.NoError(t, err)
	assert.Equal(t, "https://abc.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, "http://127.0.0.1:53682/auth/callback", cfg.RedirectURL)
	assert.Equal(t, "google", cfg.OAuthProvider)
	assert.Equal(t, "post-images", cfg.StorageBucket)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10.0, cfg.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.RefreshTick)
}

func TestParse_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("FRAMEZ_OAUTH_PROVIDER", "github")
	t.Setenv("FRAMEZ_REFRESH_TICK", "5s")
	t.Setenv("FRAMEZ_REQUESTS_PER_SECOND", "0")

	cfg, err := Parse()

	require.NoError(t, err)
	assert.Equal(t, "github", cfg.OAuthProvider)
	assert.Equal(t, 5*time.Second, cfg.RefreshTick)
	assert.Zero(t, cfg.RequestsPerSecond)
}

func TestParse_MissingRequired(t *testing.T) {
	t.Setenv("FRAMEZ_SUPABASE_URL", "")
	t.Setenv("FRAMEZ_SUPABASE_ANON_KEY", "")
	os.Unsetenv("FRAMEZ_SUPABASE_URL")
	os.Unsetenv("FRAMEZ_SUPABASE_ANON_KEY")

	_, err := Parse()

	assert.Error(t, err)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad url", "FRAMEZ_SUPABASE_URL", "abc"},
		{"non-http redirect", "FRAMEZ_REDIRECT_URL", "framez://auth/callback"},
		{"zero tick", "FRAMEZ_REFRESH_TICK", "0s"},
		{"negative rate", "FRAMEZ_REQUESTS_PER_SECOND", "-1"},
		{"unparseable tick", "FRAMEZ_REFRESH_TICK", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			_, err := Parse()

			assert.Error(t, err)
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "framez.env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"FRAMEZ_SUPABASE_URL=https://from-file.supabase.co\n"+
			"FRAMEZ_SUPABASE_ANON_KEY=file-key\n"+
			"FRAMEZ_STORAGE_BUCKET=from-file\n",
	), 0o600))

	t.Setenv("FRAMEZ_ENV_FILE", envFile)
	t.Setenv("FRAMEZ_CACHE_PATH", filepath.Join(dir, "session.db"))
	t.Setenv("FRAMEZ_STORAGE_BUCKET", "from-env")
	// godotenv.Load sets variables in the process; clear them afterwards.
	t.Cleanup(func() {
		os.Unsetenv("FRAMEZ_SUPABASE_URL")
		os.Unsetenv("FRAMEZ_SUPABASE_ANON_KEY")
	})
	os.Unsetenv("FRAMEZ_SUPABASE_URL")
	os.Unsetenv("FRAMEZ_SUPABASE_ANON_KEY")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://from-file.supabase.co", cfg.SupabaseURL)
	assert.Equal(t, "file-key", cfg.SupabaseAnonKey)
	assert.Equal(t, "from-env", cfg.StorageBucket, "real environment wins")
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	setRequired(t)
	t.Setenv("FRAMEZ_ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))

	_, err := Load()

	assert.NoError(t, err)
}
