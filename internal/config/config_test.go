package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("TOKEN_STORE", "")
	t.Setenv("HTTP_TIMEOUT", "")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, ":3000", c.GetPort())
	require.Equal(t, config.TokenStoreFile, c.GetTokenStore())
	require.Equal(t, 15*time.Second, c.GetHTTPTimeout())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", ":9090")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "4")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, ":9090", c.GetPort())
	require.Equal(t, 3*time.Second, c.GetHTTPTimeout())
	require.Equal(t, 4, c.GetRedisDB())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("API_BASE_URL: https://api.example.com\nTOKEN_STORE: redis\n"), 0o600))

	t.Setenv("API_BASE_URL", "")
	os.Unsetenv("API_BASE_URL")
	t.Setenv("TOKEN_STORE", "memory")
	t.Setenv("CONFIG_FILE", path)

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, "https://api.example.com", c.GetBaseURL())
	require.Equal(t, config.TokenStoreMemory, c.GetTokenStore(), "the environment wins over the file")
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	require.Empty(t, config.Cors{}.GetAllowedOrigins())

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com/ ,https://admin.example.com,,")
	origins := config.Cors{}.GetAllowedOrigins()
	require.Len(t, origins, 2)
	require.True(t, origins.IsAllowedOrigin("https://app.example.com"))
	require.True(t, origins.IsAllowedOrigin("https://admin.example.com"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example"))
}
