package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOVEACE_MASTER_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")
	t.Setenv("DEBUG", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":3005", cfg.Addr)
	require.Equal(t, 3, cfg.Portal.MaxRetries)
	require.Equal(t, 30*time.Second, cfg.Portal.RequestTimeout())
	require.Equal(t, 500*time.Millisecond, cfg.Portal.RetryBaseDelay())
	require.Equal(t, 140*time.Second, cfg.Evaluation.Countdown())
	require.Equal(t, "test-secret", cfg.MasterSecret)
}

func TestLoadMissingSecret(t *testing.T) {
	t.Setenv("LOVEACE_MASTER_SECRET", "")

	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "LOVEACE_MASTER_SECRET")
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	t.Setenv("LOVEACE_MASTER_SECRET", "s")
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_PATH", "/tmp/override.db")
	t.Setenv("DEBUG", "1")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":4000"
database_path: "/tmp/file.db"
portal:
  max_retries: 5
  retry_exponential_base: 3.0
  login_url: "http://idp.example.edu/cas/login"
evaluation:
  countdown_seconds: 10
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env wins over file for addr and database path.
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "/tmp/override.db", cfg.DatabasePath)
	require.True(t, cfg.Debug)

	require.Equal(t, 5, cfg.Portal.MaxRetries)
	require.Equal(t, 3.0, cfg.Portal.RetryExponentialBase)
	require.Equal(t, "http://idp.example.edu/cas/login", cfg.Portal.LoginURL)
	require.Equal(t, 10*time.Second, cfg.Evaluation.Countdown())
}

func TestLoadRejectsBadRetryConfig(t *testing.T) {
	t.Setenv("LOVEACE_MASTER_SECRET", "s")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("portal:\n  max_retries: 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("LOVEACE_MASTER_SECRET", "s")
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_PATH", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "./loveace.db", cfg.DatabasePath)
}
