package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves the test into a fresh directory so project-scoped paths
// do not leak between tests
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CODECONTEXT_CONFIG",
		"CODECONTEXT_AUTHORITY_BASE_URL",
		"CODECONTEXT_AUTHORITY_ACCOUNT_ID",
		"CODECONTEXT_AUTHORITY_API_KEY",
		"CODECONTEXT_LICENSE_CACHE_FILE",
		"CODECONTEXT_SERVER_PORT",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.keygen.sh/v1", cfg.Authority.BaseURL)
	assert.Equal(t, "codecontext", cfg.Authority.Product)
	assert.Equal(t, 10*time.Second, cfg.Authority.Timeout)
	assert.Equal(t, 8585, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.License.ValidationCacheTTL)
	assert.Equal(t, 3, cfg.License.ActivationBurst)

	// Cache path defaults under the project state directory
	want := filepath.Join(dir, ".codecontext", "license.json")
	resolved, err := filepath.EvalSymlinks(filepath.Dir(cfg.License.CacheFile))
	require.NoError(t, err)
	wantDir, err := filepath.EvalSymlinks(filepath.Dir(want))
	require.NoError(t, err)
	assert.Equal(t, wantDir, resolved)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)

	t.Setenv("CODECONTEXT_AUTHORITY_BASE_URL", "https://licensing.internal/v1")
	t.Setenv("CODECONTEXT_AUTHORITY_ACCOUNT_ID", "acct_env")
	t.Setenv("CODECONTEXT_AUTHORITY_API_KEY", "token_env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://licensing.internal/v1", cfg.Authority.BaseURL)
	assert.Equal(t, "acct_env", cfg.Authority.AccountID)
	assert.Equal(t, "token_env", cfg.Authority.APIKey)
}

func TestLoadFileMerge(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)

	configPath := filepath.Join(dir, "codecontext.yaml")
	yaml := `
authority:
  account_id: acct_file
  api_key: token_file
`
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0600))
	t.Setenv("CODECONTEXT_CONFIG", configPath)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "acct_file", cfg.Authority.AccountID)
	assert.Equal(t, "token_file", cfg.Authority.APIKey)
}

func TestLoadEnvBeatsFile(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)

	configPath := filepath.Join(dir, "codecontext.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("authority:\n  account_id: acct_file\n"), 0600))
	t.Setenv("CODECONTEXT_CONFIG", configPath)
	t.Setenv("CODECONTEXT_AUTHORITY_ACCOUNT_ID", "acct_env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "acct_env", cfg.Authority.AccountID)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)
	t.Setenv("CODECONTEXT_SERVER_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestProjectDirIsCreatedPrivate(t *testing.T) {
	dir := chdirTemp(t)

	got, err := ProjectDir()
	require.NoError(t, err)

	info, err := os.Stat(got)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	assert.Equal(t, filepath.Base(got), ".codecontext")
	assert.Contains(t, got, dir)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()

	assert.False(t, FileExists(filepath.Join(dir, "missing.json")))

	path := filepath.Join(dir, "present.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	assert.True(t, FileExists(path))

	assert.False(t, FileExists(dir), "directories are not files")
}
