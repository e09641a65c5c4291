package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFirstRunWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadPartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: UTC
week_start: saturday
max_batch: 9000
store:
  driver: memory
basic_auth:
  username: ""
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, 500, cfg.MaxBatch)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Nil(t, cfg.BasicAuth)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	t.Setenv("APPDATE_LISTEN", ":9999")
	t.Setenv("APPDATE_MAX_BATCH", "100")
	t.Setenv("APPDATE_STORE__PATH", "/tmp/other.db")
	t.Setenv("APPDATE_STORE__WATCH", "false")
	t.Setenv("APPDATE_INGEST_SECRET", "s3cret")
	t.Setenv("APPDATE_BASIC_AUTH__USERNAME", "admin")
	t.Setenv("APPDATE_BASIC_AUTH__PASSWORD", "pw")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, 100, cfg.MaxBatch)
	assert.Equal(t, "/tmp/other.db", cfg.Store.Path)
	assert.False(t, cfg.Store.Watch)
	assert.Equal(t, "s3cret", cfg.IngestSecret)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.Equal(t, "pw", cfg.BasicAuth.Password)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		body string
		err  error
	}{
		"timezone": {"timezone: Mars/Olympus\n", ErrInvalidTimezone},
		"driver":   {"store:\n  driver: postgres\n", ErrInvalidDriver},
		"cron":     {"refresh_cron: every day\n", ErrInvalidCron},
		"level":    {"log_level: loud\n", ErrInvalidLogLevel},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))
			_, err := Load(path)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()
	cfg.Listen = ":7000"
	require.NoError(t, cfg.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", loaded.Listen)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "store.path", envKey("APPDATE_STORE__PATH"))
	assert.Equal(t, "ics_cache_dir", envKey("APPDATE_ICS_CACHE_DIR"))
}
