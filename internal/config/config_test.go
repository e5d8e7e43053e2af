package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "both", cfg.CalendarType)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Timezone)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, "per-event", cfg.LayoutMode)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "backend_url: http://localhost:8000\n" +
		"layout_mode: Connected\n" +
		"calendar_type: purple\n" +
		"ics:\n" +
		"  - url: https://example.com/a.ics\n" +
		"    calendar: even\n" +
		"  - url: https://example.com/b.ics\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.BackendURL)
	assert.Equal(t, "connected", cfg.LayoutMode)
	assert.Equal(t, "both", cfg.CalendarType)
	require.Len(t, cfg.ICS, 2)
	assert.Equal(t, "https://example.com/a.ics", cfg.ICS[0].ID)
	assert.Equal(t, "even", cfg.ICS[0].Calendar)
	assert.Equal(t, "odd", cfg.ICS[1].Calendar)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCHEDADMIN_LISTEN", ":9999")
	t.Setenv("SCHEDADMIN_BACKEND_URL", "http://backend")
	t.Setenv("SCHEDADMIN_AUTH_USERNAME", "admin")
	t.Setenv("SCHEDADMIN_AUTH_PASSWORD", "secret")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "http://backend", cfg.BackendURL)
	require.NotNil(t, cfg.BasicAuth)
	assert.Equal(t, "admin", cfg.BasicAuth.Username)
	assert.Equal(t, "secret", cfg.BasicAuth.Password)
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.Timezone)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BackendURL = "http://backend"
	cfg.ICS = []ICSConfig{{ID: "main", URL: "https://example.com/c.ics", Calendar: "even"}}
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestDurations(t *testing.T) {
	d, err := ParseDuration("1d")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	_, err = ParseDuration("-5s")
	assert.Error(t, err)

	assert.Equal(t, 10*time.Second, Duration("10s", time.Minute))
	assert.Equal(t, time.Minute, Duration("soon", time.Minute))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Mars/Olympus"
	cfg.RequestTimeout = "whenever"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timezone")
	assert.Contains(t, err.Error(), "request_timeout")
	assert.Contains(t, err.Error(), "neither backend_url nor ics")
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	cfg := DefaultConfig()
	cfg.Listen = ":7070"
	require.NoError(t, cfg.Save(path))

	select {
	case c := <-got:
		assert.Equal(t, ":7070", c.Listen)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchIgnoresMovedAwayFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, DefaultConfig().Save(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.Rename(path, filepath.Join(dir, "config.yaml.bak")))

	select {
	case <-got:
		t.Fatal("reload fired for a file that was moved away")
	case <-time.After(500 * time.Millisecond):
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "defaults must not be written back")

	cancel()
	assert.NoError(t, <-done)
}
