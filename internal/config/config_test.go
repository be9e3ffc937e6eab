package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"GITHUB_TOKEN", "APIHARVEST_DATA_DIR", "APIHARVEST_MIN_SCORE", "APIHARVEST_PORT", "APIHARVEST_LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Empty(t, cfg.GitHubToken)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 10, cfg.MinScore)
	assert.Equal(t, 100, cfg.MaxResults)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, "light", cfg.Theme)
	assert.Equal(t, "0.0.0.0:8484", cfg.Addr())
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("APIHARVEST_MIN_SCORE", "50")
	t.Setenv("APIHARVEST_PORT", "not-a-number")
	t.Setenv("APIHARVEST_S3_PATH_STYLE", "true")
	t.Setenv("APIHARVEST_LOG_LEVEL", "debug")

	cfg := Load()
	assert.Equal(t, "ghp_test", cfg.GitHubToken)
	assert.Equal(t, 50, cfg.MinScore)
	assert.Equal(t, 8484, cfg.ServerPort, "invalid integers fall back to the default")
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name         string
		cfg          Config
		requireToken bool
		wantErr      error
	}{
		{"ok", Config{GitHubToken: "t", DataDir: dir}, true, nil},
		{"token not needed", Config{DataDir: dir}, false, nil},
		{"missing token", Config{DataDir: dir}, true, ErrMissingCredential},
		{"empty data dir", Config{GitHubToken: "t"}, true, ErrInvalidPath},
		{"data dir is a file", Config{DataDir: file}, false, ErrInvalidPath},
		{"data dir created later", Config{DataDir: filepath.Join(dir, "new")}, false, nil},
		{"s3 needs no data dir", Config{S3Bucket: "b"}, false, nil},
		{"missing categories file", Config{DataDir: dir, CategoriesFile: filepath.Join(dir, "nope.yaml")}, false, ErrInvalidPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.requireToken)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), tt.in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("run created", "run_id", "abc")

	assert.Contains(t, stderr.String(), "run_id=abc")
	assert.Contains(t, file.String(), `"run_id":"abc"`)
	assert.NotContains(t, file.String(), "hidden")
}

func TestSetupLogger_FileOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apiharvest.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo, false)
	logger.Info("hello")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
