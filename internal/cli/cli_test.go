package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/apiharvest/internal/config"
	"github.com/raphaelgruber/apiharvest/internal/models"
	"github.com/raphaelgruber/apiharvest/internal/service"
)

const petstore = `openapi: 3.0.0
info:
  title: Petstore
  version: "1.0"
servers:
  - url: https://petstore.example.com/v1
paths:
  /pets:
    get:
      summary: List pets
      responses:
        "200":
          description: ok
`

func TestLocalItem(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "Pet Store.yaml")
	require.NoError(t, os.WriteFile(file, []byte(petstore), 0o644))

	item, err := localItem(file, "")
	require.NoError(t, err)
	assert.Equal(t, "pet-store", item.ID)
	assert.Equal(t, "Pet Store", item.Name)
	assert.Equal(t, "Pet Store.yaml", item.FilePath)
	assert.Equal(t, petstore, string(item.RawText))

	item, err = localItem("https://example.com/specs/openapi.json", "custom")
	require.NoError(t, err)
	assert.Equal(t, "custom", item.ID)
	assert.Equal(t, "https://example.com/specs/openapi.json", item.DownloadURL)
	assert.Nil(t, item.RawText)

	_, err = localItem(filepath.Join(dir, "missing.yaml"), "")
	assert.Error(t, err)
}

func TestRunConvert(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "petstore.yaml")
	require.NoError(t, os.WriteFile(file, []byte(petstore), 0o644))

	out := filepath.Join(dir, "out")
	cfg = config.Config{DataDir: dir, LogFile: filepath.Join(dir, "test.log"), Theme: "light"}
	convertOut, convertID, convertTheme = out, "", "dark"
	t.Cleanup(func() {
		convertOut, convertTheme = "", ""
		if logCleanup != nil {
			_ = logCleanup()
			logCleanup = nil
		}
	})

	require.NoError(t, runConvert(convertCmd, []string{file}))

	assert.FileExists(t, filepath.Join(out, "openapi", "petstore", "petstore.json"))
	assert.DirExists(t, filepath.Join(out, "collections", "petstore"))
	html, err := os.ReadFile(filepath.Join(out, "docs", "petstore", "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), "theme-dark")
}

func TestRunConvert_InvalidSpec(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "foo.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"foo": "bar"}`), 0o644))

	cfg = config.Config{DataDir: dir, LogFile: filepath.Join(dir, "test.log"), Theme: "light"}
	t.Cleanup(func() {
		if logCleanup != nil {
			_ = logCleanup()
			logCleanup = nil
		}
	})

	err := runConvert(convertCmd, []string{file})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "convert")
	assert.NoDirExists(t, filepath.Join(dir, "docs", "foo"))
}

func TestSourceRequest(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().IntVar(&runMaxResults, "max-results", 0, "")
		cmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "")
		cmd.Flags().IntVar(&runMinScore, "min-score", 0, "")
		return cmd
	}

	cmd := newCmd()
	req := sourceRequest(cmd, "github")
	assert.Equal(t, "github", req.Source)
	assert.Nil(t, req.MaxResults, "unset flags keep configured defaults")
	assert.Nil(t, req.MinScore)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--max-results", "5", "--min-score", "0"}))
	req = sourceRequest(cmd, "github")
	require.NotNil(t, req.MaxResults)
	assert.Equal(t, 5, *req.MaxResults)
	require.NotNil(t, req.MinScore)
	assert.Equal(t, 0, *req.MinScore, "explicit zero is kept")
	assert.Nil(t, req.Concurrency)
}

func TestSummary(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := started.Add(90 * time.Second)
	failures := make([]string, 12)
	for i := range failures {
		failures[i] = "api: invalid format"
	}

	out := summary(service.RunSnapshot{
		ID:             "abc12345",
		Status:         models.RunStatusCompleted,
		ItemsFound:     14,
		ItemsProcessed: 2,
		ItemsFailed:    12,
		Failures:       failures,
		StartedAt:      started,
		CompletedAt:    &done,
	}, defaultTheme)

	assert.Contains(t, out, "Run abc12345 completed")
	assert.Contains(t, out, "Items failed:    12")
	assert.Contains(t, out, "1m30s")
	assert.Equal(t, maxShownFailures, strings.Count(out, "• "))
	assert.Contains(t, out, "and 2 more")
}

func TestRunError(t *testing.T) {
	assert.NoError(t, runError(service.RunSnapshot{ID: "a", Status: models.RunStatusCompleted}))
	err := runError(service.RunSnapshot{ID: "a", Status: models.RunStatusFailed, Error: "quota exceeded"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
