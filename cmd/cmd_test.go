package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkatanacio/gh-folder-download/config"
)

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		globalOpts = globalFlags{}
		downloadOpts = downloadFlags{}
		configInitForce = false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func Test_applyFlags(t *testing.T) {
	resetFlags(t)

	require.NoError(t, rootCmd.ParseFlags([]string{
		"--output", "/tmp/out",
		"-c", "9",
		"--no-cache",
		"--no-rate-limit",
		"--include-ext", ".go,.md",
		"--exclude", "**/testdata/**",
		"--max-size", "2MB",
		"--exclude-binary",
		"-q",
	}))

	cfg := config.Default()
	applyFlags(rootCmd, &cfg)

	assert.Equal(t, "/tmp/out", cfg.Paths.DefaultOutput)
	assert.Equal(t, 9, cfg.Download.MaxConcurrent)
	assert.Equal(t, 30, cfg.Download.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)
	assert.True(t, cfg.Download.VerifyIntegrity)
	assert.True(t, cfg.UI.QuietMode)
	assert.Equal(t, []string{".go", ".md"}, cfg.Filters.IncludeExtensions)
	assert.Equal(t, []string{"**/testdata/**"}, cfg.Filters.ExcludePatterns)
	assert.Equal(t, "2MB", cfg.Filters.MaxSize)
	assert.True(t, cfg.Filters.ExcludeBinary)
	assert.False(t, cfg.Filters.ExcludeLarge)
}

func Test_ConfigInit(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "nested", config.FileName)

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_concurrent: 5")

	_, err = execute(t, "config", "init", path)
	assert.ErrorIs(t, err, config.ErrFileExists)

	_, err = execute(t, "config", "init", "--force", path)
	assert.NoError(t, err)
}

func Test_ConfigShow(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  max_concurrent: 7\nui:\n  quiet_mode: true\n"), 0o644))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "# source: "+path)
	assert.Contains(t, out, "max_concurrent: 7")
	assert.Contains(t, out, "quiet_mode: true")
}

func Test_Download_RequiresURL(t *testing.T) {
	resetFlags(t)

	_, err := execute(t, []string{}...)
	assert.Error(t, err)
}

func Test_UpdateFlag_Usage(t *testing.T) {
	update := rootCmd.Flags().Lookup("update")
	require.NotNil(t, update)
	assert.Equal(t, "reuse an existing destination, skipping files cached for the same commit", update.Usage)
}
