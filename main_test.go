package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/minutes/config"
)

func resetGlobals(t *testing.T) {
	t.Helper()
	t.Setenv("MINUTES_HOME", t.TempDir())
	t.Setenv("MINUTES_CONFIG", "")
	cfgFile, serverURL, outputFormat, timeout, debug = "", "", "", 0, false
	t.Cleanup(func() {
		cfgFile, serverURL, outputFormat, timeout, debug = "", "", "", 0, false
	})
}

func TestRootCommand_Subcommands(t *testing.T) {
	want := []string{"job", "review", "export", "serve", "worker", "migrate", "keys", "config", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, c.Name())
		assert.NotEmpty(t, c.GroupID, "%s has no help group", name)
	}
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "server", "timeout", "output", "debug"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	resetGlobals(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultServerURL, cfg.Client.ServerURL)
	assert.Equal(t, config.OutputFormatText, cfg.Client.OutputFormat)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	resetGlobals(t)
	serverURL = "http://minutes.internal:9000"
	outputFormat = "json"
	timeout = 15 * time.Second
	debug = true

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://minutes.internal:9000", cfg.Client.ServerURL)
	assert.Equal(t, config.OutputFormatJSON, cfg.Client.OutputFormat)
	assert.Equal(t, 15*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_InvalidOutput(t *testing.T) {
	resetGlobals(t)
	outputFormat = "xml"

	_, err := loadConfig()
	assert.ErrorContains(t, err, "invalid output format")
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	resetGlobals(t)
	path := filepath.Join(t.TempDir(), "minutes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  server_url: http://from-file:8080\n"), 0o600))
	cfgFile = path

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://from-file:8080", cfg.Client.ServerURL)
}

func TestLoadConfig_ExplicitFileMissing(t *testing.T) {
	resetGlobals(t)
	cfgFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	resetGlobals(t)
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "minutes version "), out)
	assert.Contains(t, out, "commit:")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MINUTES_TEST_DOTENV=loaded\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("MINUTES_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("MINUTES_TEST_DOTENV"))

	loadDotEnv()
	assert.Equal(t, "loaded", os.Getenv("MINUTES_TEST_DOTENV"))
}

func TestLoadDotEnv_Missing(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NotPanics(t, loadDotEnv)
}
