package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/minutes/pkg/logging"
)

// isolate points every lookup at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("MINUTES_HOME", dir)
	t.Setenv("MINUTES_CONFIG", "")
	for _, kv := range os.Environ() {
		name := kv[:strings.IndexByte(kv, '=')]
		if strings.HasPrefix(name, "MINUTES_") && name != "MINUTES_HOME" && name != "MINUTES_CONFIG" {
			t.Setenv(name, "")
		}
	}
	return dir
}

func TestDefaultServiceConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultServiceConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorePostgres, cfg.Backend.Store)
	assert.Equal(t, QueueRedis, cfg.Backend.Queue)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, filepath.Join(dir, "blobs"), cfg.Blob.Root)
	assert.Equal(t, 30.0, cfg.Pipeline.AudioSegmentSeconds)
	assert.Equal(t, 5, cfg.Pipeline.PolishBatchSize)
	assert.Equal(t, 3000, cfg.Pipeline.ContextTokenBudget)
	assert.Equal(t, OutputFormatText, cfg.Client.OutputFormat)
}

func TestPath(t *testing.T) {
	dir := isolate(t)
	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultConfigFile), p)

	t.Setenv("MINUTES_CONFIG", "/etc/minutes.yaml")
	p, err = Path()
	require.NoError(t, err)
	assert.Equal(t, "/etc/minutes.yaml", p)
}

func TestLoad_NoFile(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceConfig(), cfg)
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	dir := isolate(t)
	t.Setenv("MINUTES_CONFIG", filepath.Join(dir, "missing.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "reading config file")
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
backend:
  store: memory
  queue: memory
workers:
  count: 2
  job_timeout: 10m
providers:
  openai:
    chat_model: gpt-4o
  languagetool:
    url: http://lt:8010
  retry:
    max_attempts: 5
pipeline:
  polish_batch_size: 8
  dictionary_path: /etc/minutes/dict.yaml
client:
  server_url: https://minutes.internal
  output_format: json
`), 0o600))

	cfg, err := LoadFile(path, true)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, StoreMemory, cfg.Backend.Store)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 10*time.Minute, cfg.Workers.JobTimeout)
	assert.Equal(t, time.Second, cfg.Workers.PollInterval, "unset fields keep defaults")
	assert.Equal(t, "gpt-4o", cfg.Providers.OpenAI.ChatModel)
	assert.Equal(t, "whisper-1", cfg.Providers.OpenAI.TranscribeModel)
	assert.Equal(t, "http://lt:8010", cfg.Providers.LanguageTool.URL)
	assert.Equal(t, 5, cfg.Providers.Retry.MaxAttempts)
	assert.Equal(t, 8, cfg.Pipeline.PolishBatchSize)
	assert.Equal(t, "https://minutes.internal", cfg.Client.ServerURL)
	assert.Equal(t, OutputFormatJSON, cfg.Client.OutputFormat)
}

func TestLoadFile_BadYAML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: [oops"), 0o600))
	_, err := LoadFile(path, true)
	assert.ErrorContains(t, err, "parsing config file")
}

func TestApplyEnv(t *testing.T) {
	isolate(t)
	t.Setenv("MINUTES_LOG_LEVEL", "warn")
	t.Setenv("MINUTES_DATABASE_URL", "postgres://u:p@db:5432/minutes")
	t.Setenv("MINUTES_REDIS_ADDR", "redis:6379")
	t.Setenv("MINUTES_REDIS_DB", "3")
	t.Setenv("MINUTES_WORKERS", "9")
	t.Setenv("MINUTES_BLOB_SIGNING_KEY", "s3cret")
	t.Setenv("MINUTES_LANGUAGETOOL_URL", "http://lt")
	t.Setenv("MINUTES_SERVER_URL", "http://api:9000")
	t.Setenv("MINUTES_TIMEOUT", "45s")
	t.Setenv("MINUTES_OUTPUT", "yaml")

	cfg := DefaultServiceConfig()
	cfg.ApplyEnv()

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "postgres://u:p@db:5432/minutes", cfg.Database.URL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 9, cfg.Workers.Count)
	assert.Equal(t, "s3cret", cfg.Blob.SigningKey)
	assert.Equal(t, "http://lt", cfg.Providers.LanguageTool.URL)
	assert.Equal(t, "http://api:9000", cfg.Client.ServerURL)
	assert.Equal(t, 45*time.Second, cfg.Client.Timeout)
	assert.Equal(t, OutputFormatYAML, cfg.Client.OutputFormat)
}

func TestApplyEnv_IgnoresMalformedNumbers(t *testing.T) {
	isolate(t)
	t.Setenv("MINUTES_WORKERS", "many")
	t.Setenv("MINUTES_TIMEOUT", "soon")

	cfg := DefaultServiceConfig()
	cfg.ApplyEnv()
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.Equal(t, DefaultTimeout, cfg.Client.Timeout)
}

func TestValidate(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		mutate  func(*ServiceConfig)
		wantErr string
	}{
		{"bad level", func(c *ServiceConfig) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *ServiceConfig) { c.Log.Format = "xml" }, "log.format"},
		{"bad store", func(c *ServiceConfig) { c.Backend.Store = "sqlite" }, "backend.store"},
		{"postgres needs host", func(c *ServiceConfig) { c.Database.Host = "" }, "database"},
		{"redis needs addr", func(c *ServiceConfig) { c.Redis.Addr = "" }, "redis.addr"},
		{"bad queue", func(c *ServiceConfig) { c.Backend.Queue = "kafka" }, "backend.queue"},
		{"no http addr", func(c *ServiceConfig) { c.HTTP.Addr = "" }, "http.addr"},
		{"no workers", func(c *ServiceConfig) { c.Workers.Count = 0 }, "workers.count"},
		{"no blob root", func(c *ServiceConfig) { c.Blob.Root = "" }, "blob.root"},
		{"zero batch", func(c *ServiceConfig) { c.Pipeline.PolishBatchSize = 0 }, "pipeline"},
		{"zero timeout", func(c *ServiceConfig) { c.Client.Timeout = 0 }, "client.timeout"},
		{"bad output", func(c *ServiceConfig) { c.Client.OutputFormat = "csv" }, "output_format"},
		{"bad server url", func(c *ServiceConfig) { c.Client.ServerURL = "localhost" }, "server_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultServiceConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("memory backends skip database and redis", func(t *testing.T) {
		cfg := DefaultServiceConfig()
		cfg.Backend = BackendConfig{Store: StoreMemory, Queue: QueueMemory}
		cfg.Database.Host = ""
		cfg.Redis.Addr = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestStageConversions(t *testing.T) {
	isolate(t)
	cfg := DefaultServiceConfig()
	cfg.Pipeline.AudioSegmentSeconds = 20
	cfg.Pipeline.SpeakerHints = 3
	cfg.Pipeline.ContextTokenBudget = 1000
	cfg.Pipeline.TimingGapTolerance = 12
	cfg.Pipeline.DefaultTone = "casual"
	cfg.Pipeline.NarrationMaxChars = 2000
	cfg.Blob.URLTTL = time.Hour

	ex := cfg.Pipeline.Extraction()
	assert.Equal(t, 20.0, ex.SegmentSeconds)
	assert.Equal(t, 3, ex.SpeakerHints)

	dr := cfg.Pipeline.Draft("de")
	assert.Equal(t, 1000, dr.ContextTokenBudget)
	assert.Equal(t, 3, dr.SpeakerCount)
	assert.Equal(t, "de", dr.Language)
	assert.Equal(t, "en", cfg.Pipeline.Draft("").Language)

	assert.Equal(t, 12.0, cfg.Pipeline.Validation().GapTolerance)

	rf := cfg.Pipeline.Refinement()
	assert.Equal(t, 2000, rf.ContextTokenBudget)
	assert.Equal(t, "casual", rf.DefaultTone)

	nr := cfg.Narration()
	assert.Equal(t, 2000, nr.MaxChars)
	assert.Equal(t, time.Hour, nr.URLTTL)
}

func TestLogging(t *testing.T) {
	isolate(t)
	cfg := DefaultServiceConfig()
	cfg.Log.Level = "DEBUG"
	cfg.Log.Format = "json"

	lc := cfg.Logging("minutes-api", os.Stderr)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "minutes-api", lc.ServiceName)
	assert.True(t, lc.JSONFormat)
}

func TestWrite_MasksSecrets(t *testing.T) {
	isolate(t)
	cfg := DefaultServiceConfig()
	cfg.Database.URL = "postgres://minutes:hunter2@db/minutes"
	cfg.Blob.SigningKey = "signing-secret"
	cfg.Providers.OpenAI.APIKey = "sk-live-abc"

	var sb strings.Builder
	require.NoError(t, cfg.Write(&sb))
	out := sb.String()

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "signing-secret")
	assert.NotContains(t, out, "sk-live-abc")
	assert.Equal(t, "postgres://minutes:hunter2@db/minutes", cfg.Database.URL, "original is untouched")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "pipeline")
}

func TestTLSConfig(t *testing.T) {
	isolate(t)
	assert.False(t, TLSConfig{}.Enabled())
	assert.True(t, TLSConfig{SkipVerify: true}.Enabled())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	r := TLSConfig{CACert: "~/certs/ca.crt", ClientKey: "/abs/key.pem"}.Resolved()
	assert.Equal(t, filepath.Join(home, "certs/ca.crt"), r.CACert)
	assert.Equal(t, "/abs/key.pem", r.ClientKey)
}

func TestOutputFormat(t *testing.T) {
	assert.True(t, OutputFormatJSON.IsValid())
	assert.False(t, OutputFormat("").IsValid())
	assert.Equal(t, "yaml", OutputFormatYAML.String())
}
