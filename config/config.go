// Package config loads the minutes service configuration from YAML and the
// environment.
//
// Sources, later overriding earlier:
//  1. DefaultServiceConfig
//  2. $MINUTES_CONFIG, or ~/.minutes/config.yaml ($MINUTES_HOME/config.yaml)
//  3. MINUTES_* environment variables
package config

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/minutes/pkg/db"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes/draft"
	"github.com/otherjamesbrown/minutes/pkg/minutes/extraction"
	"github.com/otherjamesbrown/minutes/pkg/minutes/narration"
	"github.com/otherjamesbrown/minutes/pkg/minutes/queues"
	"github.com/otherjamesbrown/minutes/pkg/minutes/refinement"
	"github.com/otherjamesbrown/minutes/pkg/minutes/validation"
	"github.com/otherjamesbrown/minutes/pkg/minutes/workers"
	"github.com/otherjamesbrown/minutes/pkg/providers"
	"github.com/otherjamesbrown/minutes/pkg/providers/gemini"
	"github.com/otherjamesbrown/minutes/pkg/providers/languagetool"
	"github.com/otherjamesbrown/minutes/pkg/providers/openai"
)

// OutputFormat is how CLI commands print results.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
	OutputFormatYAML OutputFormat = "yaml"
)

// IsValid reports whether f is a known format.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	}
	return false
}

func (f OutputFormat) String() string { return string(f) }

const (
	DefaultConfigDir  = ".minutes"
	DefaultConfigFile = "config.yaml"
	DefaultServerURL  = "http://localhost:8080"
	DefaultHTTPAddr   = ":8080"
	DefaultTimeout    = 2 * time.Minute
)

// Backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
	QueueRedis    = "redis"
	QueueMemory   = "memory"
)

// LogConfig selects level and output format.
type LogConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

// RedisConfig addresses the queue and event broker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// BackendConfig picks the job store and queue implementations.
type BackendConfig struct {
	Store string `yaml:"store"`
	Queue string `yaml:"queue"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	Metrics           bool          `yaml:"metrics"`
}

// BlobConfig configures the local blob store. SigningKey may instead come
// from the credential store.
type BlobConfig struct {
	Root       string        `yaml:"root"`
	BaseURL    string        `yaml:"base_url"`
	SigningKey string        `yaml:"signing_key,omitempty"`
	URLTTL     time.Duration `yaml:"url_ttl"`
}

// ProvidersConfig holds the AI and grammar backends. Empty API keys are
// resolved through the credentials package.
type ProvidersConfig struct {
	OpenAI       openai.Config         `yaml:"openai"`
	Gemini       gemini.Config         `yaml:"gemini"`
	LanguageTool languagetool.Config   `yaml:"languagetool"`
	Retry        providers.RetryPolicy `yaml:"retry"`
}

// PipelineConfig tunes the stages.
type PipelineConfig struct {
	AudioSegmentSeconds   float64 `yaml:"audio_segment_seconds"`
	SpeakerHints          int     `yaml:"speaker_hints"`
	ExtractionConcurrency int     `yaml:"extraction_concurrency"`
	FFProbePath           string  `yaml:"ffprobe_path,omitempty"`
	PolishBatchSize       int     `yaml:"polish_batch_size"`
	ContextTokenBudget    int     `yaml:"context_token_budget"`
	TimingGapTolerance    float64 `yaml:"timing_gap_tolerance"`
	DictionaryPath        string  `yaml:"dictionary_path,omitempty"`
	DefaultVoice          string  `yaml:"default_voice"`
	DefaultTone           string  `yaml:"default_tone"`
	NarrationMaxChars     int     `yaml:"narration_max_chars"`
}

// TLSConfig holds client certificates for an API behind mTLS.
type TLSConfig struct {
	CACert     string `yaml:"ca_cert,omitempty"`
	ClientCert string `yaml:"client_cert,omitempty"`
	ClientKey  string `yaml:"client_key,omitempty"`
	SkipVerify bool   `yaml:"skip_verify,omitempty"`
}

// Enabled reports whether any TLS setting is present.
func (c TLSConfig) Enabled() bool {
	return c.CACert != "" || c.ClientCert != "" || c.SkipVerify
}

// Resolved returns c with ~ expanded in every path.
func (c TLSConfig) Resolved() TLSConfig {
	c.CACert = expandPath(c.CACert)
	c.ClientCert = expandPath(c.ClientCert)
	c.ClientKey = expandPath(c.ClientKey)
	return c
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}

// ClientConfig is used by the CLI commands that call the API.
type ClientConfig struct {
	ServerURL    string        `yaml:"server_url"`
	Timeout      time.Duration `yaml:"timeout"`
	OutputFormat OutputFormat  `yaml:"output_format"`
	TLS          TLSConfig     `yaml:"tls,omitempty"`
}

// ServiceConfig is the whole configuration file.
type ServiceConfig struct {
	Log       LogConfig       `yaml:"log"`
	Database  db.Config       `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Backend   BackendConfig   `yaml:"backend"`
	Queue     queues.Config   `yaml:"queue"`
	Workers   workers.Config  `yaml:"workers"`
	HTTP      HTTPConfig      `yaml:"http"`
	Blob      BlobConfig      `yaml:"blob"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Client    ClientConfig    `yaml:"client"`
}

// DefaultServiceConfig returns a configuration that runs against local
// Postgres and Redis.
func DefaultServiceConfig() *ServiceConfig {
	dir, err := Dir()
	if err != nil {
		dir = DefaultConfigDir
	}
	ex, dr, rf, vd := extraction.DefaultConfig(), draft.DefaultConfig(), refinement.DefaultConfig(), validation.DefaultConfig()
	return &ServiceConfig{
		Log:      LogConfig{Level: "info", Format: "console", Environment: "development"},
		Database: *db.DefaultConfig(),
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Backend:  BackendConfig{Store: StorePostgres, Queue: QueueRedis},
		Queue:    queues.DefaultConfig(),
		Workers:  workers.DefaultConfig(),
		HTTP: HTTPConfig{
			Addr:              DefaultHTTPAddr,
			ReadHeaderTimeout: 10 * time.Second,
			RequestTimeout:    60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			MaxUploadBytes:    512 << 20,
			Metrics:           true,
		},
		Blob: BlobConfig{
			Root:    filepath.Join(dir, "blobs"),
			BaseURL: DefaultServerURL,
			URLTTL:  narration.DefaultConfig().URLTTL,
		},
		Providers: ProvidersConfig{
			OpenAI: openai.Config{
				ChatModel:       openai.DefaultChatModel,
				TranscribeModel: openai.DefaultTranscribeModel,
				TTSModel:        openai.DefaultTTSModel,
				Timeout:         openai.DefaultTimeout,
			},
			Gemini: gemini.Config{
				ChatModel: gemini.DefaultChatModel,
				TTSModel:  gemini.DefaultTTSModel,
				OCRModel:  gemini.DefaultOCRModel,
				Timeout:   gemini.DefaultTimeout,
			},
			LanguageTool: languagetool.Config{Language: "en-US", Timeout: 15 * time.Second},
			Retry:        providers.DefaultRetryPolicy(),
		},
		Pipeline: PipelineConfig{
			AudioSegmentSeconds:   ex.SegmentSeconds,
			SpeakerHints:          ex.SpeakerHints,
			ExtractionConcurrency: ex.Concurrency,
			PolishBatchSize:       rf.BatchSize,
			ContextTokenBudget:    dr.ContextTokenBudget,
			TimingGapTolerance:    vd.GapTolerance,
			DefaultVoice:          openai.DefaultVoice,
			DefaultTone:           rf.DefaultTone,
			NarrationMaxChars:     openai.MaxSpeechInput,
		},
		Client: ClientConfig{
			ServerURL:    DefaultServerURL,
			Timeout:      DefaultTimeout,
			OutputFormat: OutputFormatText,
		},
	}
}

// Dir returns $MINUTES_HOME, or ~/.minutes.
func Dir() (string, error) {
	if dir := os.Getenv("MINUTES_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// Path returns $MINUTES_CONFIG, or config.yaml under Dir.
func Path() (string, error) {
	if p := os.Getenv("MINUTES_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load reads the file at Path if it exists, applies the environment and
// validates the result.
func Load() (*ServiceConfig, error) {
	p, err := Path()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	return LoadFile(p, os.Getenv("MINUTES_CONFIG") != "")
}

// LoadFile is Load for an explicit path. A missing file is an error only
// when required is set.
func LoadFile(path string, required bool) (*ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	case os.IsNotExist(err) && !required:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays MINUTES_* variables.
func (c *ServiceConfig) ApplyEnv() {
	setString(&c.Log.Level, "MINUTES_LOG_LEVEL")
	setString(&c.Log.Format, "MINUTES_LOG_FORMAT")
	setString(&c.Log.Environment, "MINUTES_ENV")

	c.Database.ApplyEnv()

	setString(&c.Redis.Addr, "MINUTES_REDIS_ADDR")
	setString(&c.Redis.Password, "MINUTES_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "MINUTES_REDIS_DB")

	setString(&c.Backend.Store, "MINUTES_STORE")
	setString(&c.Backend.Queue, "MINUTES_QUEUE")
	setString(&c.Queue.Name, "MINUTES_QUEUE_NAME")
	setInt(&c.Workers.Count, "MINUTES_WORKERS")

	setString(&c.HTTP.Addr, "MINUTES_HTTP_ADDR")

	setString(&c.Blob.Root, "MINUTES_BLOB_ROOT")
	setString(&c.Blob.BaseURL, "MINUTES_BLOB_BASE_URL")
	setString(&c.Blob.SigningKey, "MINUTES_BLOB_SIGNING_KEY")

	setString(&c.Providers.OpenAI.BaseURL, "MINUTES_OPENAI_BASE_URL")
	setString(&c.Providers.Gemini.BaseURL, "MINUTES_GEMINI_BASE_URL")
	setString(&c.Providers.LanguageTool.URL, "MINUTES_LANGUAGETOOL_URL")

	setString(&c.Pipeline.DictionaryPath, "MINUTES_DICTIONARY")
	setString(&c.Pipeline.DefaultVoice, "MINUTES_DEFAULT_VOICE")

	setString(&c.Client.ServerURL, "MINUTES_SERVER_URL")
	if v := os.Getenv("MINUTES_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Client.Timeout = d
		}
	}
	setString(&c.Client.TLS.CACert, "MINUTES_TLS_CA_CERT")
	setString(&c.Client.TLS.ClientCert, "MINUTES_TLS_CLIENT_CERT")
	setString(&c.Client.TLS.ClientKey, "MINUTES_TLS_CLIENT_KEY")
	if v := os.Getenv("MINUTES_OUTPUT"); v != "" {
		c.Client.OutputFormat = OutputFormat(v)
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the settings every command relies on.
func (c *ServiceConfig) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format: %q (must be console or json)", c.Log.Format)
	}

	switch c.Backend.Store {
	case StorePostgres:
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("invalid backend.store: %q", c.Backend.Store)
	}
	switch c.Backend.Queue {
	case QueueRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis queue")
		}
	case QueueMemory:
	default:
		return fmt.Errorf("invalid backend.queue: %q", c.Backend.Queue)
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1")
	}
	if c.Blob.Root == "" {
		return fmt.Errorf("blob.root is required")
	}
	if c.Pipeline.AudioSegmentSeconds <= 0 || c.Pipeline.PolishBatchSize <= 0 || c.Pipeline.ContextTokenBudget <= 0 {
		return fmt.Errorf("pipeline: audio_segment_seconds, polish_batch_size and context_token_budget must be positive")
	}

	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client.timeout must be positive")
	}
	if !c.Client.OutputFormat.IsValid() {
		return fmt.Errorf("invalid client.output_format: %q (must be text, json, or yaml)", c.Client.OutputFormat)
	}
	if u, err := url.Parse(c.Client.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid client.server_url: %q", c.Client.ServerURL)
	}
	return nil
}

// Logging builds the logger configuration for a process.
func (c *ServiceConfig) Logging(service string, out io.Writer) *logging.Config {
	return &logging.Config{
		Level:       logging.Level(strings.ToLower(c.Log.Level)),
		ServiceName: service,
		Environment: c.Log.Environment,
		JSONFormat:  c.Log.Format == "json",
		Output:      out,
	}
}

// Extraction returns the extraction stage settings.
func (p PipelineConfig) Extraction() extraction.Config {
	cfg := extraction.DefaultConfig()
	cfg.SegmentSeconds = p.AudioSegmentSeconds
	cfg.SpeakerHints = p.SpeakerHints
	cfg.Concurrency = p.ExtractionConcurrency
	cfg.FFProbePath = p.FFProbePath
	return cfg
}

// Draft returns the draft stage settings.
func (p PipelineConfig) Draft(language string) draft.Config {
	cfg := draft.DefaultConfig()
	cfg.ContextTokenBudget = p.ContextTokenBudget
	cfg.SpeakerCount = p.SpeakerHints
	if language != "" {
		cfg.Language = language
	}
	return cfg
}

// Validation returns the validation stage settings.
func (p PipelineConfig) Validation() validation.Config {
	cfg := validation.DefaultConfig()
	cfg.GapTolerance = p.TimingGapTolerance
	return cfg
}

// Refinement returns the refinement stage settings. The refinement prompt
// carries twice the draft context budget.
func (p PipelineConfig) Refinement() refinement.Config {
	cfg := refinement.DefaultConfig()
	cfg.BatchSize = p.PolishBatchSize
	cfg.ContextTokenBudget = 2 * p.ContextTokenBudget
	if p.DefaultTone != "" {
		cfg.DefaultTone = p.DefaultTone
	}
	return cfg
}

// Narration returns the narration stage settings.
func (c *ServiceConfig) Narration() narration.Config {
	cfg := narration.DefaultConfig()
	cfg.MaxChars = c.Pipeline.NarrationMaxChars
	cfg.DefaultVoice = c.Pipeline.DefaultVoice
	if c.Blob.URLTTL > 0 {
		cfg.URLTTL = c.Blob.URLTTL
	}
	return cfg
}

// Write prints c as YAML with secrets masked.
func (c *ServiceConfig) Write(w io.Writer) error {
	cp := *c
	cp.Database.Password = mask(cp.Database.Password)
	cp.Database.URL = maskURL(cp.Database.URL)
	cp.Redis.Password = mask(cp.Redis.Password)
	cp.Blob.SigningKey = mask(cp.Blob.SigningKey)
	cp.Providers.OpenAI.APIKey = mask(cp.Providers.OpenAI.APIKey)
	cp.Providers.Gemini.APIKey = mask(cp.Providers.Gemini.APIKey)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&cp); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func maskURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
