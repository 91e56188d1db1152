// Package openai adapts the OpenAI API to the provider ports: chat
// completions for the language model, audio transcriptions for
// speech-to-text and audio speech for narration.
package openai

import (
	"context"
	"errors"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

const providerName = "openai"

// Defaults.
const (
	DefaultChatModel       = "gpt-4o-mini"
	DefaultTranscribeModel = "whisper-1"
	DefaultTTSModel        = "gpt-4o-mini-tts"
	DefaultVoice           = "alloy"
	DefaultTimeout         = 60 * time.Second

	// MaxSpeechInput is the API's input limit for one speech request.
	MaxSpeechInput = 4096

	// SpeechSampleRate is the rate of PCM returned by the speech endpoint.
	SpeechSampleRate = 24000
)

// ErrAPIKeyNotSet is returned when no API key was configured.
var ErrAPIKeyNotSet = errors.New("openai: API key not set")

// Config configures the OpenAI adapters.
type Config struct {
	APIKey          string        `yaml:"api_key,omitempty"`
	BaseURL         string        `yaml:"base_url,omitempty"`
	ChatModel       string        `yaml:"chat_model"`
	TranscribeModel string        `yaml:"transcribe_model"`
	TTSModel        string        `yaml:"tts_model"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Client holds the SDK client shared by the LLM, STT and TTS adapters.
type Client struct {
	sdk oai.Client
	cfg Config
}

// NewClient creates a client. SDK-level retries are disabled; callers wrap
// calls in providers.Do.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TranscribeModel == "" {
		cfg.TranscribeModel = DefaultTranscribeModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{sdk: oai.NewClient(opts...), cfg: cfg}, nil
}

// LLM returns the chat completion adapter.
func (c *Client) LLM() *LLM { return &LLM{c: c} }

// STT returns the transcription adapter.
func (c *Client) STT() *STT { return &STT{c: c} }

// TTS returns the speech adapter.
func (c *Client) TTS() *TTS { return &TTS{c: c} }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// classify maps SDK errors onto the engine's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return mnerrors.FromStatus(providerName, apiErr.StatusCode, err)
	}
	return mnerrors.FromStatus(providerName, 0, err)
}
