// Package gemini adapts the Gemini API to the provider ports. It backs the
// OpenAI adapters as the fallback language model and speech synthesizer and
// serves as the OCR engine for image inputs.
package gemini

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

const providerName = "gemini"

// Defaults.
const (
	DefaultChatModel = "gemini-2.0-flash"
	DefaultTTSModel  = "gemini-2.5-flash-preview-tts"
	DefaultOCRModel  = "gemini-2.0-flash"
	DefaultVoice     = "Kore"
	DefaultTimeout   = 60 * time.Second

	// MaxSpeechInput keeps one TTS request well inside the model's context.
	MaxSpeechInput = 4000

	// SpeechSampleRate is the rate of PCM returned for AUDIO responses.
	SpeechSampleRate = 24000
)

// ErrAPIKeyNotSet is returned when no API key was configured.
var ErrAPIKeyNotSet = errors.New("gemini: API key not set")

// Config configures the Gemini adapters.
type Config struct {
	APIKey    string        `yaml:"api_key,omitempty"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	ChatModel string        `yaml:"chat_model"`
	TTSModel  string        `yaml:"tts_model"`
	OCRModel  string        `yaml:"ocr_model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Client holds the SDK client shared by the adapters.
type Client struct {
	sdk *genai.Client
	cfg Config
}

// NewClient creates a Gemini API client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.OCRModel == "" {
		cfg.OCRModel = DefaultOCRModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{sdk: sdk, cfg: cfg}, nil
}

// LLM returns the text generation adapter.
func (c *Client) LLM() *LLM { return &LLM{c: c} }

// TTS returns the speech adapter.
func (c *Client) TTS() *TTS { return &TTS{c: c} }

// OCR returns the image text adapter.
func (c *Client) OCR() *OCR { return &OCR{c: c} }

func (c *Client) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	resp, err := c.sdk.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", "gemini: empty response", nil)
	}
	return resp, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return mnerrors.FromStatus(providerName, apiErr.Code, err)
	}
	return mnerrors.FromStatus(providerName, 0, err)
}
