package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
)

// Call kinds reported to an Observer.
const (
	KindLLM = "llm"
	KindSTT = "stt"
	KindTTS = "tts"
	KindOCR = "ocr"
)

// Observer receives one callback per provider call, after retries.
type Observer interface {
	ObserveProviderCall(kind, provider string, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, time.Duration, error) {}

// ChainOptions configures every fallback chain.
type ChainOptions struct {
	Retry    RetryPolicy
	Observer Observer
	Logger   logging.Logger
}

func (o ChainOptions) withDefaults() ChainOptions {
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = logging.NewNopLogger()
	}
	return o
}

var tracer = otel.Tracer("github.com/otherjamesbrown/minutes/pkg/providers")

// firstSuccess calls each provider in order, each wrapped in the retry
// policy, and returns the first successful result.
func firstSuccess[T any](ctx context.Context, o ChainOptions, kind string, names []string, call func(ctx context.Context, i int) (T, error)) (T, error) {
	var zero T
	if len(names) == 0 {
		return zero, mnerrors.New(mnerrors.CodeProviderUnavailable, "", "no "+kind+" provider configured", nil)
	}

	var errs []error
	for i, name := range names {
		spanCtx, span := tracer.Start(ctx, kind+".call")
		span.SetAttributes(attribute.String("provider", name), attribute.Int("chain.position", i))

		start := time.Now()
		v, err := Do(spanCtx, o.Retry, func(ctx context.Context) (T, error) {
			return call(ctx, i)
		})
		elapsed := time.Since(start)
		o.Observer.ObserveProviderCall(kind, name, elapsed, err)

		if err == nil {
			span.End()
			return v, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()

		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
		if i < len(names)-1 {
			o.Logger.Warn("Provider failed, falling back",
				logging.F("kind", kind),
				logging.F("provider", name),
				logging.F("next", names[i+1]),
				logging.Err(err),
			)
		}
	}
	return zero, fmt.Errorf("all %s providers failed: %w", kind, errors.Join(errs...))
}

// LLMChain is an LLM that falls back through its providers.
type LLMChain struct {
	providers []LLM
	opts      ChainOptions
}

// NewLLMChain builds a chain; nil providers are dropped.
func NewLLMChain(opts ChainOptions, llms ...LLM) *LLMChain {
	c := &LLMChain{opts: opts.withDefaults()}
	for _, l := range llms {
		if l != nil {
			c.providers = append(c.providers, l)
		}
	}
	return c
}

func (c *LLMChain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

func (c *LLMChain) Model() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].Model()
}

// Len returns the number of providers in the chain.
func (c *LLMChain) Len() int { return len(c.providers) }

func (c *LLMChain) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return firstSuccess(ctx, c.opts, KindLLM, names, func(ctx context.Context, i int) (*CompletionResponse, error) {
		return c.providers[i].Complete(ctx, req)
	})
}

// STTChain is a SpeechToText that falls back through its providers.
type STTChain struct {
	providers []SpeechToText
	opts      ChainOptions
}

// NewSTTChain builds a chain; nil providers are dropped.
func NewSTTChain(opts ChainOptions, stts ...SpeechToText) *STTChain {
	c := &STTChain{opts: opts.withDefaults()}
	for _, s := range stts {
		if s != nil {
			c.providers = append(c.providers, s)
		}
	}
	return c
}

func (c *STTChain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

func (c *STTChain) Transcribe(ctx context.Context, in AudioInput) (*Transcription, error) {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return firstSuccess(ctx, c.opts, KindSTT, names, func(ctx context.Context, i int) (*Transcription, error) {
		return c.providers[i].Transcribe(ctx, in)
	})
}

// TTSChain is a TextToSpeech that falls back through its providers.
type TTSChain struct {
	providers []TextToSpeech
	opts      ChainOptions
}

// NewTTSChain builds a chain; nil providers are dropped.
func NewTTSChain(opts ChainOptions, ttss ...TextToSpeech) *TTSChain {
	c := &TTSChain{opts: opts.withDefaults()}
	for _, t := range ttss {
		if t != nil {
			c.providers = append(c.providers, t)
		}
	}
	return c
}

func (c *TTSChain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

// MaxInputChars is the smallest limit in the chain, so any chunk fits every fallback.
func (c *TTSChain) MaxInputChars() int {
	limit := 0
	for _, p := range c.providers {
		if m := p.MaxInputChars(); m > 0 && (limit == 0 || m < limit) {
			limit = m
		}
	}
	return limit
}

func (c *TTSChain) Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error) {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return firstSuccess(ctx, c.opts, KindTTS, names, func(ctx context.Context, i int) (*Audio, error) {
		return c.providers[i].Synthesize(ctx, req)
	})
}

// OCRChain is an OCR that falls back through its providers.
type OCRChain struct {
	providers []OCR
	opts      ChainOptions
}

// NewOCRChain builds a chain; nil providers are dropped.
func NewOCRChain(opts ChainOptions, ocrs ...OCR) *OCRChain {
	c := &OCRChain{opts: opts.withDefaults()}
	for _, o := range ocrs {
		if o != nil {
			c.providers = append(c.providers, o)
		}
	}
	return c
}

func (c *OCRChain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

func (c *OCRChain) Recognize(ctx context.Context, image []byte, mimeType string) (*OCRResult, error) {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return firstSuccess(ctx, c.opts, KindOCR, names, func(ctx context.Context, i int) (*OCRResult, error) {
		return c.providers[i].Recognize(ctx, image, mimeType)
	})
}
