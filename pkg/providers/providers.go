// Package providers defines the ports the minutes engine uses to reach
// external AI services (language models, speech-to-text, text-to-speech,
// OCR and grammar checking) together with the retry wrapper and fallback
// chains applied uniformly to every call.
package providers

import "context"

// CompletionRequest is a single-turn language model call.
type CompletionRequest struct {
	// Purpose labels the call in logs, metrics and provenance.
	Purpose     string
	System      string
	Prompt      string
	JSONMode    bool
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the model output.
type CompletionResponse struct {
	Content      string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// LLM is a language model service.
type LLM interface {
	Name() string
	Model() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// AudioInput is a recording sent for transcription.
type AudioInput struct {
	Data     []byte
	Filename string
	MIMEType string
	Language string
}

// TimedText is one time-aligned piece of a transcription.
type TimedText struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
	Speaker    string
}

// Transcription is the output of a speech-to-text call.
type Transcription struct {
	Language string
	Duration float64
	Segments []TimedText
	Provider string
	Model    string
}

// SpeechToText is a transcription service.
type SpeechToText interface {
	Name() string
	Transcribe(ctx context.Context, in AudioInput) (*Transcription, error)
}

// SpeechRequest is a text-to-speech call.
type SpeechRequest struct {
	Text  string
	Voice string
}

// Audio is synthesized speech as signed 16-bit little-endian PCM.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Provider   string
	Model      string
}

// TextToSpeech is a speech synthesis service.
type TextToSpeech interface {
	Name() string
	// MaxInputChars is the longest text accepted in one request.
	MaxInputChars() int
	Synthesize(ctx context.Context, req SpeechRequest) (*Audio, error)
}

// OCRResult is recognised image text.
type OCRResult struct {
	Text       string
	Confidence float64
	Provider   string
}

// OCR is an image text recognition service.
type OCR interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mimeType string) (*OCRResult, error)
}

// GrammarMatch is one finding from a grammar checker.
type GrammarMatch struct {
	Offset       int
	Length       int
	Message      string
	RuleID       string
	Category     string
	IssueType    string
	Replacements []string
}

// GrammarChecker lints text.
type GrammarChecker interface {
	Check(ctx context.Context, text, language string) ([]GrammarMatch, error)
}
