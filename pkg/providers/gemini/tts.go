package gemini

import (
	"context"

	"google.golang.org/genai"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// TTS is the speech synthesis adapter using AUDIO response modality.
type TTS struct {
	c *Client
}

var _ providers.TextToSpeech = (*TTS)(nil)

func (t *TTS) Name() string       { return providerName }
func (t *TTS) MaxInputChars() int { return MaxSpeechInput }

var prebuiltVoices = map[string]bool{
	"Zephyr": true, "Puck": true, "Charon": true, "Kore": true,
	"Fenrir": true, "Leda": true, "Orus": true, "Aoede": true,
}

// voiceFor maps a requested voice onto a prebuilt Gemini voice. Voice names
// from other providers fall back to the default.
func voiceFor(requested string) string {
	if prebuiltVoices[requested] {
		return requested
	}
	return DefaultVoice
}

// Synthesize returns 24kHz mono 16-bit PCM.
func (t *TTS) Synthesize(ctx context.Context, req providers.SpeechRequest) (*providers.Audio, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceFor(req.Voice)},
			},
		},
	}

	resp, err := t.c.generate(ctx, t.c.cfg.TTSModel, genai.Text(req.Text), cfg)
	if err != nil {
		return nil, err
	}

	var pcm []byte
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.InlineData != nil {
			pcm = append(pcm, p.InlineData.Data...)
		}
	}
	if len(pcm) == 0 {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", "gemini: no audio in response", nil)
	}

	return &providers.Audio{
		PCM:        pcm,
		SampleRate: SpeechSampleRate,
		Channels:   1,
		Provider:   providerName,
		Model:      t.c.cfg.TTSModel,
	}, nil
}
