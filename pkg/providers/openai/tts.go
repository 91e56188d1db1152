package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go/v3"

	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// TTS is the speech synthesis adapter. It requests raw PCM so chunks can be
// concatenated without decoding.
type TTS struct {
	c *Client
}

var _ providers.TextToSpeech = (*TTS)(nil)

func (t *TTS) Name() string       { return providerName }
func (t *TTS) MaxInputChars() int { return MaxSpeechInput }

// Synthesize returns 24kHz mono 16-bit PCM.
func (t *TTS) Synthesize(ctx context.Context, req providers.SpeechRequest) (*providers.Audio, error) {
	ctx, cancel := t.c.withTimeout(ctx)
	defer cancel()

	voice := req.Voice
	if voice == "" {
		voice = DefaultVoice
	}

	resp, err := t.c.sdk.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          req.Text,
		Model:          oai.SpeechModel(t.c.cfg.TTSModel),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(fmt.Errorf("reading speech body: %w", err))
	}

	return &providers.Audio{
		PCM:        pcm,
		SampleRate: SpeechSampleRate,
		Channels:   1,
		Provider:   providerName,
		Model:      t.c.cfg.TTSModel,
	}, nil
}
