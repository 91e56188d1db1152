package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strings"

	oai "github.com/openai/openai-go/v3"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// STT is the audio transcription adapter.
type STT struct {
	c *Client
}

var _ providers.SpeechToText = (*STT)(nil)

func (s *STT) Name() string { return providerName }

// verboseTranscript is the verbose_json response body.
type verboseTranscript struct {
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe returns segment-level timings for a recording.
func (s *STT) Transcribe(ctx context.Context, in providers.AudioInput) (*providers.Transcription, error) {
	ctx, cancel := s.c.withTimeout(ctx)
	defer cancel()

	params := oai.AudioTranscriptionNewParams{
		File:                   oai.File(bytes.NewReader(in.Data), in.Filename, in.MIMEType),
		Model:                  oai.AudioModel(s.c.cfg.TranscribeModel),
		ResponseFormat:         oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"segment"},
	}
	if in.Language != "" {
		params.Language = oai.String(in.Language)
	}

	resp, err := s.c.sdk.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var body verboseTranscript
	if err := json.Unmarshal([]byte(resp.RawJSON()), &body); err != nil {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", "openai: transcription response", err)
	}
	return toTranscription(body, s.c.cfg.TranscribeModel), nil
}

func toTranscription(body verboseTranscript, model string) *providers.Transcription {
	out := &providers.Transcription{
		Language: body.Language,
		Duration: body.Duration,
		Provider: providerName,
		Model:    model,
	}
	for _, seg := range body.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, providers.TimedText{
			Start:      seg.Start,
			End:        seg.End,
			Text:       text,
			Confidence: segmentConfidence(seg.AvgLogprob, seg.NoSpeechProb),
		})
	}
	// Models without segment timestamps return text only.
	if len(out.Segments) == 0 && strings.TrimSpace(body.Text) != "" {
		end := body.Duration
		if end <= 0 {
			end = 1
		}
		out.Segments = []providers.TimedText{{Start: 0, End: end, Text: strings.TrimSpace(body.Text), Confidence: 0.8}}
	}
	return out
}

func segmentConfidence(avgLogprob, noSpeech float64) float64 {
	if avgLogprob == 0 && noSpeech == 0 {
		return 0.85
	}
	c := math.Exp(avgLogprob) * (1 - noSpeech)
	return math.Max(0, math.Min(1, c))
}
