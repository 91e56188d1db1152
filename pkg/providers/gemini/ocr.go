package gemini

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// OCR recognises image text with a vision model.
type OCR struct {
	c *Client
}

var _ providers.OCR = (*OCR)(nil)

func (o *OCR) Name() string { return providerName }

const ocrPrompt = `Transcribe all legible text in this image exactly as written, in reading order.
Respond with JSON: {"text": "<the text>", "word_confidences": [<0..1 per word>]}.
Use an empty string when there is no text.`

type ocrReply struct {
	Text            string    `json:"text"`
	WordConfidences []float64 `json:"word_confidences"`
}

func (o *OCR) Recognize(ctx context.Context, image []byte, mimeType string) (*providers.OCRResult, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: image}},
			{Text: ocrPrompt},
		},
	}}
	cfg := &genai.GenerateContentConfig{ResponseMIMEType: "application/json"}

	resp, err := o.c.generate(ctx, o.c.cfg.OCRModel, contents, cfg)
	if err != nil {
		return nil, err
	}

	var reply ocrReply
	if err := json.Unmarshal([]byte(providers.StripCodeFence(responseText(resp))), &reply); err != nil {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", "gemini: OCR response", err)
	}
	return &providers.OCRResult{
		Text:       reply.Text,
		Confidence: meanConfidence(reply.WordConfidences, reply.Text),
		Provider:   providerName,
	}, nil
}

// meanConfidence averages per-word confidences. Without them a recognised
// text gets a conservative default.
func meanConfidence(words []float64, text string) float64 {
	if len(words) == 0 {
		if text == "" {
			return 0
		}
		return 0.7
	}
	var sum float64
	for _, w := range words {
		if w < 0 {
			w = 0
		}
		if w > 1 {
			w = 1
		}
		sum += w
	}
	return sum / float64(len(words))
}
