package gemini

import (
	"context"

	"google.golang.org/genai"

	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// LLM is the text generation adapter.
type LLM struct {
	c *Client
}

var _ providers.LLM = (*LLM)(nil)

func (l *LLM) Name() string  { return providerName }
func (l *LLM) Model() string { return l.c.cfg.ChatModel }

func (l *LLM) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := l.c.generate(ctx, l.c.cfg.ChatModel, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, err
	}

	out := &providers.CompletionResponse{
		Content:  responseText(resp),
		Provider: providerName,
		Model:    l.c.cfg.ChatModel,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
