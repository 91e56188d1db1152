package openai

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/shared"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// LLM is the chat completions adapter.
type LLM struct {
	c *Client
}

var _ providers.LLM = (*LLM)(nil)

func (l *LLM) Name() string  { return providerName }
func (l *LLM) Model() string { return l.c.cfg.ChatModel }

// Complete sends a single-turn chat completion.
func (l *LLM) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	ctx, cancel := l.c.withTimeout(ctx)
	defer cancel()

	var msgs []oai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, oai.SystemMessage(req.System))
	}
	msgs = append(msgs, oai.UserMessage(req.Prompt))

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(l.c.cfg.ChatModel),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		}
	}

	completion, err := l.c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, mnerrors.New(mnerrors.CodeParseError, "", fmt.Sprintf("%s: no completion choices returned", req.Purpose), nil)
	}

	return &providers.CompletionResponse{
		Content:      completion.Choices[0].Message.Content,
		Provider:     providerName,
		Model:        completion.Model,
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}, nil
}
