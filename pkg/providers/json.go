package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

// jsonReasks is how many times a malformed JSON reply is asked for again.
const jsonReasks = 1

// CompleteJSON runs req in JSON mode and decodes the reply into out. A reply
// that does not decode is requested once more before giving up with a parse error.
func CompleteJSON(ctx context.Context, llm LLM, req CompletionRequest, out any) (*CompletionResponse, error) {
	req.JSONMode = true
	var lastErr error
	for attempt := 0; attempt <= jsonReasks; attempt++ {
		resp, err := llm.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(StripCodeFence(resp.Content)), out); err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, mnerrors.New(mnerrors.CodeParseError, "", fmt.Sprintf("%s: model returned invalid JSON", req.Purpose), lastErr)
}

// StripCodeFence removes a surrounding markdown code fence some models add
// even in JSON mode.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
