package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

const enhanceSystem = `You correct meeting transcripts produced by speech recognition.
Use the supporting documents only to fix misheard names, terms and numbers.
Do not add, drop, merge or reorder segments. Keep each segment's id.
Reply with JSON: {"segments":[{"id":"...","text":"..."}]}`

type segmentText struct {
	ID      string `json:"id"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text"`
}

type enhanceReply struct {
	Segments []segmentText `json:"segments"`
}

// enhance corrects segment text using document context. Timing and speakers
// are never taken from the model.
func (d *Drafter) enhance(ctx context.Context, out *minutes.DraftTranscript, docText string) {
	if d.llm == nil || len(out.Segments) == 0 {
		return
	}
	docContext := d.tokens.Truncate(docText, d.cfg.ContextTokenBudget)

	in := make([]segmentText, len(out.Segments))
	for i, s := range out.Segments {
		in[i] = segmentText{ID: s.ID, Speaker: s.Speaker, Text: s.Text}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		d.logger.Warn("Enhancement skipped", logging.Err(err))
		return
	}

	var reply enhanceReply
	resp, err := providers.CompleteJSON(ctx, d.llm, providers.CompletionRequest{
		Purpose:     "draft.enhance",
		System:      enhanceSystem,
		Prompt:      fmt.Sprintf("Supporting documents:\n%s\n\nTranscript segments:\n%s", docContext, payload),
		Temperature: 0.1,
	}, &reply)
	if err != nil {
		d.logger.Warn("Context enhancement failed, keeping transcript", logging.Err(err))
		return
	}

	if float64(len(reply.Segments)) < d.cfg.MinEnhancedRatio*float64(len(out.Segments)) {
		perr := mnerrors.New(mnerrors.CodePartialEnhancement, minutes.StageDraft,
			fmt.Sprintf("enhancement returned %d of %d segments", len(reply.Segments), len(out.Segments)), nil)
		d.logger.Warn("Partial enhancement discarded", logging.Err(perr))
		return
	}

	byID := make(map[string]string, len(reply.Segments))
	for _, s := range reply.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			byID[s.ID] = t
		}
	}
	changed := 0
	for i := range out.Segments {
		if t, ok := byID[out.Segments[i].ID]; ok && t != out.Segments[i].Text {
			out.Segments[i].Text = t
			changed++
		}
	}
	out.Enhanced = true
	out.Models = appendModel(out.Models, minutes.ModelRef{Purpose: "enhancement", Provider: resp.Provider, Model: resp.Model})
	d.logger.Debug("Transcript enhanced", logging.F("changed", changed))
}
