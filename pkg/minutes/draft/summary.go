package draft

import (
	"context"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

const summarySystem = `You summarise meeting transcripts.
Reply with JSON: {"summary":"...","action_items":["..."],"topics":["..."]}`

type summaryReply struct {
	Summary     string   `json:"summary"`
	ActionItems []string `json:"action_items"`
	Topics      []string `json:"topics"`
}

// summarize fills the draft summary. Failures leave it empty.
func (d *Drafter) summarize(ctx context.Context, out *minutes.DraftTranscript) {
	if d.llm == nil {
		return
	}
	var reply summaryReply
	resp, err := providers.CompleteJSON(ctx, d.llm, providers.CompletionRequest{
		Purpose:     "draft.summary",
		System:      summarySystem,
		Prompt:      d.tokens.Truncate(minutes.FullText(out.Segments), d.cfg.ContextTokenBudget*2),
		Temperature: 0.2,
	}, &reply)
	if err != nil {
		d.logger.Warn("Draft summary failed", logging.Err(err))
		return
	}
	out.Summary = reply.Summary
	out.ActionItems = reply.ActionItems
	out.Topics = reply.Topics
	out.Models = appendModel(out.Models, minutes.ModelRef{Purpose: "summary", Provider: resp.Provider, Model: resp.Model})
}
