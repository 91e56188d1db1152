package draft

import (
	"context"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/extraction"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

const turnsSystem = `You turn meeting documents (notes, agendas, chat exports) into a
plausible spoken dialogue of the meeting. Attribute turns to the people named
in the documents where possible, otherwise use "Speaker 1", "Speaker 2".
Reply with JSON: {"turns":[{"speaker":"...","text":"..."}]}`

type turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type turnsReply struct {
	Turns []turn `json:"turns"`
}

// fromDocuments builds a transcript from document text alone.
func (d *Drafter) fromDocuments(ctx context.Context, text string, out *minutes.DraftTranscript) {
	if d.llm != nil {
		var reply turnsReply
		resp, err := providers.CompleteJSON(ctx, d.llm, providers.CompletionRequest{
			Purpose:     "draft.turns",
			System:      turnsSystem,
			Prompt:      d.tokens.Truncate(text, d.cfg.ContextTokenBudget*2),
			Temperature: 0.3,
		}, &reply)
		if err == nil && len(nonEmpty(reply.Turns)) > 0 {
			out.Segments = d.timeTurns(nonEmpty(reply.Turns), ConfidenceDocumentTurns)
			out.Models = appendModel(out.Models, minutes.ModelRef{Purpose: "turns", Provider: resp.Provider, Model: resp.Model})
			return
		}
		if err == nil {
			d.logger.Warn("Turn conversion returned no turns, using paragraphs")
		} else {
			d.logger.Warn("Turn conversion failed, using paragraphs", logging.Err(err))
		}
	}

	var turns []turn
	for _, p := range extraction.Paragraphs(text) {
		turns = append(turns, turn{Speaker: DocumentSpeaker, Text: p})
	}
	out.Segments = d.timeTurns(turns, ConfidenceParagraphs)
}

// timeTurns assigns synthetic timings at the configured speaking rate.
func (d *Drafter) timeTurns(turns []turn, confidence float64) []minutes.TranscriptSegment {
	segs := make([]minutes.TranscriptSegment, 0, len(turns))
	var cursor float64
	for i, t := range turns {
		words := len(strings.Fields(t.Text))
		dur := float64(words) / d.cfg.WordsPerMinute * 60
		if dur <= 0 {
			dur = 0.5
		}
		if i > 0 {
			cursor += d.cfg.TurnPause
		}
		speaker := strings.TrimSpace(t.Speaker)
		if speaker == "" {
			speaker = DocumentSpeaker
		}
		segs = append(segs, minutes.TranscriptSegment{
			ID:         minutes.SegmentID(i),
			Speaker:    speaker,
			Start:      cursor,
			End:        cursor + dur,
			Text:       strings.TrimSpace(t.Text),
			Confidence: confidence,
		})
		cursor += dur
	}
	return segs
}

func nonEmpty(turns []turn) []turn {
	out := turns[:0:0]
	for _, t := range turns {
		if strings.TrimSpace(t.Text) != "" {
			out = append(out, t)
		}
	}
	return out
}
