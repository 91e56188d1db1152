package refinement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

const polishSystem = `You copy-edit meeting transcript segments into clean written prose in a %s tone.
Remove false starts and fillers; keep meaning, names and numbers. Do not merge,
split or drop segments and keep every id.
Reply with JSON: {"segments":[{"id":"...","text":"..."}]}`

type polishSegment struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type polishReply struct {
	Segments []polishSegment `json:"segments"`
}

// polish rewrites segment text batch by batch. A batch that fails or comes
// back short keeps its input. Speakers and timings always come from segs.
func (r *Refiner) polish(ctx context.Context, segs []minutes.TranscriptSegment, tone string) ([]minutes.TranscriptSegment, *minutes.ModelRef) {
	out := minutes.CloneSegments(segs)
	var model *minutes.ModelRef
	system := fmt.Sprintf(polishSystem, tone)

	for start := 0; start < len(out); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(out))
		batch := out[start:end]

		in := make([]polishSegment, len(batch))
		for i, s := range batch {
			in[i] = polishSegment{ID: s.ID, Text: s.Text}
		}
		payload, err := json.Marshal(in)
		if err != nil {
			continue
		}

		var reply polishReply
		resp, err := providers.CompleteJSON(ctx, r.llm, providers.CompletionRequest{
			Purpose:     "refine.polish",
			System:      system,
			Prompt:      string(payload),
			Temperature: 0.3,
		}, &reply)
		if err != nil {
			r.logger.Warn("Polish batch failed, keeping original", logging.F("batch_start", start), logging.Err(err))
			continue
		}
		if !batchAccepted(len(reply.Segments), len(batch), r.cfg.MinBatchRatio) {
			r.logger.Warn("Polish batch came back short, keeping original",
				logging.F("batch_start", start),
				logging.F("returned", len(reply.Segments)),
				logging.F("sent", len(batch)))
			continue
		}

		byID := make(map[string]string, len(reply.Segments))
		for _, s := range reply.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				byID[s.ID] = t
			}
		}
		for i := range batch {
			if t, ok := byID[batch[i].ID]; ok {
				batch[i].Text = t
			}
		}
		if model == nil {
			model = &minutes.ModelRef{Purpose: "polish", Provider: resp.Provider, Model: resp.Model}
		}
	}
	return out, model
}

// batchAccepted reports whether a reply kept enough of the batch.
func batchAccepted(returned, sent int, ratio float64) bool {
	return float64(returned) >= ratio*float64(sent)
}
