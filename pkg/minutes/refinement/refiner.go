// Package refinement turns a validated draft into final meeting minutes:
// human edits and accepted corrections are applied, structured content is
// generated, and the transcript is polished.
package refinement

import (
	"context"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/minutes/pkg/buildinfo"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// Correction thresholds.
const (
	LocaleApplyConfidence  = 0.8
	GrammarApplyConfidence = 0.9
	CorrectionBoost        = 0.05
)

// Config tunes the refiner.
type Config struct {
	BatchSize          int
	MinBatchRatio      float64
	DefaultTone        string
	ContextTokenBudget int
}

// DefaultConfig returns the refiner defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:          5,
		MinBatchRatio:      0.8,
		DefaultTone:        "professional",
		ContextTokenBudget: 6000,
	}
}

// Input is everything refinement reads.
type Input struct {
	Draft      *minutes.DraftTranscript
	Validation *minutes.ValidationReport
	HumanEdits []minutes.TranscriptSegment
	Review     minutes.ReviewState
	Config     minutes.ProcessingConfig
}

// Refiner runs the refinement stage.
type Refiner struct {
	cfg    Config
	llm    providers.LLM
	tokens *providers.TokenCounter
	logger logging.Logger
	now    func() time.Time
}

// New builds a Refiner.
func New(cfg Config, llm providers.LLM, logger logging.Logger) *Refiner {
	d := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = d.BatchSize
	}
	if cfg.MinBatchRatio <= 0 {
		cfg.MinBatchRatio = d.MinBatchRatio
	}
	if cfg.DefaultTone == "" {
		cfg.DefaultTone = d.DefaultTone
	}
	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = d.ContextTokenBudget
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Refiner{
		cfg:    cfg,
		llm:    llm,
		tokens: providers.NewTokenCounter(),
		logger: logger.With(logging.F("component", "refinement")),
		now:    time.Now,
	}
}

// Refine produces the final minutes.
func (r *Refiner) Refine(ctx context.Context, in Input) (*minutes.FinalMinutes, error) {
	if in.Draft == nil {
		return nil, mnerrors.New(mnerrors.CodeRefinement, minutes.StageRefinement, "no draft transcript", nil)
	}
	if r.llm == nil {
		return nil, mnerrors.New(mnerrors.CodeRefinement, minutes.StageRefinement, "no language model configured", nil)
	}
	log := r.logger.WithContext(ctx)

	segs := MergeEdits(in.Draft.Segments, in.HumanEdits)
	applied := 0
	if in.Validation != nil {
		segs, applied = ApplyCorrections(segs, in.Validation.Issues, in.Review)
	}

	transcript := r.tokens.Truncate(minutes.FullText(segs), r.cfg.ContextTokenBudget)
	var (
		meta    metadataReply
		summary summaryReply
		dec     decisionsReply
		acts    actionsReply
		models  = make([]minutes.ModelRef, 4)
	)
	g, gctx := errgroup.WithContext(ctx)
	prompts := []struct {
		purpose string
		system  string
		out     any
	}{
		{"refine.metadata", metadataSystem, &meta},
		{"refine.summary", summarySystem, &summary},
		{"refine.decisions", decisionsSystem, &dec},
		{"refine.action_items", actionsSystem, &acts},
	}
	for i, p := range prompts {
		g.Go(func() error {
			resp, err := providers.CompleteJSON(gctx, r.llm, providers.CompletionRequest{
				Purpose:     p.purpose,
				System:      p.system,
				Prompt:      transcript,
				Temperature: 0.2,
			}, p.out)
			if err != nil {
				return err
			}
			models[i] = minutes.ModelRef{Purpose: strings.TrimPrefix(p.purpose, "refine."), Provider: resp.Provider, Model: resp.Model}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mnerrors.New(mnerrors.CodeRefinement, minutes.StageRefinement, "generating structured minutes", err)
	}

	tone := in.Config.Tone
	if tone == "" {
		tone = r.cfg.DefaultTone
	}
	polished, polishModel := r.polish(ctx, segs, tone)
	if polishModel != nil {
		models = append(models, *polishModel)
	}

	now := r.now().UTC()
	final := &minutes.FinalMinutes{
		Title:            meta.Title,
		Date:             meta.date(now),
		Participants:     meta.Participants,
		MeetingType:      meta.MeetingType,
		Location:         meta.Location,
		ExecutiveSummary: summary.ExecutiveSummary,
		KeyTopics:        summary.KeyTopics,
		Decisions:        dec.decisions(),
		ActionItems:      acts.items(),
		Transcript:       polished,
	}
	if final.Title == "" {
		final.Title = "Meeting minutes"
	}
	if len(final.Participants) == 0 {
		final.Participants = minutes.Speakers(polished)
	}
	if len(final.KeyTopics) == 0 {
		final.KeyTopics = in.Draft.Topics
	}
	final.QualityScore = Quality(in.Validation, in.Review, final)
	final.Provenance = minutes.Provenance{
		EngineVersion: buildinfo.Version,
		Commit:        buildinfo.ResolvedCommit(),
		Models:        mergeModels(in.Draft.Models, models),
		GeneratedAt:   now,
	}

	log.Info("Refinement complete",
		logging.F("corrections", applied),
		logging.F("decisions", len(final.Decisions)),
		logging.F("action_items", len(final.ActionItems)),
		logging.F("quality", final.QualityScore))
	return final, nil
}

// MergeEdits overlays human edits on the draft by segment id. Edits for ids
// not in the draft are appended.
func MergeEdits(draft, edits []minutes.TranscriptSegment) []minutes.TranscriptSegment {
	out := minutes.CloneSegments(draft)
	if len(edits) == 0 {
		return out
	}
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}
	for _, e := range edits {
		if i, ok := index[e.ID]; ok {
			out[i] = e
			continue
		}
		if e.ID == "" {
			e.ID = minutes.SegmentID(len(out))
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out
}

// ApplyCorrections applies confident locale and grammar suggestions the
// reviewer did not resolve or ignore. It returns the updated segments and the
// number of corrections applied.
func ApplyCorrections(segs []minutes.TranscriptSegment, issues []minutes.ValidationIssue, review minutes.ReviewState) ([]minutes.TranscriptSegment, int) {
	out := minutes.CloneSegments(segs)
	index := make(map[string]int, len(out))
	for i, s := range out {
		index[s.ID] = i
	}
	applied := 0
	for _, issue := range issues {
		if !shouldApply(issue) || review.Handled(issue.ID) {
			continue
		}
		i, ok := index[issue.SegmentID]
		if !ok {
			continue
		}
		text, changed := applyText(out[i].Text, issue.Original, issue.Suggested)
		if !changed {
			continue
		}
		out[i].Text = text
		out[i].Confidence = math.Min(1, out[i].Confidence+CorrectionBoost)
		applied++
	}
	return out, applied
}

func shouldApply(issue minutes.ValidationIssue) bool {
	if issue.Suggested == "" || issue.Original == "" {
		return false
	}
	switch {
	case issue.Category.IsLocale():
		return issue.Confidence > LocaleApplyConfidence
	case issue.Category == minutes.CategoryGrammar:
		return issue.Confidence > GrammarApplyConfidence
	}
	return false
}

// applyText replaces the whole text when it equals original, otherwise every
// occurrence of original that stands as a whole word. "ai" inside "said" is
// left alone.
func applyText(text, original, suggested string) (string, bool) {
	if text == original {
		return suggested, text != suggested
	}
	var b strings.Builder
	rest, changed := text, false
	for {
		i := strings.Index(rest, original)
		if i < 0 {
			break
		}
		end := i + len(original)
		if wordBoundary(rest[:i], original, true) && wordBoundary(rest[end:], original, false) {
			b.WriteString(rest[:i])
			b.WriteString(suggested)
			changed = changed || original != suggested
		} else {
			b.WriteString(rest[:end])
		}
		rest = rest[end:]
	}
	if !changed {
		return text, false
	}
	b.WriteString(rest)
	return b.String(), true
}

// wordBoundary reports whether original may start (before) or end (after)
// next to the neighbouring text without splitting a word. Edges of original
// that are not letters or digits always match.
func wordBoundary(neighbour, original string, before bool) bool {
	var edge, next rune
	var ok bool
	if before {
		edge, _ = utf8.DecodeRuneInString(original)
		next, ok = lastRune(neighbour)
	} else {
		edge, _ = utf8.DecodeLastRuneInString(original)
		next, ok = firstRune(neighbour)
	}
	if !ok || !isWordRune(edge) {
		return true
	}
	return !isWordRune(next)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func firstRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, true
}

func lastRune(s string) (rune, bool) {
	if s == "" {
		return 0, false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r, true
}

// Quality scores the finished minutes.
func Quality(report *minutes.ValidationReport, review minutes.ReviewState, final *minutes.FinalMinutes) float64 {
	var q float64
	if report != nil {
		q = report.Scores.Overall
	}
	if len(final.Decisions) > 0 {
		q += 0.1
	}
	if len(final.ActionItems) > 0 {
		q += 0.1
	}
	if len(final.Transcript) > 5 {
		q += 0.05
	}
	if report != nil {
		for _, i := range report.Issues {
			if i.Severity == minutes.SeverityCritical && !containsID(review.ResolvedIssueIDs, i.ID) {
				q -= 0.2
				break
			}
		}
	}
	return math.Max(0, math.Min(1, q))
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func mergeModels(groups ...[]minutes.ModelRef) []minutes.ModelRef {
	var out []minutes.ModelRef
	seen := map[minutes.ModelRef]bool{}
	for _, g := range groups {
		for _, m := range g {
			if (m.Provider == "" && m.Model == "") || seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
