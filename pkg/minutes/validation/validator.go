// Package validation scores a draft transcript for grammar, locale accuracy,
// coherence and timing, and decides whether a human must review it.
package validation

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/locale"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// Config tunes the validator.
type Config struct {
	// GapTolerance is the longest silence between segments left unflagged, in seconds.
	GapTolerance float64
	// SpeakerChangeGap is the gap under which an uncued speaker change is flagged.
	SpeakerChangeGap float64
	// MinSegmentConfidence flags segments below it as unintelligible.
	MinSegmentConfidence float64
}

// DefaultConfig returns the validator defaults.
func DefaultConfig() Config {
	return Config{
		GapTolerance:         30,
		SpeakerChangeGap:     1,
		MinSegmentConfidence: 0.2,
	}
}

// Validator runs the validation stage. It never fails: provider errors are
// logged and the local rules still run.
type Validator struct {
	cfg     Config
	grammar providers.GrammarChecker
	dict    *locale.Dictionary
	logger  logging.Logger
	now     func() time.Time
}

// New builds a Validator. grammar may be nil; dict nil means the built-in dictionary.
func New(cfg Config, grammar providers.GrammarChecker, dict *locale.Dictionary, logger logging.Logger) *Validator {
	d := DefaultConfig()
	if cfg.GapTolerance <= 0 {
		cfg.GapTolerance = d.GapTolerance
	}
	if cfg.SpeakerChangeGap <= 0 {
		cfg.SpeakerChangeGap = d.SpeakerChangeGap
	}
	if cfg.MinSegmentConfidence <= 0 {
		cfg.MinSegmentConfidence = d.MinSegmentConfidence
	}
	if dict == nil {
		dict = locale.DefaultDictionary()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Validator{
		cfg:     cfg,
		grammar: grammar,
		dict:    dict,
		logger:  logger.With(logging.F("component", "validation")),
		now:     time.Now,
	}
}

// Validate checks draft under the job's processing options.
func (v *Validator) Validate(ctx context.Context, draft *minutes.DraftTranscript, opts minutes.ProcessingConfig) *minutes.ValidationReport {
	var segs []minutes.TranscriptSegment
	language := opts.Language
	if draft != nil {
		segs = draft.Segments
		if language == "" {
			language = draft.Language
		}
	}

	var issues []minutes.ValidationIssue
	issues = append(issues, v.checkGrammar(ctx, segs, language)...)
	if opts.LocaleContext {
		issues = append(issues, v.checkLocale(segs)...)
	}
	issues = append(issues, v.checkCoherence(segs)...)
	issues = append(issues, v.checkMeetingContext(segs)...)
	issues = append(issues, v.checkTiming(segs)...)
	for i := range issues {
		issues[i].ID = ulid.Make().String()
	}

	report := &minutes.ValidationReport{
		Issues:       issues,
		SegmentCount: len(segs),
		ValidatedAt:  v.now().UTC(),
	}
	report.Scores = Score(issues, len(segs), opts.LocaleContext)
	decide(report, opts)

	v.logger.WithContext(ctx).Info("Validation complete",
		logging.F("issues", len(issues)),
		logging.F("overall", report.Scores.Overall),
		logging.F("requires_review", report.RequiresHumanReview))
	return report
}

func newIssue(cat minutes.IssueCategory, sev minutes.Severity, seg minutes.TranscriptSegment, rule, msg string) minutes.ValidationIssue {
	return minutes.ValidationIssue{
		Category:  cat,
		Severity:  sev,
		SegmentID: seg.ID,
		Rule:      rule,
		Message:   msg,
	}
}
