// Package draft produces the first speaker-attributed transcript of a job,
// from recordings, captions or documents.
package draft

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// Confidences for transcripts built without speech recognition.
const (
	ConfidenceDocumentTurns = 0.6
	ConfidenceParagraphs    = 0.4
	ConfidenceCaptions      = 0.95
)

// DocumentSpeaker labels turns derived from plain paragraphs.
const DocumentSpeaker = "Document"

// Config tunes the drafter.
type Config struct {
	// ContextTokenBudget caps the document context sent with enhancement prompts.
	ContextTokenBudget int
	// WordsPerMinute paces synthetic timings for document transcripts.
	WordsPerMinute float64
	// TurnPause is the gap in seconds between synthetic turns.
	TurnPause float64
	// MinEnhancedRatio is the fraction of segments an enhancement must return.
	MinEnhancedRatio float64
	// SpeakerCount is the round-robin width when no hint covers a segment.
	SpeakerCount int
	Language     string
}

// DefaultConfig returns the drafter defaults.
func DefaultConfig() Config {
	return Config{
		ContextTokenBudget: 3000,
		WordsPerMinute:     150,
		TurnPause:          0.5,
		MinEnhancedRatio:   0.8,
		SpeakerCount:       2,
		Language:           "en",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ContextTokenBudget <= 0 {
		c.ContextTokenBudget = d.ContextTokenBudget
	}
	if c.WordsPerMinute <= 0 {
		c.WordsPerMinute = d.WordsPerMinute
	}
	if c.TurnPause < 0 {
		c.TurnPause = d.TurnPause
	}
	if c.MinEnhancedRatio <= 0 {
		c.MinEnhancedRatio = d.MinEnhancedRatio
	}
	if c.SpeakerCount <= 0 {
		c.SpeakerCount = d.SpeakerCount
	}
	if c.Language == "" {
		c.Language = d.Language
	}
	return c
}

// Drafter runs the draft stage.
type Drafter struct {
	cfg    Config
	blobs  blob.Store
	stt    providers.SpeechToText
	llm    providers.LLM
	tokens *providers.TokenCounter
	logger logging.Logger
	now    func() time.Time
}

// New builds a Drafter. stt may be nil when no recordings are expected.
func New(cfg Config, blobs blob.Store, stt providers.SpeechToText, llm providers.LLM, logger logging.Logger) *Drafter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Drafter{
		cfg:    cfg.withDefaults(),
		blobs:  blobs,
		stt:    stt,
		llm:    llm,
		tokens: providers.NewTokenCounter(),
		logger: logger.With(logging.F("component", "draft")),
		now:    time.Now,
	}
}

// Draft builds the transcript. Recordings take precedence, then captions,
// then plain document text.
func (d *Drafter) Draft(ctx context.Context, files []minutes.FileInfo, ext *minutes.ExtractionResult) (*minutes.DraftTranscript, error) {
	start := d.now()
	log := d.logger.WithContext(ctx)
	if ext == nil {
		return nil, mnerrors.New(mnerrors.CodeNoTranscribableContent, minutes.StageDraft, "no extraction result", nil)
	}

	out := &minutes.DraftTranscript{Language: d.cfg.Language}
	docText := documentText(ext)

	switch {
	case ext.HasAudio():
		if err := d.transcribe(ctx, files, ext, out); err != nil {
			return nil, err
		}
		out.Source = minutes.SourceAudio
		if docText != "" {
			d.enhance(ctx, out, docText)
		}
	case hasCaptions(ext):
		out.Segments = captionSegments(ext)
		out.Source = minutes.SourceDocuments
		if docText != "" {
			d.enhance(ctx, out, docText)
		}
	case strings.TrimSpace(ext.DocumentText()) != "":
		d.fromDocuments(ctx, ext.DocumentText(), out)
		out.Source = minutes.SourceDocuments
	default:
		return nil, mnerrors.New(mnerrors.CodeNoTranscribableContent, minutes.StageDraft,
			"inputs contain neither audio nor document text", nil)
	}

	if len(out.Segments) == 0 {
		return nil, mnerrors.New(mnerrors.CodeNoTranscribableContent, minutes.StageDraft, "transcript is empty", nil)
	}

	d.summarize(ctx, out)

	out.Confidence = minutes.MeanConfidence(out.Segments)
	out.GeneratedAt = d.now().UTC()
	out.ProcessingTime = out.GeneratedAt.Sub(start)
	log.Info("Draft complete",
		logging.F("source", out.Source),
		logging.F("segments", len(out.Segments)),
		logging.F("enhanced", out.Enhanced),
		logging.F("confidence", out.Confidence))
	return out, nil
}

// transcribe runs speech recognition over each recording and concatenates
// the results on a shared timeline.
func (d *Drafter) transcribe(ctx context.Context, files []minutes.FileInfo, ext *minutes.ExtractionResult, out *minutes.DraftTranscript) error {
	if d.stt == nil {
		return mnerrors.New(mnerrors.CodeProviderUnavailable, minutes.StageDraft, "no speech-to-text provider configured", nil)
	}
	byID := make(map[string]minutes.FileInfo, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	var (
		offset  float64
		lastErr error
		rr      int
	)
	for _, af := range ext.AudioFiles {
		f, ok := byID[af.FileID]
		if !ok {
			continue
		}
		data, err := d.blobs.Download(ctx, blob.KeyFromURI(f.BlobURI))
		if err != nil {
			lastErr = fmt.Errorf("download %s: %w", f.Name(), err)
			d.logger.Warn("Skipping recording", logging.F("file", f.Name()), logging.Err(err))
			offset += af.Duration
			continue
		}
		tr, err := d.stt.Transcribe(ctx, providers.AudioInput{
			Data:     data,
			Filename: f.Name(),
			MIMEType: f.MIMEType,
			Language: d.cfg.Language,
		})
		if err != nil {
			if ctx.Err() != nil {
				return mnerrors.ClassifyError(err, minutes.StageDraft)
			}
			lastErr = err
			d.logger.Warn("Transcription failed", logging.F("file", f.Name()), logging.Err(err))
			offset += af.Duration
			continue
		}
		if tr.Language != "" {
			out.Language = tr.Language
		}
		out.Models = appendModel(out.Models, minutes.ModelRef{Purpose: "transcription", Provider: tr.Provider, Model: tr.Model})

		hints := ext.HintsFor(af.FileID)
		for _, tt := range tr.Segments {
			text := strings.TrimSpace(tt.Text)
			if text == "" {
				continue
			}
			speaker := tt.Speaker
			if speaker == "" {
				speaker = hintAt(hints, tt.Start)
			}
			if speaker == "" {
				speaker = fmt.Sprintf("Speaker %d", rr%d.cfg.SpeakerCount+1)
				rr++
			}
			end := tt.End
			if end <= tt.Start {
				end = tt.Start + 0.5
			}
			conf := tt.Confidence
			if conf <= 0 || conf > 1 {
				conf = 0.5
			}
			out.Segments = append(out.Segments, minutes.TranscriptSegment{
				ID:         minutes.SegmentID(len(out.Segments)),
				Speaker:    speaker,
				Start:      offset + tt.Start,
				End:        offset + end,
				Text:       text,
				Confidence: conf,
			})
		}
		dur := af.Duration
		if tr.Duration > dur {
			dur = tr.Duration
		}
		offset += dur
	}
	if len(out.Segments) == 0 && lastErr != nil {
		return mnerrors.ClassifyError(lastErr, minutes.StageDraft)
	}
	return nil
}

// hintAt returns the speaker of the hint whose interval contains t.
func hintAt(hints []minutes.AudioSegment, t float64) string {
	for _, h := range hints {
		if t >= h.Start && t < h.End {
			return h.SpeakerHint
		}
	}
	return ""
}

func hasCaptions(ext *minutes.ExtractionResult) bool {
	for _, b := range ext.TextBlocks {
		if b.Type == minutes.BlockCaption {
			return true
		}
	}
	return false
}

// captionSegments pairs each file's caption blocks with its timed cues.
func captionSegments(ext *minutes.ExtractionResult) []minutes.TranscriptSegment {
	var segs []minutes.TranscriptSegment
	cues := map[string][]minutes.AudioSegment{}
	for _, s := range ext.AudioSegments {
		cues[s.FileID] = append(cues[s.FileID], s)
	}
	used := map[string]int{}
	for _, b := range ext.TextBlocks {
		if b.Type != minutes.BlockCaption {
			continue
		}
		i := used[b.FileID]
		if i >= len(cues[b.FileID]) {
			continue
		}
		used[b.FileID]++
		cue := cues[b.FileID][i]
		text := b.Text
		if cue.SpeakerHint != "" {
			text = strings.TrimPrefix(text, cue.SpeakerHint+": ")
		}
		speaker := cue.SpeakerHint
		if speaker == "" {
			speaker = "Speaker 1"
		}
		segs = append(segs, minutes.TranscriptSegment{
			ID:         minutes.SegmentID(len(segs)),
			Speaker:    speaker,
			Start:      cue.Start,
			End:        cue.End,
			Text:       text,
			Confidence: ConfidenceCaptions,
		})
	}
	return segs
}

// documentText is the non-caption document text used as context.
func documentText(ext *minutes.ExtractionResult) string {
	var parts []string
	for _, b := range ext.TextBlocks {
		if b.Type != minutes.BlockCaption && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

func appendModel(refs []minutes.ModelRef, ref minutes.ModelRef) []minutes.ModelRef {
	if ref.Provider == "" && ref.Model == "" {
		return refs
	}
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}
