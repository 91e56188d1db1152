// Package extraction turns uploaded inputs into text blocks, timed audio
// segments and detected entities.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/minutes/pkg/blob"
	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// AlgorithmVersion identifies the extraction rules recorded on each result.
const AlgorithmVersion = "extraction/2"

// Confidences assigned per source.
const (
	ConfidencePDF       = 0.98
	ConfidenceDOCX      = 0.99
	ConfidencePlainText = 1.0
	ConfidenceCaption   = 0.95
	ConfidenceAudioHint = 0.5
)

// Config tunes the extractor.
type Config struct {
	// Concurrency bounds how many files are processed at once.
	Concurrency int
	// SegmentSeconds is the width of fixed audio segments.
	SegmentSeconds float64
	// SpeakerHints is the number of rotating speaker labels for fixed segments.
	SpeakerHints int
	// AssumedBitrate (bits/s) estimates duration when nothing better is available.
	AssumedBitrate int64
	// FFProbePath overrides the ffprobe binary. Empty means look it up on PATH.
	FFProbePath string
}

// DefaultConfig returns the extractor defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:    4,
		SegmentSeconds: 30,
		SpeakerHints:   2,
		AssumedBitrate: 128_000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = d.SegmentSeconds
	}
	if c.SpeakerHints <= 0 {
		c.SpeakerHints = d.SpeakerHints
	}
	if c.AssumedBitrate <= 0 {
		c.AssumedBitrate = d.AssumedBitrate
	}
	return c
}

// Diarizer splits a recording into speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, in providers.AudioInput, duration float64) ([]minutes.AudioSegment, error)
}

// EntityRecognizer finds named entities in text.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) (map[minutes.EntityKind][]string, error)
}

// Extractor runs the extraction stage.
type Extractor struct {
	cfg      Config
	blobs    blob.Store
	ocr      providers.OCR
	diarizer Diarizer
	entities EntityRecognizer
	logger   logging.Logger
	now      func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithOCR sets the image text recognizer.
func WithOCR(ocr providers.OCR) Option { return func(e *Extractor) { e.ocr = ocr } }

// WithDiarizer sets the speaker diarizer.
func WithDiarizer(d Diarizer) Option { return func(e *Extractor) { e.diarizer = d } }

// WithEntityRecognizer replaces the default heuristic recognizer.
func WithEntityRecognizer(r EntityRecognizer) Option {
	return func(e *Extractor) { e.entities = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(e *Extractor) { e.logger = l } }

// New builds an Extractor reading inputs from blobs.
func New(cfg Config, blobs blob.Store, opts ...Option) *Extractor {
	e := &Extractor{
		cfg:      cfg.withDefaults(),
		blobs:    blobs,
		entities: NewHeuristicRecognizer(nil),
		logger:   logging.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.F("component", "extraction"))
	return e
}

// fileOutput is what one input contributed.
type fileOutput struct {
	blocks   []minutes.TextBlock
	segments []minutes.AudioSegment
	audio    *minutes.AudioFile
	pages    int
	skipped  *minutes.SkippedFile
	failed   *minutes.SkippedFile
}

// Extract processes files in parallel and merges their outputs in input
// order. It fails only when nothing usable came out of any file.
func (e *Extractor) Extract(ctx context.Context, files []minutes.FileInfo) (*minutes.ExtractionResult, error) {
	outputs := make([]fileOutput, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			out, err := e.extractFile(gctx, f)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				reason := &minutes.SkippedFile{FileID: f.ID, Name: f.Name(), Reason: err.Error()}
				if errors.Is(err, mnerrors.ErrUnsupportedFormat) {
					e.logger.Warn("Skipping unsupported file", logging.F("file", f.Name()), logging.F("mime_type", f.MIMEType))
					out.skipped = reason
				} else {
					e.logger.Warn("File extraction failed", logging.F("file", f.Name()), logging.Err(err))
					out.failed = reason
				}
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mnerrors.ClassifyError(err, minutes.StageExtraction)
	}

	result := &minutes.ExtractionResult{
		Entities:         map[minutes.EntityKind][]string{},
		AlgorithmVersion: AlgorithmVersion,
		ExtractedAt:      e.now().UTC(),
	}
	for _, out := range outputs {
		result.TextBlocks = append(result.TextBlocks, out.blocks...)
		result.AudioSegments = append(result.AudioSegments, out.segments...)
		result.PageCount += out.pages
		if out.audio != nil {
			result.AudioFiles = append(result.AudioFiles, *out.audio)
			result.TotalDuration += out.audio.Duration
		}
		if out.skipped != nil {
			result.Skipped = append(result.Skipped, *out.skipped)
		}
		if out.failed != nil {
			result.Failed = append(result.Failed, *out.failed)
		}
	}

	if len(result.TextBlocks) == 0 && len(result.AudioSegments) == 0 {
		return nil, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
			fmt.Sprintf("no usable content in %d file(s): %d skipped, %d failed", len(files), len(result.Skipped), len(result.Failed)), nil)
	}

	if text := result.DocumentText(); text != "" && e.entities != nil {
		ents, err := e.entities.Recognize(ctx, text)
		if err != nil {
			e.logger.Warn("Entity recognition failed", logging.Err(err))
		} else {
			result.Entities = dedupeEntities(ents)
		}
	}
	result.Confidence = meanConfidence(result)

	e.logger.Info("Extraction complete",
		logging.F("blocks", len(result.TextBlocks)),
		logging.F("audio_segments", len(result.AudioSegments)),
		logging.F("skipped", len(result.Skipped)),
		logging.F("failed", len(result.Failed)),
		logging.F("confidence", result.Confidence))
	return result, nil
}

func (e *Extractor) extractFile(ctx context.Context, f minutes.FileInfo) (fileOutput, error) {
	kind := Classify(f.MIMEType, f.Name())
	if kind == KindUnsupported {
		return fileOutput{}, mnerrors.New(mnerrors.CodeUnsupportedFormat, minutes.StageExtraction,
			fmt.Sprintf("unsupported mime type %q", f.MIMEType), nil)
	}

	data, err := e.blobs.Download(ctx, blob.KeyFromURI(f.BlobURI))
	if err != nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
			"download "+f.Name(), err)
	}

	switch kind {
	case KindPDF:
		return extractPDF(f, data)
	case KindDOCX:
		return extractDOCX(f, data)
	case KindText:
		return extractText(f, data), nil
	case KindVTT:
		return extractVTT(f, data)
	case KindImage:
		return e.extractImage(ctx, f, data)
	case KindAudio:
		return e.extractAudio(ctx, f, data)
	}
	return fileOutput{}, mnerrors.New(mnerrors.CodeUnsupportedFormat, minutes.StageExtraction, string(kind), nil)
}

func (e *Extractor) extractImage(ctx context.Context, f minutes.FileInfo, data []byte) (fileOutput, error) {
	if e.ocr == nil {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
			"no OCR provider configured for "+f.Name(), nil)
	}
	res, err := e.ocr.Recognize(ctx, data, f.MIMEType)
	if err != nil {
		return fileOutput{}, fmt.Errorf("ocr %s: %w", f.Name(), err)
	}
	if res.Text == "" {
		return fileOutput{}, mnerrors.New(mnerrors.CodeExtraction, minutes.StageExtraction,
			"no text recognised in "+f.Name(), nil)
	}
	return fileOutput{
		pages: 1,
		blocks: []minutes.TextBlock{{
			FileID:     f.ID,
			Type:       minutes.BlockOCR,
			Text:       res.Text,
			Confidence: res.Confidence,
			Page:       1,
		}},
	}, nil
}

func meanConfidence(r *minutes.ExtractionResult) float64 {
	n := len(r.TextBlocks) + len(r.AudioSegments)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, b := range r.TextBlocks {
		sum += b.Confidence
	}
	for _, s := range r.AudioSegments {
		sum += s.Confidence
	}
	return sum / float64(n)
}
