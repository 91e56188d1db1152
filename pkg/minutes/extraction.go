package minutes

import "time"

// BlockType classifies an extracted text block.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockTable     BlockType = "table"
	BlockOCR       BlockType = "ocr"
	BlockCaption   BlockType = "caption"
)

// BBox is a block's position on its page, in page units. Zero when unknown.
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextBlock is one unit of document text.
type TextBlock struct {
	FileID     string    `json:"file_id"`
	Type       BlockType `json:"type"`
	BBox       BBox      `json:"bbox"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Page       int       `json:"page"`
}

// AudioSegment is a time span of a recording with a speaker hint.
type AudioSegment struct {
	FileID      string  `json:"file_id"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	SpeakerHint string  `json:"speaker_hint"`
	Confidence  float64 `json:"confidence"`
}

// EntityKind groups detected entities.
type EntityKind string

const (
	EntityPerson       EntityKind = "person"
	EntityOrganization EntityKind = "organization"
	EntityLocation     EntityKind = "location"
	EntityDate         EntityKind = "date"
	EntityMoney        EntityKind = "money"
)

// SkippedFile records an input extraction could not use.
type SkippedFile struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AudioFile summarises one recording found during extraction.
type AudioFile struct {
	FileID   string  `json:"file_id"`
	Duration float64 `json:"duration"`
	Diarized bool    `json:"diarized"`
}

// ExtractionResult is the output of the extraction stage.
type ExtractionResult struct {
	Confidence       float64                 `json:"confidence"`
	TextBlocks       []TextBlock             `json:"text_blocks"`
	AudioSegments    []AudioSegment          `json:"audio_segments"`
	AudioFiles       []AudioFile             `json:"audio_files"`
	Entities         map[EntityKind][]string `json:"entities"`
	TotalDuration    float64                 `json:"total_duration"`
	PageCount        int                     `json:"page_count"`
	Skipped          []SkippedFile           `json:"skipped,omitempty"`
	Failed           []SkippedFile           `json:"failed,omitempty"`
	AlgorithmVersion string                  `json:"algorithm_version"`
	ExtractedAt      time.Time               `json:"extracted_at"`
}

// HasAudio reports whether any recording was found.
func (r *ExtractionResult) HasAudio() bool {
	return r != nil && len(r.AudioFiles) > 0
}

// DocumentText concatenates the non-empty text blocks.
func (r *ExtractionResult) DocumentText() string {
	if r == nil {
		return ""
	}
	var out []byte
	for _, b := range r.TextBlocks {
		if b.Text == "" {
			continue
		}
		if len(out) > 0 {
			out = append(out, '\n', '\n')
		}
		out = append(out, b.Text...)
	}
	return string(out)
}

// HintsFor returns the audio segments of one file.
func (r *ExtractionResult) HintsFor(fileID string) []AudioSegment {
	var out []AudioSegment
	for _, s := range r.AudioSegments {
		if s.FileID == fileID {
			out = append(out, s)
		}
	}
	return out
}
