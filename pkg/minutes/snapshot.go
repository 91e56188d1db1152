package minutes

import (
	"fmt"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
)

// SnapshotKind tags a StageSnapshot.
type SnapshotKind string

const (
	SnapshotExtraction SnapshotKind = "extraction"
	SnapshotDraft      SnapshotKind = "draft"
	SnapshotValidation SnapshotKind = "validation"
	SnapshotFinal      SnapshotKind = "final"
)

// Order returns the position of the kind in the pipeline, starting at 1.
func (k SnapshotKind) Order() int {
	switch k {
	case SnapshotExtraction:
		return 1
	case SnapshotDraft:
		return 2
	case SnapshotValidation:
		return 3
	case SnapshotFinal:
		return 4
	}
	return 0
}

// StageSnapshot is the immutable output of one stage: exactly one payload is set.
type StageSnapshot struct {
	Kind       SnapshotKind      `json:"kind"`
	Extraction *ExtractionResult `json:"extraction,omitempty"`
	Draft      *DraftTranscript  `json:"draft,omitempty"`
	Validation *ValidationReport `json:"validation,omitempty"`
	Final      *FinalMinutes     `json:"final,omitempty"`
}

// Validate checks the payload matches the kind and carries the fields later stages rely on.
func (s *StageSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", mnerrors.ErrPipeline)
	}
	set := 0
	for _, p := range []bool{s.Extraction != nil, s.Draft != nil, s.Validation != nil, s.Final != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s snapshot carries %d payloads", mnerrors.ErrPipeline, s.Kind, set)
	}

	switch s.Kind {
	case SnapshotExtraction:
		if s.Extraction == nil {
			return mismatch(s.Kind)
		}
	case SnapshotDraft:
		if s.Draft == nil {
			return mismatch(s.Kind)
		}
		if len(s.Draft.Segments) == 0 {
			return fmt.Errorf("%w: draft snapshot has no segments", mnerrors.ErrPipeline)
		}
		for _, seg := range s.Draft.Segments {
			if seg.ID == "" {
				return fmt.Errorf("%w: draft segment without id", mnerrors.ErrPipeline)
			}
			if seg.End <= seg.Start {
				return fmt.Errorf("%w: segment %s ends at %.2f before it starts at %.2f", mnerrors.ErrPipeline, seg.ID, seg.End, seg.Start)
			}
		}
	case SnapshotValidation:
		if s.Validation == nil {
			return mismatch(s.Kind)
		}
	case SnapshotFinal:
		if s.Final == nil {
			return mismatch(s.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown snapshot kind %q", mnerrors.ErrPipeline, s.Kind)
	}
	return nil
}

func mismatch(kind SnapshotKind) error {
	return fmt.Errorf("%w: %s snapshot has the wrong payload", mnerrors.ErrPipeline, kind)
}
