package validation

import (
	"fmt"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

func (v *Validator) checkTiming(segs []minutes.TranscriptSegment) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	for i, seg := range segs {
		if seg.End <= seg.Start {
			issue := newIssue(minutes.CategoryTiming, minutes.SeverityHigh, seg, "non_positive_duration",
				fmt.Sprintf("segment ends at %.2fs, not after its start at %.2fs", seg.End, seg.Start))
			issue.Confidence = 1
			issues = append(issues, issue)
		}
		if i == 0 {
			continue
		}
		prev := segs[i-1]
		switch gap := seg.Start - prev.End; {
		case gap < 0:
			issue := newIssue(minutes.CategoryTiming, minutes.SeverityMedium, seg, "overlap",
				fmt.Sprintf("starts %.2fs before %s ends", -gap, prev.ID))
			issue.Confidence = 1
			issues = append(issues, issue)
		case gap > v.cfg.GapTolerance:
			issue := newIssue(minutes.CategoryTiming, minutes.SeverityLow, seg, "gap",
				fmt.Sprintf("%.1fs of silence after %s", gap, prev.ID))
			issue.Confidence = 1
			issues = append(issues, issue)
		}
	}
	return issues
}
