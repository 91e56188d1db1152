package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

var transitionCues = []string{
	"so", "okay", "ok", "right", "well", "yes", "yeah", "no", "sure", "thanks",
	"thank you", "agreed", "i agree", "and", "but", "also", "actually", "great",
	"good point", "exactly", "moving on", "next",
}

var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "because": true,
	"been": true, "before": true, "being": true, "could": true, "does": true,
	"doing": true, "from": true, "have": true, "having": true, "here": true,
	"into": true, "just": true, "like": true, "more": true, "most": true,
	"much": true, "need": true, "only": true, "other": true, "over": true,
	"really": true, "should": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true,
	"these": true, "they": true, "thing": true, "think": true, "this": true,
	"those": true, "very": true, "want": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "while": true, "will": true,
	"with": true, "would": true, "your": true, "going": true, "yeah": true,
	"okay": true, "know": true, "make": true,
}

var pronouns = map[string]bool{
	"he": true, "she": true, "it": true, "they": true, "him": true, "her": true,
	"them": true, "this": true, "that": true, "these": true, "those": true,
	"his": true, "its": true, "their": true,
}

const (
	topicMinKeywords   = 3
	topicOverlapFloor  = 0.10
	pronounLimit       = 2
	pronounWindowWords = 15
)

func (v *Validator) checkCoherence(segs []minutes.TranscriptSegment) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	keys := make([]map[string]bool, len(segs))
	for i, s := range segs {
		keys[i] = keywords(s.Text)
	}

	for i, seg := range segs {
		if i > 0 {
			prev := segs[i-1]
			gap := seg.Start - prev.End
			if seg.Speaker != prev.Speaker && gap >= 0 && gap < v.cfg.SpeakerChangeGap && !hasTransitionCue(seg.Text) && !strings.HasSuffix(strings.TrimSpace(prev.Text), "?") {
				issue := newIssue(minutes.CategoryCoherence, minutes.SeverityLow, seg, "abrupt_speaker_change",
					fmt.Sprintf("speaker changes from %s to %s after %.1fs without a transition", prev.Speaker, seg.Speaker, gap))
				issue.Original = seg.Text
				issue.Confidence = 0.6
				issues = append(issues, issue)
			}
		}

		if i > 0 && i < len(segs)-1 && len(keys[i]) > topicMinKeywords {
			if overlap(keys[i], keys[i-1]) < topicOverlapFloor && overlap(keys[i], keys[i+1]) < topicOverlapFloor {
				issue := newIssue(minutes.CategoryCoherence, minutes.SeverityMedium, seg, "topic_jump",
					"segment shares no vocabulary with its neighbours")
				issue.Original = seg.Text
				issue.Confidence = 0.5
				issues = append(issues, issue)
			}
		}

		words := strings.Fields(seg.Text)
		if len(words) < pronounWindowWords {
			n := 0
			for _, w := range words {
				if pronouns[normWord(w)] {
					n++
				}
			}
			if n > pronounLimit {
				issue := newIssue(minutes.CategoryCoherence, minutes.SeverityLow, seg, "unresolved_pronouns",
					fmt.Sprintf("%d pronouns in %d words with no clear referent", n, len(words)))
				issue.Original = seg.Text
				issue.Confidence = 0.5
				issues = append(issues, issue)
			}
		}

		if seg.Confidence < v.cfg.MinSegmentConfidence {
			issue := newIssue(minutes.CategoryCoherence, minutes.SeverityCritical, seg, "unintelligible_segment",
				fmt.Sprintf("recognition confidence %.2f is below %.2f", seg.Confidence, v.cfg.MinSegmentConfidence))
			issue.Original = seg.Text
			issue.Confidence = 1 - seg.Confidence
			issues = append(issues, issue)
		}
	}
	return issues
}

func hasTransitionCue(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, cue := range transitionCues {
		if strings.HasPrefix(lower, cue) {
			rest := lower[len(cue):]
			if rest == "" || !isLetter(rest[0]) {
				return true
			}
		}
	}
	return false
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}

func keywords(text string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(text) {
		w = normWord(w)
		if len(w) >= 4 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

// overlap is the share of a's keywords also in b.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

var (
	actionPattern   = regexp.MustCompile(`(?i)\b(?:will|need to|needs to|should|must|action item|to-?do|follow[- ]up|let's|going to|take care of|responsible for)\b`)
	ownerPattern    = regexp.MustCompile(`(?i)\b(?:i|i'll|i will|we|we'll|you|you'll|he|she|they|assign(?:ed)?|owner|owns)\b`)
	namePattern     = regexp.MustCompile(`\s\p{Lu}\p{Ll}+`)
	deadlinePattern = regexp.MustCompile(`(?i)\b(?:by|before|due|until|deadline|today|tonight|tomorrow|eod|eow|end of (?:day|week|month|quarter)|next (?:week|month|quarter|sprint)|this (?:week|month|quarter|sprint)|monday|tuesday|wednesday|thursday|friday|q[1-4]|january|february|march|april|may|june|july|august|september|october|november|december|\d{4}-\d{2}-\d{2})\b`)
)

// checkMeetingContext flags action-like statements that name no owner or deadline.
func (v *Validator) checkMeetingContext(segs []minutes.TranscriptSegment) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	for _, seg := range segs {
		if !actionPattern.MatchString(seg.Text) {
			continue
		}
		var missing []string
		if !ownerPattern.MatchString(seg.Text) && !namePattern.MatchString(seg.Text) {
			missing = append(missing, "owner")
		}
		if !deadlinePattern.MatchString(seg.Text) {
			missing = append(missing, "deadline")
		}
		if len(missing) == 0 {
			continue
		}
		issue := newIssue(minutes.CategoryCoherence, minutes.SeverityLow, seg, "action_missing_"+strings.Join(missing, "_"),
			"action item without "+strings.Join(missing, " or "))
		issue.Original = seg.Text
		issue.Confidence = 0.6
		issues = append(issues, issue)
	}
	return issues
}
