package validation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/otherjamesbrown/minutes/pkg/logging"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/providers"
)

// Rules dropped from grammar checker output as transcript noise.
var suppressedRules = map[string]bool{
	"WHITESPACE_RULE":              true,
	"UPPERCASE_SENTENCE_START":     true,
	"COMMA_PARENTHESIS_WHITESPACE": true,
	"DOUBLE_PUNCTUATION":           true,
	"PUNCTUATION_PARAGRAPH_END":    true,
}

var fillers = map[string]bool{
	"um": true, "umm": true, "uh": true, "uhm": true, "er": true, "erm": true,
	"ah": true, "hmm": true, "mm": true, "like": true, "basically": true,
	"actually": true, "literally": true,
}

var fillerPhrases = []string{"you know", "i mean", "sort of", "kind of"}

const (
	terminalPunctConfidence = 0.95
	fillerConfidence        = 0.7
	fillerDensityLimit      = 0.3
)

func (v *Validator) checkGrammar(ctx context.Context, segs []minutes.TranscriptSegment, language string) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	checker := v.grammar
	for _, seg := range segs {
		if checker != nil {
			matches, err := checker.Check(ctx, seg.Text, toolLanguage(language))
			if err != nil {
				v.logger.Warn("Grammar service failed, continuing with local rules", logging.Err(err))
				checker = nil
			} else {
				issues = append(issues, grammarMatchIssues(seg, matches)...)
			}
		}
		if issue, ok := terminalPunctuation(seg); ok {
			issues = append(issues, issue)
		}
		if issue, ok := fillerDensity(seg); ok {
			issues = append(issues, issue)
		}
	}
	return issues
}

// toolLanguage maps a bare language code to the variant the grammar service expects.
func toolLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "", "en", "english":
		return "en-US"
	case "de", "german":
		return "de-DE"
	case "pt", "portuguese":
		return "pt-BR"
	}
	return lang
}

func grammarMatchIssues(seg minutes.TranscriptSegment, matches []providers.GrammarMatch) []minutes.ValidationIssue {
	var out []minutes.ValidationIssue
	for _, m := range matches {
		if suppressedRules[m.RuleID] {
			continue
		}
		original := utf16Slice(seg.Text, m.Offset, m.Length)
		if original == "" || isPunctuationOnly(original) {
			continue
		}
		issue := newIssue(minutes.CategoryGrammar, grammarSeverity(m), seg, m.RuleID, m.Message)
		issue.Original = original
		switch len(m.Replacements) {
		case 0:
			issue.Confidence = 0.5
		case 1:
			issue.Suggested = m.Replacements[0]
			issue.Confidence = 0.92
		default:
			issue.Suggested = m.Replacements[0]
			issue.Confidence = 0.75
		}
		out = append(out, issue)
	}
	return out
}

func grammarSeverity(m providers.GrammarMatch) minutes.Severity {
	switch m.IssueType {
	case "grammar", "misspelling":
		return minutes.SeverityMedium
	default:
		return minutes.SeverityLow
	}
}

// utf16Slice cuts s by UTF-16 code unit offsets, as reported by the grammar service.
func utf16Slice(s string, offset, length int) string {
	units := utf16.Encode([]rune(s))
	if offset < 0 || length <= 0 || offset+length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[offset : offset+length]))
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune(".,;:!?'\"-–—…()[] ", r) {
			return false
		}
	}
	return true
}

var interjectionEndings = []string{"...", "…", "--", "-", "—", "–", "~"}

func terminalPunctuation(seg minutes.TranscriptSegment) (minutes.ValidationIssue, bool) {
	text := strings.TrimSpace(seg.Text)
	if len(strings.Fields(text)) <= 3 {
		return minutes.ValidationIssue{}, false
	}
	last := text[len(text)-1]
	if strings.ContainsRune(".!?\"')", rune(last)) {
		return minutes.ValidationIssue{}, false
	}
	for _, e := range interjectionEndings {
		if strings.HasSuffix(text, e) {
			return minutes.ValidationIssue{}, false
		}
	}
	issue := newIssue(minutes.CategoryGrammar, minutes.SeverityLow, seg, "terminal_punctuation", "sentence lacks terminal punctuation")
	issue.Original = seg.Text
	issue.Suggested = text + "."
	issue.Confidence = terminalPunctConfidence
	return issue, true
}

func fillerDensity(seg minutes.TranscriptSegment) (minutes.ValidationIssue, bool) {
	words := strings.Fields(seg.Text)
	if len(words) == 0 {
		return minutes.ValidationIssue{}, false
	}
	cleaned, removed := removeFillers(seg.Text)
	density := float64(removed) / float64(len(words))
	if density <= fillerDensityLimit {
		return minutes.ValidationIssue{}, false
	}
	issue := newIssue(minutes.CategoryGrammar, minutes.SeverityMedium, seg, "filler_density",
		fmt.Sprintf("%.0f%% of words are fillers", density*100))
	issue.Original = seg.Text
	issue.Suggested = cleaned
	issue.Confidence = fillerConfidence
	return issue, true
}

// removeFillers drops filler words and phrases, returning the cleaned text and
// the number of words removed.
func removeFillers(text string) (string, int) {
	words := strings.Fields(text)
	keep := make([]string, 0, len(words))
	removed := 0
	for i := 0; i < len(words); i++ {
		if i+1 < len(words) {
			pair := normWord(words[i]) + " " + normWord(words[i+1])
			if containsString(fillerPhrases, pair) {
				removed += 2
				i++
				continue
			}
		}
		if fillers[normWord(words[i])] {
			removed++
			continue
		}
		keep = append(keep, words[i])
	}
	return strings.Join(keep, " "), removed
}

func normWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,;:!?'\"()"))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
