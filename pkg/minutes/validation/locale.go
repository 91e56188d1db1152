package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/locale"
)

// Locale match confidences and thresholds.
const (
	ExactConfidence       = 1.0
	MisspellingConfidence = 0.98
	CanonicalConfidence   = 0.99
	FuzzyThreshold        = 0.85
	FuzzyApplyThreshold   = 0.98
	FuzzyLowSeverityFloor = 0.9
	maxSpanWords          = 4
	minFuzzyRunes         = 4
)

type canonicalRule struct {
	pattern *regexp.Regexp
	replace string
}

// canonicalRules normalise acronyms and place names with fixed spellings.
var canonicalRules = []canonicalRule{
	{regexp.MustCompile(`(?i)\bai\b`), "AI"},
	{regexp.MustCompile(`(?i)\bapi\b`), "API"},
	{regexp.MustCompile(`(?i)\bapis\b`), "APIs"},
	{regexp.MustCompile(`(?i)\bkpi\b`), "KPI"},
	{regexp.MustCompile(`(?i)\bkpis\b`), "KPIs"},
	{regexp.MustCompile(`(?i)\bokr\b`), "OKR"},
	{regexp.MustCompile(`(?i)\bokrs\b`), "OKRs"},
	{regexp.MustCompile(`(?i)\bq([1-4])\b`), "Q$1"},
	{regexp.MustCompile(`(?i)\bceo\b`), "CEO"},
	{regexp.MustCompile(`(?i)\bcfo\b`), "CFO"},
	{regexp.MustCompile(`(?i)\bcto\b`), "CTO"},
	{regexp.MustCompile(`(?i)\bhr\b`), "HR"},
	{regexp.MustCompile(`(?i)\bsaas\b`), "SaaS"},
	{regexp.MustCompile(`(?i)\bnew\s+york\b`), "New York"},
	{regexp.MustCompile(`(?i)\bsan\s+francisco\b`), "San Francisco"},
	{regexp.MustCompile(`(?i)\bs(?:ao|ão)\s+paulo\b`), "São Paulo"},
}

// sentenceStarters are capitalised words never worth a fuzzy lookup.
var sentenceStarters = map[string]bool{
	"the": true, "this": true, "that": true, "these": true, "those": true,
	"there": true, "then": true, "they": true, "what": true, "when": true,
	"where": true, "which": true, "while": true, "with": true, "will": true,
	"would": true, "could": true, "should": true, "about": true, "also": true,
	"okay": true, "yeah": true, "thanks": true, "thank": true, "let's": true,
	"next": true, "first": true, "great": true, "sure": true, "right": true,
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool { return s.start < o.end && o.start < s.end }

type token struct {
	text   string
	folded string
	start  int
	end    int
	upper  bool
}

func tokenize(s string) []token {
	var out []token
	start := -1
	flush := func(end int) {
		if start >= 0 {
			w := s[start:end]
			r, _ := utf8.DecodeRuneInString(w)
			out = append(out, token{text: w, folded: locale.Fold(w), start: start, end: end, upper: unicode.IsUpper(r)})
			start = -1
		}
	}
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || (start >= 0 && (r == '\'' || r == '’' || r == '-')) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(s))
	return out
}

// onlySpaces reports whether the tokens are separated by whitespace alone.
func onlySpaces(s string, toks []token) bool {
	for i := 1; i < len(toks); i++ {
		if strings.TrimSpace(s[toks[i-1].end:toks[i].start]) != "" {
			return false
		}
	}
	return true
}

func (v *Validator) checkLocale(segs []minutes.TranscriptSegment) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	for _, seg := range segs {
		var taken []span
		for _, rule := range canonicalRules {
			for _, m := range rule.pattern.FindAllStringSubmatchIndex(seg.Text, -1) {
				found := seg.Text[m[0]:m[1]]
				want := string(rule.pattern.ExpandString(nil, rule.replace, seg.Text, m))
				taken = append(taken, span{m[0], m[1]})
				if found == want {
					continue
				}
				issue := newIssue(minutes.CategoryNameCorrection, minutes.SeverityLow, seg, "canonical_form",
					fmt.Sprintf("%q is written %q", found, want))
				issue.Original, issue.Suggested = found, want
				issue.Confidence = CanonicalConfidence
				issue.LocaleApplied = true
				issues = append(issues, issue)
			}
		}
		issues = append(issues, v.dictionaryIssues(seg, taken)...)
	}
	return issues
}

func (v *Validator) dictionaryIssues(seg minutes.TranscriptSegment, taken []span) []minutes.ValidationIssue {
	var issues []minutes.ValidationIssue
	toks := tokenize(seg.Text)
	isTaken := func(sp span) bool {
		for _, t := range taken {
			if t.overlaps(sp) {
				return true
			}
		}
		return false
	}

	for i := 0; i < len(toks); {
		consumed := 0
		for n := min(maxSpanWords, len(toks)-i); n >= 1 && consumed == 0; n-- {
			group := toks[i : i+n]
			if !onlySpaces(seg.Text, group) {
				continue
			}
			sp := span{group[0].start, group[n-1].end}
			if isTaken(sp) {
				continue
			}
			text := seg.Text[sp.start:sp.end]
			key := joinFolded(group)

			if right, ok := v.dict.Misspelling(key); ok {
				issue := newIssue(minutes.CategoryNameCorrection, minutes.SeverityLow, seg, "known_misspelling",
					fmt.Sprintf("%q is a known mistranscription of %q", text, right))
				issue.Original, issue.Suggested = text, right
				issue.Confidence = MisspellingConfidence
				issue.LocaleApplied = true
				issues = append(issues, issue)
				consumed = n
				continue
			}
			if e, ok := v.dict.Lookup(key); ok && (group[0].upper || e.Kind == locale.KindTerm) {
				want := spellingFor(e, key)
				if text != want {
					issue := newIssue(minutes.CategoryNameCorrection, minutes.SeverityLow, seg, "dictionary_exact",
						fmt.Sprintf("%q is spelled %q", text, want))
					issue.Original, issue.Suggested = text, want
					issue.Confidence = ExactConfidence
					issue.LocaleApplied = true
					issues = append(issues, issue)
				}
				consumed = n
			}
		}
		if consumed > 0 {
			i += consumed
			continue
		}

		if toks[i].upper {
			if issue, n, ok := v.fuzzyIssue(seg, toks, i, isTaken); ok {
				issues = append(issues, issue)
				i += n
				continue
			}
		}
		i++
	}
	return issues
}

// fuzzyIssue tries the capitalised run starting at toks[i], then the single
// word, against the dictionary by similarity.
func (v *Validator) fuzzyIssue(seg minutes.TranscriptSegment, toks []token, i int, isTaken func(span) bool) (minutes.ValidationIssue, int, bool) {
	run := 1
	for i+run < len(toks) && run < maxSpanWords && toks[i+run].upper && onlySpaces(seg.Text, toks[i:i+run+1]) {
		run++
	}
	for n := run; n >= 1; n-- {
		group := toks[i : i+n]
		sp := span{group[0].start, group[n-1].end}
		text := seg.Text[sp.start:sp.end]
		if isTaken(sp) || utf8.RuneCountInString(text) < minFuzzyRunes {
			continue
		}
		if n == 1 && sentenceStarters[group[0].folded] {
			continue
		}
		m, ok := v.dict.BestMatch(text, FuzzyThreshold)
		if !ok || m.Text == text {
			continue
		}
		if m.Score >= FuzzyApplyThreshold {
			issue := newIssue(minutes.CategoryNameCorrection, minutes.SeverityLow, seg, "dictionary_fuzzy",
				fmt.Sprintf("%q matches %q", text, m.Text))
			issue.Original, issue.Suggested = text, m.Text
			issue.Confidence = m.Score
			issue.LocaleApplied = true
			return issue, n, true
		}
		sev := minutes.SeverityMedium
		if m.Score >= FuzzyLowSeverityFloor {
			sev = minutes.SeverityLow
		}
		issue := newIssue(minutes.CategoryTermSuggestion, sev, seg, "dictionary_fuzzy",
			fmt.Sprintf("%q may be %q (similarity %.2f)", text, m.Text, m.Score))
		issue.Original, issue.Suggested = text, m.Text
		issue.Confidence = m.Score
		return issue, n, true
	}
	return minutes.ValidationIssue{}, 0, false
}

func joinFolded(toks []token) string {
	parts := make([]string, len(toks))
	for i, t := range toks {
		parts[i] = t.folded
	}
	return strings.Join(parts, " ")
}

// spellingFor returns the canonical form or alias of e that folds to key.
func spellingFor(e *locale.Entry, key string) string {
	if locale.Fold(e.Canonical) == key {
		return e.Canonical
	}
	for _, a := range e.Aliases {
		if locale.Fold(a) == key {
			return a
		}
	}
	return e.Canonical
}
