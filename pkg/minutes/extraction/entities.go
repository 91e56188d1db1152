package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
	"github.com/otherjamesbrown/minutes/pkg/minutes/locale"
)

var (
	moneyPattern = regexp.MustCompile(`(?i)(?:[$€£¥]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:k|m|bn|million|billion|thousand))?\b|\b\d[\d,]*(?:\.\d+)?\s?(?:usd|eur|gbp|dollars|euros|pounds)\b)`)
	datePattern  = regexp.MustCompile(`(?i)\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?|\d{1,2}(?:st|nd|rd|th)?\s+(?:january|february|march|april|may|june|july|august|september|october|november|december)(?:\s+\d{4})?|(?:next|this|last)\s+(?:monday|tuesday|wednesday|thursday|friday|week|month|quarter))\b`)
	// "Name:" at the start of a line, as in transcripts and captions.
	speakerPattern = regexp.MustCompile(`(?m)^([A-Z][\p{L}'\-]+(?:\s+[A-Z][\p{L}'\-]+){0,2}):\s`)
	genericSpeaker = regexp.MustCompile(`^(?:Speaker|Document|Unknown)(?:\s+\d+)?$`)
)

// HeuristicRecognizer detects entities with patterns and dictionary lookups.
type HeuristicRecognizer struct {
	dict *locale.Dictionary
}

// NewHeuristicRecognizer seeds the recognizer from dict, or the built-in
// dictionary when nil.
func NewHeuristicRecognizer(dict *locale.Dictionary) *HeuristicRecognizer {
	if dict == nil {
		dict = locale.DefaultDictionary()
	}
	return &HeuristicRecognizer{dict: dict}
}

// Recognize implements EntityRecognizer.
func (h *HeuristicRecognizer) Recognize(_ context.Context, text string) (map[minutes.EntityKind][]string, error) {
	out := map[minutes.EntityKind][]string{}
	for _, m := range moneyPattern.FindAllString(text, -1) {
		out[minutes.EntityMoney] = append(out[minutes.EntityMoney], strings.TrimSpace(m))
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		out[minutes.EntityDate] = append(out[minutes.EntityDate], strings.TrimSpace(m))
	}
	for _, m := range speakerPattern.FindAllStringSubmatch(text, -1) {
		if !genericSpeaker.MatchString(m[1]) {
			out[minutes.EntityPerson] = append(out[minutes.EntityPerson], locale.NormalizeName(m[1]))
		}
	}

	folded := " " + locale.Fold(text) + " "
	for _, c := range h.dict.Candidates() {
		needle := locale.Fold(c.Text)
		if needle == "" || !containsWord(folded, needle) {
			continue
		}
		kind, ok := entityKind(c.Entry.Kind)
		if !ok {
			continue
		}
		out[kind] = append(out[kind], c.Entry.Canonical)
	}
	return out, nil
}

// containsWord reports whether needle occurs in haystack on word boundaries.
// haystack must be padded with a leading and trailing space.
func containsWord(haystack, needle string) bool {
	for start := 0; ; {
		i := strings.Index(haystack[start:], needle)
		if i < 0 {
			return false
		}
		i += start
		before, after := haystack[i-1], byte(' ')
		if j := i + len(needle); j < len(haystack) {
			after = haystack[j]
		}
		if !isWordByte(before) && !isWordByte(after) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b >= 0x80
}

func entityKind(k locale.Kind) (minutes.EntityKind, bool) {
	switch k {
	case locale.KindPerson:
		return minutes.EntityPerson, true
	case locale.KindOrganization:
		return minutes.EntityOrganization, true
	case locale.KindLocation:
		return minutes.EntityLocation, true
	}
	return "", false
}

// dedupeEntities removes repeats per kind, comparing folded forms and
// keeping the first spelling seen.
func dedupeEntities(in map[minutes.EntityKind][]string) map[minutes.EntityKind][]string {
	out := make(map[minutes.EntityKind][]string, len(in))
	for kind, values := range in {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			key := locale.Fold(v)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out[kind] = append(out[kind], v)
		}
	}
	return out
}
