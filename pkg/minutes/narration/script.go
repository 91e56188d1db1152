package narration

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// SummaryScript reads the title, participants and executive summary.
func SummaryScript(m *minutes.FinalMinutes) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s.", strings.TrimRight(m.Title, "."))
	if !m.Date.IsZero() {
		fmt.Fprintf(&b, " Held on %s.", m.Date.Format("Monday, January 2, 2006"))
	}
	if len(m.Participants) > 0 {
		fmt.Fprintf(&b, " Participants: %s.", strings.Join(m.Participants, ", "))
	}
	if m.ExecutiveSummary != "" {
		b.WriteString(" ")
		b.WriteString(m.ExecutiveSummary)
	}
	if len(m.KeyTopics) > 0 {
		fmt.Fprintf(&b, " Key topics: %s.", strings.Join(m.KeyTopics, ", "))
	}
	return strings.TrimSpace(b.String())
}

// KeyPointsScript reads decisions and action items.
func KeyPointsScript(m *minutes.FinalMinutes) string {
	if len(m.Decisions) == 0 && len(m.ActionItems) == 0 {
		return ""
	}
	var b strings.Builder
	if len(m.Decisions) > 0 {
		fmt.Fprintf(&b, "Decisions. ")
		for i, d := range m.Decisions {
			fmt.Fprintf(&b, "%d. %s. ", i+1, strings.TrimRight(d.Statement, "."))
			if d.Rationale != "" {
				fmt.Fprintf(&b, "Rationale: %s. ", strings.TrimRight(d.Rationale, "."))
			}
		}
	}
	if len(m.ActionItems) > 0 {
		fmt.Fprintf(&b, "Action items. ")
		for i, a := range m.ActionItems {
			fmt.Fprintf(&b, "%d. %s, owned by %s", i+1, strings.TrimRight(a.Item, "."), a.Owner)
			if a.DueDate != "" {
				fmt.Fprintf(&b, ", due %s", a.DueDate)
			}
			b.WriteString(". ")
		}
	}
	return strings.TrimSpace(b.String())
}

// TranscriptScript reads the transcript with speaker labels.
func TranscriptScript(m *minutes.FinalMinutes) string {
	var lines []string
	for _, s := range m.Transcript {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if s.Speaker != "" {
			text = s.Speaker + " said: " + text
		}
		lines = append(lines, text)
	}
	return strings.Join(lines, "\n")
}

var sentenceEnd = regexp.MustCompile(`[.!?…]+["')\]]*\s+|\n+`)

// Sentences splits text after terminal punctuation and at line breaks.
func Sentences(text string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(text[last:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Chunk packs whole sentences into pieces of at most limit characters.
// Longer sentences are split at word boundaries, and longer words hard-split.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		limit = 4096
	}
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	add := func(piece string) {
		n := utf8.RuneCountInString(piece)
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+n > limit {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(piece)
	}

	for _, s := range Sentences(text) {
		if utf8.RuneCountInString(s) <= limit {
			add(s)
			continue
		}
		flush()
		for _, w := range strings.Fields(s) {
			for utf8.RuneCountInString(w) > limit {
				r := []rune(w)
				flush()
				chunks = append(chunks, string(r[:limit]))
				w = string(r[limit:])
			}
			add(w)
		}
		flush()
	}
	flush()
	return chunks
}
