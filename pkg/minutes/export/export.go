// Package export renders final minutes as text, markdown or JSON.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	mnerrors "github.com/otherjamesbrown/minutes/pkg/errors"
	"github.com/otherjamesbrown/minutes/pkg/minutes"
)

// Format is an export format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts a format name or common alias. Empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt", "plain":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", mnerrors.ErrValidation, s)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatJSON:
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

// Extension returns the file extension of the format, without a dot.
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatJSON:
		return "json"
	}
	return "txt"
}

// Render renders m in the given format.
func Render(m *minutes.FinalMinutes, f Format) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no final minutes", mnerrors.ErrNotFound)
	}
	switch f {
	case FormatText:
		return []byte(Text(m)), nil
	case FormatMarkdown:
		return []byte(Markdown(m)), nil
	case FormatJSON:
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode minutes: %w", err)
		}
		return append(data, '\n'), nil
	}
	return nil, fmt.Errorf("%w: unknown export format %q", mnerrors.ErrValidation, f)
}

const dateLayout = "Monday, January 2, 2006"

// Text renders m as plain text.
func Text(m *minutes.FinalMinutes) string {
	var b strings.Builder
	title := titleOf(m)
	b.WriteString(title + "\n")
	b.WriteString(strings.Repeat("=", len([]rune(title))) + "\n")
	writeMeta(&b, m, "")

	section := func(name string) {
		b.WriteString("\n" + strings.ToUpper(name) + "\n")
	}

	if m.ExecutiveSummary != "" {
		section("Summary")
		b.WriteString(m.ExecutiveSummary + "\n")
	}
	if len(m.KeyTopics) > 0 {
		section("Key topics")
		for _, t := range m.KeyTopics {
			b.WriteString("- " + t + "\n")
		}
	}
	if len(m.Decisions) > 0 {
		section("Decisions")
		for i, d := range m.Decisions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, d.Statement)
			if d.Rationale != "" {
				b.WriteString("   Rationale: " + d.Rationale + "\n")
			}
			if len(d.Stakeholders) > 0 {
				b.WriteString("   Stakeholders: " + strings.Join(d.Stakeholders, ", ") + "\n")
			}
			if d.ImplementationDate != "" {
				b.WriteString("   Effective: " + d.ImplementationDate + "\n")
			}
		}
	}
	if len(m.ActionItems) > 0 {
		section("Action items")
		for i, a := range m.ActionItems {
			fmt.Fprintf(&b, "%d. %s (owner: %s, priority: %s, status: %s", i+1, a.Item, a.Owner, a.Priority, a.Status)
			if a.DueDate != "" {
				b.WriteString(", due: " + a.DueDate)
			}
			b.WriteString(")\n")
		}
	}
	if len(m.Transcript) > 0 {
		section("Transcript")
		for _, s := range m.Transcript {
			fmt.Fprintf(&b, "[%s] %s: %s\n", Timestamp(s.Start), speakerOf(s), s.Text)
		}
	}
	return b.String()
}

// Markdown renders m as a markdown document.
func Markdown(m *minutes.FinalMinutes) string {
	var b strings.Builder
	b.WriteString("# " + titleOf(m) + "\n\n")
	writeMeta(&b, m, "**")

	if m.ExecutiveSummary != "" {
		b.WriteString("\n## Summary\n\n" + m.ExecutiveSummary + "\n")
	}
	if len(m.KeyTopics) > 0 {
		b.WriteString("\n## Key Topics\n\n")
		for _, t := range m.KeyTopics {
			b.WriteString("- " + t + "\n")
		}
	}
	if len(m.Decisions) > 0 {
		b.WriteString("\n## Decisions\n\n")
		for i, d := range m.Decisions {
			fmt.Fprintf(&b, "%d. **%s**", i+1, d.Statement)
			if d.Rationale != "" {
				b.WriteString(" - " + d.Rationale)
			}
			b.WriteString("\n")
			if len(d.Stakeholders) > 0 {
				b.WriteString("   - Stakeholders: " + strings.Join(d.Stakeholders, ", ") + "\n")
			}
			if d.ImplementationDate != "" {
				b.WriteString("   - Effective: " + d.ImplementationDate + "\n")
			}
		}
	}
	if len(m.ActionItems) > 0 {
		b.WriteString("\n## Action Items\n\n")
		b.WriteString("| # | Item | Owner | Due | Priority | Status |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for i, a := range m.ActionItems {
			due := a.DueDate
			if due == "" {
				due = "-"
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s |\n", i+1, cell(a.Item), cell(a.Owner), cell(due), a.Priority, a.Status)
		}
	}
	if n := m.Narration; !n.Empty() {
		b.WriteString("\n## Audio\n\n")
		for _, l := range []struct{ name, url string }{
			{"Summary", n.Summary},
			{"Key points", n.KeyPoints},
			{"Transcript", n.Transcript},
		} {
			if l.url != "" {
				fmt.Fprintf(&b, "- [%s](%s)\n", l.name, l.url)
			}
		}
	}
	if len(m.Transcript) > 0 {
		b.WriteString("\n## Transcript\n\n")
		for _, s := range m.Transcript {
			fmt.Fprintf(&b, "**%s** _%s_: %s\n\n", speakerOf(s), Timestamp(s.Start), s.Text)
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func writeMeta(b *strings.Builder, m *minutes.FinalMinutes, strong string) {
	line := func(label, value string) {
		if value == "" {
			return
		}
		if strong != "" {
			fmt.Fprintf(b, "%s%s:%s %s  \n", strong, label, strong, value)
			return
		}
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
	if !m.Date.IsZero() {
		line("Date", m.Date.Format(dateLayout))
	}
	line("Type", m.MeetingType)
	line("Location", m.Location)
	line("Participants", strings.Join(m.Participants, ", "))
}

// Timestamp formats seconds as mm:ss, or h:mm:ss from one hour.
func Timestamp(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func titleOf(m *minutes.FinalMinutes) string {
	if t := strings.TrimSpace(m.Title); t != "" {
		return t
	}
	return "Meeting Minutes"
}

func speakerOf(s minutes.TranscriptSegment) string {
	if s.Speaker == "" {
		return "Unknown"
	}
	return s.Speaker
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
